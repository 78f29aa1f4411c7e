// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

// Package session provides a small per-connection key/value store, for
// stashing close reasons and other values the embedding application
// wants attached to a connection's lifetime.
package session

import "sync"

// Context is a thread-safe key/value store scoped to one connection.
// Adapted from the teacher's internal/session/context_store.go,
// trimmed to drop propagation flags and TTL expiry — this repo has no
// caller that needs either.
type Context struct {
	mu    sync.RWMutex
	store map[string]any
}

// NewContext returns an empty Context.
func NewContext() *Context {
	return &Context{store: make(map[string]any)}
}

// Set stores value under key, overwriting any prior value.
func (c *Context) Set(key string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.store[key] = value
}

// Get retrieves the value stored under key, if any.
func (c *Context) Get(key string) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.store[key]
	return v, ok
}

// Delete removes key, if present.
func (c *Context) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.store, key)
}

// Keys returns the currently stored keys, in no particular order.
func (c *Context) Keys() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	keys := make([]string, 0, len(c.store))
	for k := range c.store {
		keys = append(keys, k)
	}
	return keys
}

// Close reason keys used by wsconn.Driver to publish the final
// close status and error to the embedding application.
const (
	KeyCloseCode   = "ws.close.code"
	KeyCloseReason = "ws.close.reason"
	KeyReadError   = "ws.read.error"
)
