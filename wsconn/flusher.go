// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Package wsconn implements the connection-scoped C6-C8 machinery: the
// read pump, the frame flusher, and the driver that wires them to the
// codec and extension chain.
package wsconn

import (
	"errors"
	"sync"

	"github.com/eapache/queue"

	"github.com/momentics/hioload-wsdriver/api"
	"github.com/momentics/hioload-wsdriver/pool"
	"github.com/momentics/hioload-wsdriver/protocol"
)

// FlusherState is the C7 flush-loop state.
type FlusherState int

const (
	FlusherIdle FlusherState = iota
	FlusherFlushing
	FlusherFailed
	FlusherClosed
)

// ErrFlusherClosed is delivered to every callback of a frame enqueued
// after Close.
var ErrFlusherClosed = errors.New("wsconn: flusher closed")

// defaultBatchLimit mirrors the teacher's Flusher, which hardcodes 8
// as the FrameFlusher batch bound (see
// AbstractWebSocketConnection.Flusher's constructor call in the
// Jetty source this package is grounded on).
const defaultBatchLimit = 8

type flushEntry struct {
	frame api.Frame
	cb    api.FrameCallback
	mode  api.BatchMode
}

// Flusher is the single-writer outgoing frame queue. Enqueue is safe
// from any goroutine; at most one flush turn runs at a time, driven by
// whichever Enqueue call transitions the flusher from idle to flushing.
type Flusher struct {
	mu    sync.Mutex
	state FlusherState
	q     *queue.Queue

	endpoint   api.Endpoint
	generator  api.Generator
	behavior   api.Behavior
	outBufCap  int
	batchLimit int

	entries *pool.SyncPool[*flushEntry]

	onFailure func(error)
}

// NewFlusher constructs a Flusher writing through endpoint, encoding
// with generator according to policy.
func NewFlusher(endpoint api.Endpoint, generator api.Generator, policy api.Policy, onFailure func(error)) *Flusher {
	cap := policy.OutputBufferSize
	if cap < protocol.MinBufferSize {
		cap = protocol.MinBufferSize
	}
	return &Flusher{
		q:          queue.New(),
		endpoint:   endpoint,
		generator:  generator,
		behavior:   policy.Behavior,
		outBufCap:  cap,
		batchLimit: defaultBatchLimit,
		entries:    pool.NewSyncPool(func() *flushEntry { return &flushEntry{} }),
		onFailure:  onFailure,
	}
}

// Enqueue implements the C7 contract: append to the FIFO and, if idle,
// run the flush loop on the calling goroutine.
func (f *Flusher) Enqueue(frame api.Frame, cb api.FrameCallback, mode api.BatchMode) {
	e := f.entries.Get()
	e.frame, e.cb, e.mode = frame, cb, mode

	f.mu.Lock()
	switch f.state {
	case FlusherFailed, FlusherClosed:
		err := f.terminalError()
		f.mu.Unlock()
		cb.Fail(err)
		f.releaseEntry(e)
		return
	}
	f.q.Add(e)
	start := f.state == FlusherIdle
	if start {
		f.state = FlusherFlushing
	}
	f.mu.Unlock()

	if start {
		f.runLoop()
	}
}

// releaseEntry clears an entry's references before returning it to the
// pool, so the pool never pins a frame or callback after its flush
// turn completes.
func (f *Flusher) releaseEntry(e *flushEntry) {
	*e = flushEntry{}
	f.entries.Put(e)
}

func (f *Flusher) terminalError() error {
	if f.state == FlusherClosed {
		return ErrFlusherClosed
	}
	return errors.New("wsconn: flusher failed")
}

// Close transitions the flusher to CLOSED, failing every pending entry
// with ErrFlusherClosed. Idempotent.
func (f *Flusher) Close() {
	f.mu.Lock()
	if f.state == FlusherClosed || f.state == FlusherFailed {
		f.mu.Unlock()
		return
	}
	f.state = FlusherClosed
	pending := f.drainAll()
	f.mu.Unlock()

	for _, e := range pending {
		e.cb.Fail(ErrFlusherClosed)
		f.releaseEntry(e)
	}
}

// State returns the current flusher state.
func (f *Flusher) State() FlusherState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *Flusher) runLoop() {
	for {
		f.mu.Lock()
		if f.q.Length() == 0 {
			f.state = FlusherIdle
			f.mu.Unlock()
			return
		}
		batch := f.drainBatch()
		f.mu.Unlock()

		if err := f.writeBatch(batch); err != nil {
			f.handleFailure(err, batch)
			return
		}
		for _, e := range batch {
			e.cb.Succeed()
			f.releaseEntry(e)
		}
	}
}

// drainBatch must be called with mu held. It pops up to batchLimit
// entries, stopping early if the accumulated encoded size would
// exceed outBufCap, or immediately after popping a BatchOff entry.
func (f *Flusher) drainBatch() []*flushEntry {
	var batch []*flushEntry
	total := 0
	for len(batch) < f.batchLimit && f.q.Length() > 0 {
		e := f.q.Peek().(*flushEntry)
		size := f.generator.MaxHeaderLength() + len(e.frame.Payload())
		if len(batch) > 0 && total+size > f.outBufCap {
			break
		}
		f.q.Remove()
		batch = append(batch, e)
		total += size
		if e.mode == api.BatchOff {
			break
		}
	}
	return batch
}

// drainAll must be called with mu held.
func (f *Flusher) drainAll() []*flushEntry {
	var all []*flushEntry
	for f.q.Length() > 0 {
		all = append(all, f.q.Remove().(*flushEntry))
	}
	return all
}

func (f *Flusher) writeBatch(batch []*flushEntry) error {
	if len(batch) == 0 {
		return nil
	}
	segments := make([][]byte, 0, len(batch)*2)
	for _, e := range batch {
		hdr, err := f.generator.HeaderBytes(e.frame)
		if err != nil {
			return err
		}
		payload := e.frame.Payload()
		if f.behavior == api.BehaviorClient && len(hdr) >= 4 {
			var key [4]byte
			copy(key[:], hdr[len(hdr)-4:])
			protocol.MaskPayload(payload, key)
		}
		segments = append(segments, hdr)
		if len(payload) > 0 {
			segments = append(segments, payload)
		}
	}
	complete, err := f.endpoint.Flush(segments...)
	if err != nil {
		return err
	}
	if !complete {
		return errShortWrite
	}
	return nil
}

// errShortWrite fails a batch the endpoint did not write in full; the
// flusher does not retry the unwritten remainder.
var errShortWrite = errors.New("wsconn: endpoint did not accept the whole batch")

func (f *Flusher) handleFailure(err error, batch []*flushEntry) {
	f.mu.Lock()
	f.state = FlusherFailed
	pending := f.drainAll()
	f.mu.Unlock()

	for _, e := range batch {
		e.cb.Fail(err)
		f.releaseEntry(e)
	}
	for _, e := range pending {
		e.cb.Fail(err)
		f.releaseEntry(e)
	}
	if f.onFailure != nil {
		f.onFailure(err)
	}
}
