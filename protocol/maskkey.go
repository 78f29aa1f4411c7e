// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
package protocol

import "crypto/rand"

// newMaskKey draws a fresh random masking key for a client-role frame.
// Falls back to a non-random key only if the OS entropy source is
// unavailable, which in practice never happens on a supported platform.
func newMaskKey() [4]byte {
	var key [4]byte
	_, _ = rand.Read(key[:])
	return key
}
