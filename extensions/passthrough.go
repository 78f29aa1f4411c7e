// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
package extensions

import "github.com/momentics/hioload-wsdriver/api"

// Passthrough forwards every frame unmodified in both directions. It
// is the identity extension: registering zero extensions in a Chain
// and registering a lone Passthrough are observably equivalent, which
// makes it a convenient anchor point for tests exercising Chain
// composition.
type Passthrough struct{}

var _ Extension = Passthrough{}

func (Passthrough) Name() string { return "passthrough" }

func (Passthrough) SetPolicy(api.Policy) {}

func (Passthrough) IncomingFrame(f api.Frame, cb api.FrameCallback, next NextIncoming) {
	next(f, cb)
}

func (Passthrough) OutgoingFrame(f api.Frame, cb api.FrameCallback, mode api.BatchMode, next NextOutgoing) {
	next(f, cb, mode)
}
