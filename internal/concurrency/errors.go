// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
package concurrency

import "errors"

// ErrExecutorClosed indicates the executor has been shut down and no
// longer accepts tasks.
var ErrExecutorClosed = errors.New("concurrency: executor is closed")
