package fusion

import (
	"errors"
	"fmt"
)

// ErrInvalidInput rejects a fused launch whose operands would need an
// implicit materializing copy, or whose vector line sizes disagree with the
// output iteration. Recoverable: the coordinator falls back to unfused
// execution.
var ErrInvalidInput = errors.New("fused matmul: invalid input")

// LaunchError wraps a kernel algorithm's own launch failure (unsupported
// configuration, missing hardware capability). Recoverable: the coordinator
// falls back to unfused execution.
type LaunchError struct {
	Err error
}

func (e *LaunchError) Error() string {
	return fmt.Sprintf("fused matmul launch: %v", e.Err)
}

func (e *LaunchError) Unwrap() error {
	return e.Err
}
