package matmul

import "fmt"

// AvailabilityReason identifies which hardware capability a launch needed
// and could not get.
type AvailabilityReason int

const (
	// PlaneDimUnknown means the device cannot report its group-scheduling
	// granularity, which plane-cooperative algorithms require.
	PlaneDimUnknown AvailabilityReason = iota
	// TensorCoresUnavailable means the algorithm needs a tensor-core-class
	// unit the device does not have.
	TensorCoresUnavailable
)

func (r AvailabilityReason) String() string {
	switch r {
	case PlaneDimUnknown:
		return "plane dimension unknown"
	case TensorCoresUnavailable:
		return "tensor cores unavailable"
	}
	return fmt.Sprintf("availability reason %d", int(r))
}

// UnavailableError reports that a required hardware capability is missing.
// It is recoverable: callers fall back to an unfused execution path.
type UnavailableError struct {
	Reason AvailabilityReason
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("matmul kernel unavailable: %s", e.Reason)
}

// InvalidConfigError reports that an algorithm rejected the launch
// configuration it was handed. Recoverable.
type InvalidConfigError struct {
	Algorithm string
	Reason    string
}

func (e *InvalidConfigError) Error() string {
	return fmt.Sprintf("invalid %s kernel configuration: %s", e.Algorithm, e.Reason)
}
