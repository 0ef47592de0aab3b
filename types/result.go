package types

// ExecutionStatus is the outcome kind of an execution.
type ExecutionStatus int

const (
	StatusSuccess ExecutionStatus = iota
	StatusFailed
)

func (s ExecutionStatus) String() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// ExecutionResult is what the executor reports for a transaction. A failed
// result is a logical outcome, not a scheduling error.
type ExecutionResult struct {
	Status ExecutionStatus `json:"status"`
	Output []byte          `json:"output,omitempty"`
	Reason string          `json:"reason,omitempty"`
}

// Succeeded creates a successful result.
func Succeeded(output []byte) ExecutionResult {
	return ExecutionResult{Status: StatusSuccess, Output: output}
}

// Failed creates a failed result.
func Failed(reason string) ExecutionResult {
	return ExecutionResult{Status: StatusFailed, Reason: reason}
}

// IsSuccess reports whether the execution succeeded.
func (r ExecutionResult) IsSuccess() bool { return r.Status == StatusSuccess }
