// Package reporterr classifies run failures. A run either fully completes
// or aborts on the first error; the kind tells the operator where to look.
package reporterr

import "fmt"

const (
	KindTransport = "transport_error"
	KindSnapshot  = "snapshot_io_error"
	KindOutput    = "output_io_error"
	KindLocked    = "run_locked"
	KindConfig    = "config_error"
)

// RunError wraps a job failure with its kind and the report it came from.
type RunError struct {
	Kind   string
	Report string
	Err    error
}

func (e *RunError) Error() string {
	if e.Report == "" {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: report %s: %v", e.Kind, e.Report, e.Err)
}

func (e *RunError) Unwrap() error { return e.Err }

// Transport wraps a network/API failure.
func Transport(report string, err error) *RunError {
	return &RunError{Kind: KindTransport, Report: report, Err: err}
}

// Snapshot wraps a snapshot read/write failure.
func Snapshot(report string, err error) *RunError {
	return &RunError{Kind: KindSnapshot, Report: report, Err: err}
}

// Output wraps an output-file write failure.
func Output(report string, err error) *RunError {
	return &RunError{Kind: KindOutput, Report: report, Err: err}
}
