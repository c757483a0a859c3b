package errors

import "fmt"

// StageError is the terminal failure of a pipeline stage. It carries the
// stage name and the underlying cause, which stays inspectable via Is/As.
type StageError struct {
	Stage string
	Cause error
}

func (e *StageError) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("stage %s failed", e.Stage)
	}
	return fmt.Sprintf("stage %s failed: %v", e.Stage, e.Cause)
}

func (e *StageError) Unwrap() error { return e.Cause }

// NewStageError wraps cause as a failure of stage. An existing StageError
// is returned unchanged so the originating stage is preserved.
func NewStageError(stage string, cause error) error {
	var se *StageError
	if As(cause, &se) {
		return cause
	}
	return &StageError{Stage: stage, Cause: cause}
}

// StageOf returns the stage recorded on err, or "".
func StageOf(err error) string {
	var se *StageError
	if As(err, &se) {
		return se.Stage
	}
	return ""
}
