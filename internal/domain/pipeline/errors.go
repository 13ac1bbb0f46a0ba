package pipeline

import (
	"errors"
	"fmt"
)

// Sentinel kinds for pipeline errors.
var (
	// ErrMissingProject marks a context that reached the pipeline without
	// its project or organization. Fatal to that context only.
	ErrMissingProject = errors.New("event context has no project or organization")
	ErrInvalidStage   = errors.New("invalid stage registration")
	ErrStagePanic     = errors.New("stage panicked")
)

// StageError wraps a stage failure with the stage and event it hit.
type StageError struct {
	Stage   string
	Hook    string
	EventID string
	Err     error
}

func (e *StageError) Error() string {
	if e.EventID == "" {
		return fmt.Sprintf("stage %s %s: %v", e.Stage, e.Hook, e.Err)
	}
	return fmt.Sprintf("stage %s %s event %s: %v", e.Stage, e.Hook, e.EventID, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }
