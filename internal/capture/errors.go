package capture

import (
	"errors"
	"fmt"
)

// ErrRunInProgress rejects a trigger while another run is still active.
var ErrRunInProgress = errors.New("capture run already in progress")

// Step names reported in StepError.
const (
	StepSetView     = "set_view"
	StepUpVector    = "set_up_vector"
	StepFocalLength = "set_focal_length"
	StepCapture     = "capture_image"
	StepVisibility  = "query_visible"
	StepWriteImage  = "write_image"
)

// StepError is one failed collaborator call while capturing a room. It is
// logged and never stops the drain.
type StepError struct {
	Room string
	Step string
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("room %q: %s: %v", e.Room, e.Step, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }
