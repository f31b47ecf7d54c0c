package capture

import (
	"context"
	"time"

	"github.com/banshee-data/roomview/internal/viewer"
)

// Result is the outcome of capturing one room. Properties are filled in by
// the export assembler.
type Result struct {
	Name        string                  `json:"name"`
	DbIDsInView []viewer.ObjectID       `json:"dbIdsInView"`
	Properties  []viewer.PropertyRecord `json:"properties"`
	Error       string                  `json:"error,omitempty"`
	// ImagePath is where the screenshot was written, empty if the write
	// failed.
	ImagePath string `json:"-"`
}

// Report summarises a finished run.
type Report struct {
	RunID      string
	State      State
	Planned    int
	Results    []Result
	StartedAt  time.Time
	FinishedAt time.Time
}

// Exporter receives the results of a drained run.
type Exporter interface {
	Export(ctx context.Context, runID string, results []Result) error
}

// Recorder persists run lifecycle events. Errors are logged and do not
// affect the run.
type Recorder interface {
	RunStarted(ctx context.Context, runID string, at time.Time) error
	RunFinished(ctx context.Context, runID string, state State, at time.Time, runErr error) error
}
