// Package export joins capture results with the properties of every visible
// object and hands the combined dataset to the configured sinks.
package export

import (
	"context"
	"fmt"

	"github.com/banshee-data/roomview/internal/capture"
)

// Dataset is the assembled export of one run, in drain order.
type Dataset struct {
	RunID   string
	Results []capture.Result
}

// Sink persists a finished dataset.
type Sink interface {
	Name() string
	WriteDataset(ctx context.Context, ds Dataset) error
}

// PropertyFetchError is a failed bulk property lookup for one room. The
// room is exported with empty properties.
type PropertyFetchError struct {
	Room string
	Err  error
}

func (e *PropertyFetchError) Error() string {
	return fmt.Sprintf("fetch properties for room %q: %v", e.Room, e.Err)
}

func (e *PropertyFetchError) Unwrap() error { return e.Err }
