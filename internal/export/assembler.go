package export

import (
	"context"
	"errors"
	"slices"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/banshee-data/roomview/internal/capture"
	"github.com/banshee-data/roomview/internal/config"
	"github.com/banshee-data/roomview/internal/monitoring"
	"github.com/banshee-data/roomview/internal/viewer"
)

// Assembler resolves the properties of every room's visible objects and
// writes the result to its sinks once all lookups have finished.
type Assembler struct {
	db          viewer.ModelDatabase
	sinks       []Sink
	concurrency int
	timeout     time.Duration
	opts        viewer.BulkOptions
}

// NewAssembler creates an assembler over db. A nil cfg uses defaults.
func NewAssembler(db viewer.ModelDatabase, cfg *config.PipelineConfig, sinks ...Sink) *Assembler {
	if cfg == nil {
		cfg = config.EmptyPipelineConfig()
	}
	return &Assembler{
		db:          db,
		sinks:       sinks,
		concurrency: cfg.GetFetchConcurrency(),
		timeout:     cfg.GetStepTimeout(),
		opts:        viewer.BulkOptions{NeedsExternalID: false, IgnoreHidden: true},
	}
}

// Export implements capture.Exporter.
func (a *Assembler) Export(ctx context.Context, runID string, results []capture.Result) error {
	_, err := a.Assemble(ctx, runID, results)
	return err
}

// Assemble issues one bulk property fetch per result, concurrently, and
// dispatches the dataset to every sink when the last fetch completes. A
// failed fetch still counts as a completion; that room gets empty
// properties and its error set. The returned error joins sink failures.
// The input slice is not modified.
func (a *Assembler) Assemble(ctx context.Context, runID string, results []capture.Result) (Dataset, error) {
	ds := Dataset{RunID: runID, Results: make([]capture.Result, len(results))}
	for i, r := range results {
		r.DbIDsInView = slices.Clone(r.DbIDsInView)
		if r.DbIDsInView == nil {
			r.DbIDsInView = []viewer.ObjectID{}
		}
		r.Properties = []viewer.PropertyRecord{}
		ds.Results[i] = r
	}

	var sinkErr error
	tracker := newCompletionTracker(len(ds.Results), func() {
		monitoring.Logf("[Export] run %s: all %d property fetches complete", runID, len(ds.Results))
		sinkErr = a.dispatch(ctx, ds)
	})

	var g errgroup.Group
	if a.concurrency > 0 {
		g.SetLimit(a.concurrency)
	}
	for i := range ds.Results {
		g.Go(func() error {
			res := &ds.Results[i]
			recs, err := a.fetch(ctx, res.DbIDsInView)
			if err != nil {
				ferr := &PropertyFetchError{Room: res.Name, Err: err}
				monitoring.Logf("[Export] %v", ferr)
				if res.Error != "" {
					res.Error += "; " + ferr.Error()
				} else {
					res.Error = ferr.Error()
				}
			} else if recs != nil {
				res.Properties = recs
			}
			tracker.complete()
			return nil
		})
	}
	// Workers never return errors.
	_ = g.Wait()
	return ds, sinkErr
}

func (a *Assembler) fetch(ctx context.Context, ids []viewer.ObjectID) ([]viewer.PropertyRecord, error) {
	if a.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.timeout)
		defer cancel()
	}
	return a.db.BulkGetProperties(ctx, ids, a.opts)
}

// dispatch writes ds to every sink. One failing sink never stops the rest.
func (a *Assembler) dispatch(ctx context.Context, ds Dataset) error {
	var errs []error
	for _, s := range a.sinks {
		if err := s.WriteDataset(ctx, ds); err != nil {
			monitoring.Logf("[Export] sink %s: %v", s.Name(), err)
			errs = append(errs, err)
			continue
		}
		monitoring.Logf("[Export] sink %s wrote %d rooms", s.Name(), len(ds.Results))
	}
	return errors.Join(errs...)
}
