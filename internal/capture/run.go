package capture

import (
	"time"

	"github.com/banshee-data/roomview/internal/config"
	"github.com/banshee-data/roomview/internal/planner"
)

// run owns everything that belongs to one trigger. Nothing here is shared
// with the orchestrator, so a later trigger always starts clean.
type run struct {
	id        string
	startedAt time.Time
	order     string
	state     State
	planned   int
	pending   []planner.Viewpoint
	results   []Result
}

func newRun(id string, startedAt time.Time, order string) *run {
	return &run{id: id, startedAt: startedAt, order: order, state: StateIdle}
}

func (r *run) push(vps []planner.Viewpoint) {
	r.pending = append(r.pending, vps...)
	r.planned += len(vps)
}

// pop removes the next viewpoint. The default order takes the most recently
// planned one first.
func (r *run) pop() (planner.Viewpoint, bool) {
	if len(r.pending) == 0 {
		return planner.Viewpoint{}, false
	}
	var vp planner.Viewpoint
	if r.order == config.DrainPlanned {
		vp = r.pending[0]
		r.pending = r.pending[1:]
	} else {
		last := len(r.pending) - 1
		vp = r.pending[last]
		r.pending = r.pending[:last]
	}
	return vp, true
}

func (r *run) report(finishedAt time.Time) *Report {
	return &Report{
		RunID:      r.id,
		State:      r.state,
		Planned:    r.planned,
		Results:    r.results,
		StartedAt:  r.startedAt,
		FinishedAt: finishedAt,
	}
}
