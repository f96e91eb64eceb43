// Package runner implements the Single-Flight Runner of SPEC_FULL.md §4.4:
// coalescing concurrent refresh requests into a single in-flight
// UpdateFromServer call, grounded directly on golang.org/x/sync/singleflight
// — already present in the teacher's own module graph as an indirect
// dependency of its gossip/swim layers.
package runner

import (
	"context"

	"golang.org/x/sync/singleflight"

	"github.com/italia/drl-sync/pkg/drl"
)

// Updater is the subset of *syncengine.Engine the Runner drives. Declared
// here rather than imported to keep pkg/runner free of a hard dependency on
// pkg/syncengine's internals.
type Updater interface {
	UpdateFromServer(ctx context.Context) (drl.SyncStatus, error)
}

// Runner coalesces concurrent Trigger calls into a single underlying
// UpdateFromServer invocation: every caller that arrives while one is
// already in flight waits for and shares that same result, rather than
// starting a redundant download (spec.md §7).
type Runner struct {
	engine Updater
	group  singleflight.Group
}

// New builds a Runner over engine.
func New(engine Updater) *Runner {
	return &Runner{engine: engine}
}

// Trigger requests a refresh, joining an in-flight one if present. The
// returned SyncStatus and error are shared verbatim across every caller
// joined to the same flight.
func (r *Runner) Trigger(ctx context.Context) (drl.SyncStatus, error) {
	v, err, _ := r.group.Do("refresh", func() (interface{}, error) {
		return r.engine.UpdateFromServer(ctx)
	})
	if err != nil {
		return drl.SyncStatus{}, err
	}
	return v.(drl.SyncStatus), nil
}
