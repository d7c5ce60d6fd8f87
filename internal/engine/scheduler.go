package engine

import (
	"context"

	"github.com/vk/pipegrid/internal/ctxlog"
	"github.com/vk/pipegrid/internal/events"
)

// runVersion executes every unit of one version. Units are queued once all
// their dependencies succeeded, so waiting units never hold a worker.
func (e *Engine) runVersion(ctx context.Context, vr *versionRun) {
	fields := events.Fields{PipelineID: vr.def.ID, Version: vr.graph.Version}
	ctx = ctxlog.With(ctx, "version", vr.graph.Version)
	ctx, span := events.Start(ctx, events.PhaseVersion, fields)
	logger := ctxlog.FromContext(ctx)
	logger.Debug("Version run started.", "units", len(vr.units))

	readyChan := make(chan *unit, len(vr.units))
	vr.wg.Add(len(vr.units))

	workers := min(e.cfg.Concurrency, max(len(vr.units), 1))
	done := make(chan struct{})
	for i := 0; i < workers; i++ {
		go func(workerID int) {
			e.worker(ctx, vr, readyChan, workerID)
		}(i)
	}
	go func() {
		vr.wg.Wait()
		close(readyChan)
		close(done)
	}()

	for _, u := range vr.units {
		if u.depCount.Load() == 0 {
			readyChan <- u
		}
	}
	<-done

	state := Completed
	for _, u := range vr.units {
		if !u.result.State.Succeeded() {
			state = Failed
			if u.result.State == Cancelled {
				state = Cancelled
			}
			break
		}
	}
	span.End(state.String(), nil)
	logger.Debug("Version run finished.", "state", state)
}

// worker is the processing loop of one worker of a version run.
func (e *Engine) worker(ctx context.Context, vr *versionRun, readyChan chan *unit, workerID int) {
	logger := ctxlog.FromContext(ctx)
	logger.Debug("Worker started.", "workerID", workerID)

	for u := range readyChan {
		workerLogger := logger.With("workerID", workerID, "route", u.route.ID)

		if ctx.Err() != nil || !e.acquire(ctx) {
			if e.settleSkipped(ctx, vr, u, Cancelled, ctx.Err()) {
				e.skipDependents(ctx, vr, u)
			}
			continue
		}

		workerLogger.Debug("Worker picked up unit for execution.")
		state, err := e.runUnit(ctx, vr, u)
		e.release()

		if !state.Succeeded() {
			workerLogger.Debug("Unit did not succeed.", "state", state, "error", err)
			e.skipDependents(ctx, vr, u)
			vr.wg.Done()
			continue
		}

		for _, dependent := range u.dependents {
			if dependent.depCount.Add(-1) == 0 {
				workerLogger.Debug("Unlocking dependent unit.", "dependent", dependent.route.ID)
				readyChan <- dependent
			}
		}
		vr.wg.Done()
	}
	logger.Debug("Worker finished.", "workerID", workerID)
}

// acquire takes one of the engine-wide concurrency slots.
func (e *Engine) acquire(ctx context.Context) bool {
	select {
	case e.slots <- struct{}{}:
		return true
	case <-ctx.Done():
		return false
	}
}

func (e *Engine) release() {
	<-e.slots
}

// skipDependents settles every transitive dependent of u, which did not
// succeed. Dependents of a cancelled unit are cancelled, all others fail.
func (e *Engine) skipDependents(ctx context.Context, vr *versionRun, u *unit) {
	for _, dependent := range u.dependents {
		state := Failed
		if u.result.State == Cancelled || ctx.Err() != nil {
			state = Cancelled
		}
		err := &UpstreamError{RouteID: dependent.route.ID, Upstream: u.route.ID, State: u.result.State, Err: u.result.Err}
		if e.settleSkipped(ctx, vr, dependent, state, err) {
			e.skipDependents(ctx, vr, dependent)
		}
	}
}

// settleSkipped moves a unit that never ran into a terminal state. It
// returns false if the unit had already been settled.
func (e *Engine) settleSkipped(ctx context.Context, vr *versionRun, u *unit, state State, err error) bool {
	var settled bool
	u.skipOnce.Do(func() {
		if !u.transition(Pending, state) {
			return
		}
		u.result.State = state
		u.result.Err = err
		events.Emit(ctx, events.Error, u.fields, err)
		ctxlog.FromContext(ctx).Debug("Unit skipped.", "route", u.route.ID, "state", state, "reason", err)
		vr.wg.Done()
		settled = true
	})
	return settled
}
