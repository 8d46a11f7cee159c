package savedata

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	gosync "sync"
	"time"

	"github.com/google/uuid"
	"github.com/marusama/semaphore/v2"
)

var (
	// ErrPassInProgress is returned when a pass is requested while another
	// one is still running on the same Runner.
	ErrPassInProgress = errors.New("a reconciliation pass is already running")

	// ErrPassPanicked wraps a panic recovered from inside a pass.
	ErrPassPanicked = errors.New("reconciliation pass panicked")
)

// Pass identifies one run of the Runner.
type Pass struct {
	ID      string
	Mode    Mode
	Started time.Time
}

// Runner executes reconciliation passes between two stores, one at a time.
type Runner struct {
	legacy    LegacySide
	versioned VersionedSide
	sem       semaphore.Semaphore
	bus       *EventBus
	metrics   *Metrics

	mu   gosync.Mutex
	last *Result
}

// Option configures a Runner.
type Option func(*Runner)

// WithEventBus publishes pass progress on bus.
func WithEventBus(bus *EventBus) Option {
	return func(r *Runner) { r.bus = bus }
}

// WithMetrics records pass metrics on m.
func WithMetrics(m *Metrics) Option {
	return func(r *Runner) { r.metrics = m }
}

// NewRunner creates a Runner. Either side may be nil, in which case it
// reads as empty and rejects writes.
func NewRunner(legacy LegacySide, versioned VersionedSide, opts ...Option) *Runner {
	r := &Runner{
		legacy:    legacy,
		versioned: versioned,
		sem:       semaphore.New(1),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// RunMigration copies legacy saves into an empty versioned store. It does
// nothing when the versioned store already holds save data.
func (r *Runner) RunMigration(ctx context.Context) (Result, error) {
	return r.Run(ctx, ModeMigrate)
}

// RunSync fills the gaps of each store from the other.
func (r *Runner) RunSync(ctx context.Context) (Result, error) {
	return r.Run(ctx, ModeSync)
}

// LastResult returns the result of the most recent finished pass.
func (r *Runner) LastResult() (Result, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.last == nil {
		return Result{}, false
	}
	return *r.last, true
}

// Run performs one pass in the given mode. Per-record failures are reported
// in the Result; an error means the pass itself did not complete. Records
// committed before a failure stay committed.
func (r *Runner) Run(ctx context.Context, mode Mode) (res Result, err error) {
	if !r.sem.TryAcquire(1) {
		sub("runner").Warn("pass rejected, another pass is running", "mode", mode)
		if r.metrics != nil {
			r.metrics.PassesTotal.WithLabelValues("", "busy").Inc()
		}
		return Result{}, ErrPassInProgress
	}
	defer r.sem.Release(1)

	pass := Pass{ID: uuid.NewString(), Mode: mode, Started: nowFunc()}
	l := sub("runner").With("pass", pass.ID)
	res = Result{PassID: pass.ID, Mode: mode.String()}

	defer func() {
		if rec := recover(); rec != nil {
			l.Error("pass panicked", "mode", mode, "panic", rec, "stack", string(debug.Stack()))
			err = fmt.Errorf("%w: %v", ErrPassPanicked, rec)
		}
		elapsed := nowFunc().Sub(pass.Started)
		res.DurationMilli = elapsed.Milliseconds()

		outcome := "ok"
		switch {
		case err != nil:
			outcome = "failed"
		case !res.OK():
			outcome = "partial"
		}
		r.metrics.observePass(res.Policy.String(), outcome, elapsed)
		ev := PassEvent{Type: EventPassFinished, PassID: pass.ID, Policy: res.Policy.String(), Status: outcome}
		if err != nil {
			ev.Error = err.Error()
		}
		r.bus.Publish(ev)
		r.remember(res)
	}()

	l.Info("pass starting", "mode", mode)
	r.bus.Publish(PassEvent{Type: EventPassStarted, PassID: pass.ID, Status: mode.String()})

	has := r.versioned != nil && r.versioned.HasSaveData(ctx)
	policy := DecidePolicy(mode, has)
	res.Policy = policy
	l.Info("policy decided", "mode", mode, "hasVersionedData", has, "policy", policy)

	var plan Plan
	switch policy {
	case PolicyNoop:
		l.Info("versioned store already holds save data, migration skipped")
		return res, nil
	case PolicyMigrate:
		plan = PlanMigration(r.listLegacy(ctx))
	case PolicySync:
		snap := Discover(ctx, r.legacy, r.versioned)
		plan = PlanSync(snap.Legacy, snap.Versioned)
	}
	l.Debug("plan built", "toVersioned", len(plan.ToVersioned), "toLegacy", len(plan.ToLegacy), "unchanged", len(plan.Unchanged))

	rc := NewReconciler(r.legacy, r.versioned)
	rc.observer = func(name, target string, cerr error) {
		r.metrics.observeCopy(target, cerr)
		ev := PassEvent{Type: EventRecordCopied, PassID: pass.ID, Policy: policy.String(), Name: name, Target: target}
		if cerr != nil {
			ev.Type = EventRecordFailed
			ev.Error = cerr.Error()
		}
		r.bus.Publish(ev)
	}

	applied := rc.Apply(ctx, plan)
	applied.PassID, applied.Mode = res.PassID, res.Mode
	res = applied

	l.Info("pass finished",
		"policy", policy,
		"toVersioned", len(res.ToVersioned),
		"toLegacy", len(res.ToLegacy),
		"failures", len(res.Failures))
	return res, nil
}

func (r *Runner) listLegacy(ctx context.Context) map[string]Record {
	if r.legacy == nil {
		return nil
	}
	entries, err := r.legacy.ListSaveEntries(ctx)
	if err != nil {
		sub("runner").Warn("legacy listing failed, treating as empty", "err", err)
		return nil
	}
	return entries
}

func (r *Runner) remember(res Result) {
	r.mu.Lock()
	r.last = &res
	r.mu.Unlock()
}
