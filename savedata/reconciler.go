package savedata

import (
	"context"
	"sort"

	"github.com/samber/lo"
)

// Plan lists the copies a pass will perform. Names are sorted.
type Plan struct {
	Policy      Policy   `json:"policy"`
	ToVersioned []Record `json:"toVersioned,omitempty"`
	ToLegacy    []Record `json:"toLegacy,omitempty"`
	Unchanged   []string `json:"unchanged,omitempty"`
}

// Empty reports whether the plan performs no write.
func (p Plan) Empty() bool {
	return len(p.ToVersioned) == 0 && len(p.ToLegacy) == 0
}

func sortedRecords(m map[string]Record, names []string) []Record {
	out := make([]Record, 0, len(names))
	for _, name := range names {
		out = append(out, m[name])
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// PlanMigration copies every legacy entry to the versioned store.
func PlanMigration(legacy map[string]Record) Plan {
	return Plan{
		Policy:      PolicyMigrate,
		ToVersioned: sortedRecords(legacy, lo.Keys(legacy)),
	}
}

// PlanSync fills each side's gaps from the other. A name present on both
// sides is left alone whatever its contents.
func PlanSync(legacy, versioned map[string]Record) Plan {
	plan := Plan{Policy: PolicySync}
	var toVersioned, toLegacy []string
	for _, name := range lo.Union(lo.Keys(legacy), lo.Keys(versioned)) {
		_, inLegacy := legacy[name]
		_, inVersioned := versioned[name]
		switch {
		case inLegacy && !inVersioned:
			toVersioned = append(toVersioned, name)
		case inVersioned && !inLegacy:
			toLegacy = append(toLegacy, name)
		default:
			plan.Unchanged = append(plan.Unchanged, name)
		}
	}
	plan.ToVersioned = sortedRecords(legacy, toVersioned)
	plan.ToLegacy = sortedRecords(versioned, toLegacy)
	sort.Strings(plan.Unchanged)
	return plan
}

// Failure is one record that could not be copied.
type Failure struct {
	Name   string `json:"name"`
	Target string `json:"target"` // "legacy" or "versioned"
	Error  string `json:"error"`
}

// Result is the outcome of one pass.
type Result struct {
	PassID        string    `json:"passId,omitempty"`
	Mode          string    `json:"mode,omitempty"`
	Policy        Policy    `json:"policy"`
	ToVersioned   []string  `json:"toVersioned,omitempty"`
	ToLegacy      []string  `json:"toLegacy,omitempty"`
	Unchanged     int       `json:"unchanged"`
	Skipped       []string  `json:"skipped,omitempty"`
	Failures      []Failure `json:"failures,omitempty"`
	DurationMilli int64     `json:"durationMs"`
}

// OK reports whether every planned copy succeeded.
func (r Result) OK() bool {
	return len(r.Failures) == 0
}

// Reconciler applies plans to a pair of stores.
type Reconciler struct {
	legacy    LegacySide
	versioned VersionedSide
	observer  func(name, target string, err error)
}

// NewReconciler binds the two stores.
func NewReconciler(legacy LegacySide, versioned VersionedSide) *Reconciler {
	return &Reconciler{legacy: legacy, versioned: versioned}
}

func (r *Reconciler) fillLegacy(ctx context.Context, rec Record) (bool, error) {
	if r.legacy == nil {
		return false, ErrBackendUnavailable
	}
	return r.legacy.FillEntry(ctx, rec.Name, rec.Content)
}

func (r *Reconciler) observe(name, target string, err error) {
	if r.observer != nil {
		r.observer(name, target, err)
	}
}

// Apply performs the copies of plan. Versioned copies go in one batch,
// legacy copies one entry at a time; a failed copy never stops the others.
// Copies only fill gaps: a target that turns out to hold the name already
// is left alone and the name is reported in Skipped. An empty plan touches
// neither store.
func (r *Reconciler) Apply(ctx context.Context, plan Plan) Result {
	l := sub("reconciler")
	res := Result{Policy: plan.Policy, Unchanged: len(plan.Unchanged)}
	if plan.Empty() {
		l.Debug("nothing to apply", "policy", plan.Policy, "unchanged", len(plan.Unchanged))
		return res
	}

	if len(plan.ToVersioned) > 0 {
		if r.versioned == nil {
			for _, rec := range plan.ToVersioned {
				res.Failures = append(res.Failures, Failure{Name: rec.Name, Target: "versioned", Error: ErrBackendUnavailable.Error()})
				r.observe(rec.Name, "versioned", ErrBackendUnavailable)
			}
		} else {
			batch := r.versioned.WriteRecords(ctx, plan.ToVersioned)
			res.ToVersioned = append(res.ToVersioned, batch.Written...)
			res.Skipped = append(res.Skipped, batch.Skipped...)
			for _, name := range batch.Written {
				r.observe(name, "versioned", nil)
			}
			for _, rec := range plan.ToVersioned {
				if err, failed := batch.Failed[rec.Name]; failed {
					l.Warn("copy to versioned failed", "name", rec.Name, "err", err)
					res.Failures = append(res.Failures, Failure{Name: rec.Name, Target: "versioned", Error: err.Error()})
					r.observe(rec.Name, "versioned", err)
				}
			}
		}
	}

	for _, rec := range plan.ToLegacy {
		written, err := r.fillLegacy(ctx, rec)
		switch {
		case err != nil:
			l.Warn("copy to legacy failed", "name", rec.Name, "err", err)
			res.Failures = append(res.Failures, Failure{Name: rec.Name, Target: "legacy", Error: err.Error()})
			r.observe(rec.Name, "legacy", err)
		case !written:
			res.Skipped = append(res.Skipped, rec.Name)
		default:
			res.ToLegacy = append(res.ToLegacy, rec.Name)
			r.observe(rec.Name, "legacy", nil)
		}
	}
	sort.Strings(res.Skipped)

	l.Info("plan applied",
		"policy", plan.Policy,
		"toVersioned", len(res.ToVersioned),
		"toLegacy", len(res.ToLegacy),
		"unchanged", res.Unchanged,
		"skipped", len(res.Skipped),
		"failures", len(res.Failures))
	return res
}
