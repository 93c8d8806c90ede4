// Package validity runs the periodic freshness sweep: a unit's LAN path is
// valid while an update arrived within the configured timeout, and the
// combined flag is the OR of the two paths. Validity is advisory state for
// monitoring consumers; it never blocks or rejects writes.
package validity

import (
	"context"
	"time"

	"pcs-simulator/internal/logging"
	"pcs-simulator/internal/observability"
	"pcs-simulator/internal/store"
)

// Transition is one unit whose validity flag flipped during a sweep.
type Transition struct {
	LogicalID uint16
	Lan       store.LAN
	Valid     bool
	At        time.Time
}

// SweepResult aggregates one pass over all units.
type SweepResult struct {
	NewlyValid   []Transition
	NewlyInvalid []Transition

	Lan1Valid, Lan1Invalid         int
	Lan2Valid, Lan2Invalid         int
	CombinedValid, CombinedInvalid int
}

// TransitionSink receives validity transitions, e.g. the history recorder.
type TransitionSink interface {
	RecordTransition(Transition)
}

// Engine owns the sweep schedule.
type Engine struct {
	store    *store.Store
	timeout  time.Duration
	interval time.Duration
	log      logging.Logger
	metrics  *observability.Collector
	sink     TransitionSink
}

// New builds an engine. sink may be nil.
func New(st *store.Store, timeout, interval time.Duration, log logging.Logger, metrics *observability.Collector, sink TransitionSink) *Engine {
	return &Engine{store: st, timeout: timeout, interval: interval, log: log, metrics: metrics, sink: sink}
}

// Run sweeps until the context is canceled, finishing the pass in flight.
func (e *Engine) Run(ctx context.Context) {
	e.log.Info("validity engine started",
		logging.Any("interval", e.interval),
		logging.Any("timeout", e.timeout))

	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			e.log.Info("validity engine stopped")
			return
		case now := <-ticker.C:
			res := e.SweepOnce(now)
			e.report(res)
		}
	}
}

// SweepOnce recomputes per-LAN and combined validity for every unit.
func (e *Engine) SweepOnce(now time.Time) SweepResult {
	var res SweepResult
	for _, id := range e.store.IDs() {
		lanValid := [2]bool{}
		for i, lan := range []store.LAN{store.LAN1, store.LAN2} {
			lastSeen, err := e.store.LastSeen(id, lan)
			if err != nil {
				continue
			}
			valid := !lastSeen.IsZero() && now.Sub(lastSeen) < e.timeout
			lanValid[i] = valid

			changed, err := e.store.MarkValidity(id, lan, valid)
			if err != nil || !changed {
				continue
			}
			tr := Transition{LogicalID: id, Lan: lan, Valid: valid, At: now}
			if valid {
				res.NewlyValid = append(res.NewlyValid, tr)
			} else {
				res.NewlyInvalid = append(res.NewlyInvalid, tr)
			}
			if e.sink != nil {
				e.sink.RecordTransition(tr)
			}
		}
		// redundancy: trust the data while either path is fresh
		combined := lanValid[0] || lanValid[1]
		_ = e.store.MarkCombined(id, combined)

		count(&res.Lan1Valid, &res.Lan1Invalid, lanValid[0])
		count(&res.Lan2Valid, &res.Lan2Invalid, lanValid[1])
		count(&res.CombinedValid, &res.CombinedInvalid, combined)
	}
	return res
}

func count(valid, invalid *int, ok bool) {
	if ok {
		*valid++
	} else {
		*invalid++
	}
}

func (e *Engine) report(res SweepResult) {
	for _, tr := range res.NewlyInvalid {
		e.log.Warn("unit became invalid",
			logging.Uint16("logical_id", tr.LogicalID),
			logging.String("lan", tr.Lan.String()))
	}
	for _, tr := range res.NewlyValid {
		e.log.Info("unit recovered",
			logging.Uint16("logical_id", tr.LogicalID),
			logging.String("lan", tr.Lan.String()))
	}

	e.metrics.SetValidity("lan1", res.Lan1Valid, res.Lan1Invalid)
	e.metrics.SetValidity("lan2", res.Lan2Valid, res.Lan2Invalid)
	e.metrics.SetValidity("combined", res.CombinedValid, res.CombinedInvalid)

	e.log.Debug("validity sweep complete",
		logging.Int("lan1_valid", res.Lan1Valid),
		logging.Int("lan1_invalid", res.Lan1Invalid),
		logging.Int("lan2_valid", res.Lan2Valid),
		logging.Int("lan2_invalid", res.Lan2Invalid))
}
