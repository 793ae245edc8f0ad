package model

import (
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"futurecrop/internal/catalog"
	"futurecrop/internal/features"
)

// ErrHorizonOutOfRange indicates a requested horizon outside the configured
// bounds.
var ErrHorizonOutOfRange = errors.New("model: horizon out of range")

// Registry holds the active model snapshot. Swap is the single atomic update
// point: readers bind to one snapshot for the duration of a pipeline unit and
// see either the old or the new version, never a mix.
type Registry struct {
	active atomic.Pointer[Snapshot]
}

// NewRegistry returns an empty registry; Active falls back to the baseline
// until a trained snapshot is swapped in.
func NewRegistry() *Registry {
	return &Registry{}
}

// Swap installs a new active snapshot.
func (r *Registry) Swap(s *Snapshot) {
	r.active.Store(s)
}

// Active returns the trained snapshot, or nil when only the baseline exists.
func (r *Registry) Active() *Snapshot {
	return r.active.Load()
}

// Options bound predictor behaviour.
type Options struct {
	MinHorizonDays  int
	MaxHorizonDays  int
	RetrainInterval time.Duration
}

// Predictor serves forecasts from the registry's active snapshot, falling
// back to the per-commodity baseline before the first training run.
type Predictor struct {
	registry *Registry
	cat      *catalog.Catalog
	opts     Options
	now      func() time.Time
}

// NewPredictor constructs a predictor over the registry.
func NewPredictor(registry *Registry, cat *catalog.Catalog, opts Options) *Predictor {
	return &Predictor{registry: registry, cat: cat, opts: opts, now: time.Now}
}

// Predict binds one snapshot, validates the horizon, and emits a forecast.
// Snapshots past the retraining interval still serve, flagged stale.
func (p *Predictor) Predict(vec *features.Vector, horizonDays int) (Forecast, error) {
	if horizonDays < p.opts.MinHorizonDays || horizonDays > p.opts.MaxHorizonDays {
		return Forecast{}, fmt.Errorf("%w: %d not in [%d, %d]",
			ErrHorizonOutOfRange, horizonDays, p.opts.MinHorizonDays, p.opts.MaxHorizonDays)
	}

	snap := p.registry.Active()
	if snap == nil {
		class := catalog.VolatilityMedium
		if com, ok := p.cat.Commodity(vec.CommodityID); ok {
			class = com.Volatility
		}
		snap = Baseline(class)
	}

	fc, err := snap.Predict(vec, horizonDays)
	if err != nil {
		return Forecast{}, err
	}
	fc.Stale = snap.StaleAt(p.now(), p.opts.RetrainInterval)
	return fc, nil
}
