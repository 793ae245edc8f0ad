package model

import (
	"fmt"
	"hash/fnv"
	"math"
	"time"

	"github.com/shopspring/decimal"

	"futurecrop/internal/catalog"
	"futurecrop/internal/features"
)

// BaselineVersion marks forecasts produced before any trained snapshot
// exists.
const BaselineVersion = "baseline-v0"

// z90 is the two-sided 90% normal quantile used for the confidence band.
const z90 = 1.645

// maxDailyDrift clamps the per-day relative drift the linear score can emit.
const maxDailyDrift = 0.10

// Forecast is one immutable price prediction. Later forecasts with the same
// (market, commodity, issue date, horizon) supersede earlier ones; nothing
// mutates a stored forecast.
type Forecast struct {
	MarketID       string
	CommodityID    string
	IssueDate      time.Time
	HorizonDays    int
	PredictedPrice decimal.Decimal
	ConfidenceLow  decimal.Decimal
	ConfidenceHigh decimal.Decimal
	ModelVersion   string
	Stale          bool
}

// Snapshot is an immutable, versioned regressor. A nil weight slice marks the
// cold-start baseline, which predicts a small upward seasonal drift with a
// volatility-class uncertainty band.
type Snapshot struct {
	Version      string    `json:"version"`
	TrainedAt    time.Time `json:"trained_at"`
	FeatureNames []string  `json:"feature_names"`
	Weights      []float64 `json:"weights"`
	Intercept    float64   `json:"intercept"`
	Means        []float64 `json:"means"`
	Scales       []float64 `json:"scales"`
	// SigmaRel is the calibrated per-sqrt-day relative residual scale.
	SigmaRel float64 `json:"sigma_rel"`
}

// classSigma maps volatility classes to a monthly relative sigma, following
// the rough crop categories of the legacy predictor.
var classSigma = map[catalog.VolatilityClass]float64{
	catalog.VolatilityLow:    0.02,
	catalog.VolatilityMedium: 0.06,
	catalog.VolatilityHigh:   0.12,
}

// Baseline returns the deterministic cold-start snapshot for a volatility
// class.
func Baseline(class catalog.VolatilityClass) *Snapshot {
	monthly, ok := classSigma[class]
	if !ok {
		monthly = classSigma[catalog.VolatilityMedium]
	}
	return &Snapshot{
		Version:  BaselineVersion,
		SigmaRel: monthly / math.Sqrt(30),
	}
}

// IsBaseline reports whether the snapshot is the cold-start fallback.
func (s *Snapshot) IsBaseline() bool {
	return len(s.Weights) == 0
}

// StaleAt reports whether the snapshot is older than the retraining interval.
// The baseline has no training age and is always considered stale.
func (s *Snapshot) StaleAt(now time.Time, retrainInterval time.Duration) bool {
	if retrainInterval <= 0 {
		return false
	}
	if s.IsBaseline() {
		return true
	}
	return now.Sub(s.TrainedAt) > retrainInterval
}

// Predict maps a feature vector to a forecast for the given horizon. The
// result is a pure function of (vector, snapshot, horizon): repeated calls
// yield identical forecasts.
func (s *Snapshot) Predict(vec *features.Vector, horizonDays int) (Forecast, error) {
	anchor := vec.AnchorPrice.InexactFloat64()
	if anchor <= 0 {
		return Forecast{}, fmt.Errorf("model: anchor price must be positive, got %s", vec.AnchorPrice)
	}

	drift, err := s.dailyDrift(vec)
	if err != nil {
		return Forecast{}, err
	}

	h := float64(horizonDays)
	point := anchor * (1 + drift*h)
	if point < 0.01 {
		point = 0.01
	}

	half := anchor * z90 * s.SigmaRel * math.Sqrt(h)
	low := point - half
	if low < 0.01 {
		low = 0.01
	}
	high := point + half

	return Forecast{
		MarketID:       vec.MarketID,
		CommodityID:    vec.CommodityID,
		IssueDate:      vec.AsOf,
		HorizonDays:    horizonDays,
		PredictedPrice: decimal.NewFromFloat(point).Round(2),
		ConfidenceLow:  decimal.NewFromFloat(low).Round(2),
		ConfidenceHigh: decimal.NewFromFloat(high).Round(2),
		ModelVersion:   s.Version,
	}, nil
}

func (s *Snapshot) dailyDrift(vec *features.Vector) (float64, error) {
	if s.IsBaseline() {
		// Legacy rule: slight upward bias of about 1% per month.
		return 0.01 / 30, nil
	}

	if len(vec.Values) != len(s.Weights) {
		return 0, fmt.Errorf("model: vector has %d features, snapshot %s expects %d",
			len(vec.Values), s.Version, len(s.Weights))
	}
	for i, name := range s.FeatureNames {
		if vec.Names[i] != name {
			return 0, fmt.Errorf("model: feature %d is %q, snapshot %s expects %q",
				i, vec.Names[i], s.Version, name)
		}
	}

	drift := s.Intercept
	for i, w := range s.Weights {
		z := (vec.Values[i] - s.Means[i]) / s.Scales[i]
		drift += w * z
	}

	if drift > maxDailyDrift {
		drift = maxDailyDrift
	}
	if drift < -maxDailyDrift {
		drift = -maxDailyDrift
	}
	return drift, nil
}

func versionFor(trainedAt time.Time, weights []float64, intercept float64) string {
	h := fnv.New32a()
	for _, w := range append(append([]float64{}, weights...), intercept) {
		fmt.Fprintf(h, "%.12g,", w)
	}
	return fmt.Sprintf("m%s-%08x", trainedAt.UTC().Format("20060102150405"), h.Sum32())
}
