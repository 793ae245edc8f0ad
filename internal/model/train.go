package model

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"futurecrop/internal/features"
	"futurecrop/internal/series"
)

// ErrNotEnoughExamples indicates the training set is too small to fit.
var ErrNotEnoughExamples = errors.New("model: not enough training examples")

const minTrainExamples = 20

// Example pairs a feature vector with the realized price at its horizon.
type Example struct {
	Vec         *features.Vector
	Outcome     float64
	HorizonDays int
}

// TrainOptions tune the deterministic gradient-descent fit.
type TrainOptions struct {
	Epochs    int
	LearnRate float64
}

// Trainer fits new snapshots offline. Training is a pure function from
// (feature, outcome) pairs to a snapshot; it never touches the serving path.
type Trainer struct {
	opts   TrainOptions
	logger zerolog.Logger
}

// NewTrainer constructs a trainer.
func NewTrainer(opts TrainOptions, logger zerolog.Logger) *Trainer {
	if opts.Epochs <= 0 {
		opts.Epochs = 500
	}
	if opts.LearnRate <= 0 {
		opts.LearnRate = 0.05
	}
	return &Trainer{opts: opts, logger: logger.With().Str("component", "trainer").Logger()}
}

// BuildTrainingSet walks historical as-of dates through a window, building a
// feature vector at each and pairing it with the realized price horizon days
// later. Each vector sees only data at or before its own as-of date, so the
// set is leakage-free by the same construction the serving path uses.
func BuildTrainingSet(win *series.Window, builder *features.Builder, horizonDays, stride int) []Example {
	if stride <= 0 {
		stride = 1
	}
	var out []Example
	for i := 0; i+horizonDays < win.Len(); i += stride {
		outcomeDay := win.Days[i+horizonDays]
		if outcomeDay.PriceImputed {
			continue
		}
		vec, err := builder.Build(win, win.Days[i].Date)
		if err != nil {
			continue
		}
		out = append(out, Example{
			Vec:         vec,
			Outcome:     outcomeDay.Price.InexactFloat64(),
			HorizonDays: horizonDays,
		})
	}
	return out
}

// Train fits a linear model of per-day relative price drift over standardized
// features using full-batch gradient descent with a fixed epoch count, then
// calibrates the interval scale from absolute residuals. Deterministic for a
// given input set.
func (t *Trainer) Train(examples []Example, trainedAt time.Time) (*Snapshot, error) {
	if len(examples) < minTrainExamples {
		return nil, fmt.Errorf("%w: have %d, need %d", ErrNotEnoughExamples, len(examples), minTrainExamples)
	}

	dim := len(examples[0].Vec.Values)
	names := examples[0].Vec.Names
	for _, ex := range examples {
		if len(ex.Vec.Values) != dim {
			return nil, fmt.Errorf("model: inconsistent feature width %d vs %d", len(ex.Vec.Values), dim)
		}
		if ex.Vec.AnchorPrice.IsZero() || ex.HorizonDays <= 0 {
			return nil, fmt.Errorf("model: invalid training example for %s/%s", ex.Vec.MarketID, ex.Vec.CommodityID)
		}
	}

	// Target: realized relative change per day.
	y := make([]float64, len(examples))
	for i, ex := range examples {
		anchor := ex.Vec.AnchorPrice.InexactFloat64()
		y[i] = (ex.Outcome/anchor - 1) / float64(ex.HorizonDays)
	}

	means, scales := standardize(examples, dim)
	x := make([][]float64, len(examples))
	for i, ex := range examples {
		row := make([]float64, dim)
		for j, v := range ex.Vec.Values {
			row[j] = (v - means[j]) / scales[j]
		}
		x[i] = row
	}

	weights := make([]float64, dim)
	intercept := 0.0
	n := float64(len(examples))
	for epoch := 0; epoch < t.opts.Epochs; epoch++ {
		gradW := make([]float64, dim)
		gradB := 0.0
		for i, row := range x {
			pred := intercept
			for j, w := range weights {
				pred += w * row[j]
			}
			err := pred - y[i]
			gradB += err
			for j := range gradW {
				gradW[j] += err * row[j]
			}
		}
		intercept -= t.opts.LearnRate * gradB / n
		for j := range weights {
			weights[j] -= t.opts.LearnRate * gradW[j] / n
		}
	}

	sigma, mae := calibrate(examples, x, weights, intercept)

	snap := &Snapshot{
		Version:      versionFor(trainedAt, weights, intercept),
		TrainedAt:    trainedAt.UTC(),
		FeatureNames: append([]string(nil), names...),
		Weights:      weights,
		Intercept:    intercept,
		Means:        means,
		Scales:       scales,
		SigmaRel:     sigma,
	}

	t.logger.Info().
		Str("version", snap.Version).
		Int("examples", len(examples)).
		Float64("train_mae_per_day", mae).
		Float64("sigma_rel", sigma).
		Msg("snapshot trained")

	return snap, nil
}

func standardize(examples []Example, dim int) (means, scales []float64) {
	means = make([]float64, dim)
	scales = make([]float64, dim)
	n := float64(len(examples))
	for _, ex := range examples {
		for j, v := range ex.Vec.Values {
			means[j] += v
		}
	}
	for j := range means {
		means[j] /= n
	}
	for _, ex := range examples {
		for j, v := range ex.Vec.Values {
			d := v - means[j]
			scales[j] += d * d
		}
	}
	for j := range scales {
		scales[j] = math.Sqrt(scales[j] / n)
		if scales[j] < 1e-9 {
			scales[j] = 1
		}
	}
	return means, scales
}

// calibrate returns the q90 of |residual|/sqrt(h) in relative terms, which
// Predict scales back by sqrt(horizon), plus the per-day MAE for logging.
func calibrate(examples []Example, x [][]float64, weights []float64, intercept float64) (sigma, mae float64) {
	resid := make([]float64, len(examples))
	for i, ex := range examples {
		drift := intercept
		for j, w := range weights {
			drift += w * x[i][j]
		}
		h := float64(ex.HorizonDays)
		anchor := ex.Vec.AnchorPrice.InexactFloat64()
		relTotal := ex.Outcome/anchor - 1
		errTotal := math.Abs(relTotal - drift*h)
		resid[i] = errTotal / math.Sqrt(h)
		mae += errTotal / h
	}
	mae /= float64(len(examples))

	sort.Float64s(resid)
	idx := int(math.Ceil(0.9*float64(len(resid)))) - 1
	if idx < 0 {
		idx = 0
	}
	// Guard against a degenerate zero band on constant series.
	sigma = resid[idx] / z90
	if sigma < 1e-6 {
		sigma = 1e-6
	}
	return sigma, mae
}
