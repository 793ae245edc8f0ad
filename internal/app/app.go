package app

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"futurecrop/internal/alerting"
	"futurecrop/internal/config"
	"futurecrop/internal/features"
	"futurecrop/internal/model"
	"futurecrop/internal/pipeline"
	"futurecrop/internal/scheduler"
	"futurecrop/internal/series"
	"futurecrop/internal/storage"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger()}
}

func (a *App) openStore(ctx context.Context) (*storage.Store, func(), error) {
	if a.Config.Database.DSN == "" {
		return nil, nil, errors.New("database.dsn not configured")
	}

	pool, err := storage.NewPool(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}

	store := storage.NewStore(pool)
	closer := func() {
		store.Close()
	}
	return store, closer, nil
}

// loadRegistry binds the serving registry to the latest persisted snapshot.
// Without one, the per-commodity baseline serves until the first training run.
func (a *App) loadRegistry(ctx context.Context, store storage.SnapshotStore) *model.Registry {
	registry := model.NewRegistry()
	snap, err := store.LatestSnapshot(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			a.Logger.Warn().Msg("no trained model version; serving baseline forecasts")
			return registry
		}
		a.Logger.Error().Err(err).Msg("failed to load model snapshot; serving baseline forecasts")
		return registry
	}
	registry.Swap(snap)
	a.Logger.Info().Str("version", snap.Version).Time("trained_at", snap.TrainedAt).Msg("model snapshot loaded")
	return registry
}

// refreshRegistry activates snapshots trained since the last batch. The swap
// is atomic and readers bind one snapshot per unit, so a running service
// picks retrained models up without interrupting serving.
func (a *App) refreshRegistry(ctx context.Context, store storage.SnapshotStore, registry *model.Registry) {
	snap, err := store.LatestSnapshot(ctx)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			a.Logger.Error().Err(err).Msg("failed to refresh model snapshot; keeping current version")
		}
		return
	}
	if active := registry.Active(); active != nil && active.Version == snap.Version {
		return
	}
	registry.Swap(snap)
	a.Logger.Info().Str("version", snap.Version).Time("trained_at", snap.TrainedAt).Msg("model snapshot activated")
}

func (a *App) newBuilder() *features.Builder {
	return features.NewBuilder(features.Options{
		Lags:           a.Config.Features.Lags,
		RollingWindows: a.Config.Features.RollingWindows,
		SeasonalDays:   a.Config.Features.SeasonalDays,
	})
}

func (a *App) newAdapter(store series.Source) *series.Adapter {
	return series.NewAdapter(store, series.Options{
		MinObservations: a.Config.Series.MinObservations,
		MaxGapDays:      a.Config.Series.MaxGapDays,
		FetchTimeout:    a.Config.Series.FetchTimeout,
	}, a.Logger)
}

func (a *App) newRunner(store *storage.Store, registry *model.Registry) *pipeline.Runner {
	predictor := model.NewPredictor(registry, &a.Config.Catalog, model.Options{
		MinHorizonDays:  a.Config.Model.MinHorizonDays,
		MaxHorizonDays:  a.Config.Model.MaxHorizonDays,
		RetrainInterval: a.Config.Model.RetrainInterval,
	})

	engine := alerting.NewEngine(store, a.Logger)

	return pipeline.NewRunner(
		&a.Config.Catalog,
		a.newAdapter(store),
		a.newBuilder(),
		predictor,
		store,
		engine,
		pipeline.Options{
			LookbackDays:   a.Config.Series.LookbackDays,
			HorizonDays:    a.Config.Model.HorizonDays,
			PredictTimeout: a.Config.Model.PredictTimeout,
		},
		a.Logger,
	)
}

func (a *App) newDriver(runner *pipeline.Runner, locker storage.AdvisoryLocker) *pipeline.Driver {
	return pipeline.NewDriver(runner, &a.Config.Catalog, pipeline.DriverOptions{
		Parallelism:     a.Config.Pipeline.Parallelism,
		MaxRetries:      a.Config.Pipeline.MaxRetries,
		InitialBackoff:  a.Config.Pipeline.InitialBackoff,
		MaxBackoff:      a.Config.Pipeline.MaxBackoff,
		AdvisoryLockKey: a.Config.Scheduler.AdvisoryLockKey,
	}, locker, a.Logger)
}

// Run executes the long-running scheduled batch service.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	registry := a.loadRegistry(ctx, store)
	runner := a.newRunner(store, registry)
	driver := a.newDriver(runner, store)

	sched := scheduler.New(scheduler.Options{
		Interval:     a.Config.Scheduler.Interval,
		AlignToStart: a.Config.Scheduler.AlignToBucket,
		StartupDelay: a.Config.Scheduler.StartupDelay,
	}, a.Logger)

	a.Logger.Info().Int("units", len(a.Config.Catalog.Pairs())).Msg("starting forecast batch service")
	err = sched.Run(ctx, func(ctx context.Context, runDate time.Time) error {
		a.refreshRegistry(ctx, store, registry)
		_, runErr := driver.Run(ctx, runDate)
		return runErr
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("service terminated with error")
		return err
	}

	a.Logger.Info().Msg("forecast batch service stopped")
	return nil
}

// RunOnceOptions configure a single batch invocation.
type RunOnceOptions struct {
	RunDate    time.Time
	InitSchema bool
}

// RunOnce executes one batch for the given run date and reports the summary.
func (a *App) RunOnce(ctx context.Context, opts RunOnceOptions) (pipeline.Summary, error) {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return pipeline.Summary{}, err
	}
	defer closeStore()

	if opts.InitSchema {
		if err := store.EnsureSchema(ctx); err != nil {
			return pipeline.Summary{}, err
		}
	}

	registry := a.loadRegistry(ctx, store)
	runner := a.newRunner(store, registry)
	driver := a.newDriver(runner, store)

	return driver.Run(ctx, opts.RunDate)
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Limit  int
	Alerts bool
}

// ExportOptions hold parameters for exporting a unit's history and forecast.
type ExportOptions struct {
	MarketID    string
	CommodityID string
	From        *time.Time
	To          *time.Time
	CSVPath     string
	PNGPath     string
	MaxPoints   int
}

// RankOptions configure the rank command.
type RankOptions struct {
	CommodityID string
	Latitude    float64
	Longitude   float64
	HorizonDays int
}

// TrainOptions configure offline retraining.
type TrainOptions struct {
	AsOf        time.Time
	HorizonDays int
	Stride      int
}
