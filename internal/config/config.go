package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"

	"futurecrop/internal/catalog"
	"futurecrop/internal/logging"
)

// Config materialises application configuration.
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Logging   logging.Config  `mapstructure:"logging"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Series    SeriesConfig    `mapstructure:"series"`
	Features  FeaturesConfig  `mapstructure:"features"`
	Model     ModelConfig     `mapstructure:"model"`
	Transport TransportConfig `mapstructure:"transport"`
	Pipeline  PipelineConfig  `mapstructure:"pipeline"`
	Export    ExportConfig    `mapstructure:"export"`
	Catalog   catalog.Catalog `mapstructure:"catalog"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// DatabaseConfig encapsulates PostgreSQL connectivity.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// SchedulerConfig governs the daily batch cadence.
type SchedulerConfig struct {
	Interval        time.Duration `mapstructure:"interval"`
	AlignToBucket   bool          `mapstructure:"align_to_bucket"`
	AdvisoryLockKey int64         `mapstructure:"advisory_lock_key"`
	StartupDelay    time.Duration `mapstructure:"startup_delay"`
}

// SeriesConfig tunes window fetching and imputation.
type SeriesConfig struct {
	LookbackDays    int           `mapstructure:"lookback_days"`
	MinObservations int           `mapstructure:"min_observations"`
	MaxGapDays      int           `mapstructure:"max_gap_days"`
	FetchTimeout    time.Duration `mapstructure:"fetch_timeout"`
}

// FeaturesConfig fixes the feature layout.
type FeaturesConfig struct {
	Lags           []int `mapstructure:"lags"`
	RollingWindows []int `mapstructure:"rolling_windows"`
	SeasonalDays   int   `mapstructure:"seasonal_days"`
}

// ModelConfig bounds forecasting and retraining behaviour.
type ModelConfig struct {
	MinHorizonDays  int           `mapstructure:"min_horizon_days"`
	MaxHorizonDays  int           `mapstructure:"max_horizon_days"`
	HorizonDays     []int         `mapstructure:"horizon_days"`
	RetrainInterval time.Duration `mapstructure:"retrain_interval"`
	PredictTimeout  time.Duration `mapstructure:"predict_timeout"`
	TrainEpochs     int           `mapstructure:"train_epochs"`
	TrainLearnRate  float64       `mapstructure:"train_learn_rate"`
}

// TransportConfig parameterises the comparator's cost estimate.
type TransportConfig struct {
	PerKmRate   float64 `mapstructure:"per_km_rate"`
	HandlingFee float64 `mapstructure:"handling_fee"`
}

// PipelineConfig governs batch execution.
type PipelineConfig struct {
	Parallelism    int           `mapstructure:"parallelism"`
	MaxRetries     int           `mapstructure:"max_retries"`
	InitialBackoff time.Duration `mapstructure:"initial_backoff"`
	MaxBackoff     time.Duration `mapstructure:"max_backoff"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxDataPoints int `mapstructure:"max_data_points"`
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("FUTURECROP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "futurecrop")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("scheduler.interval", "24h")
	v.SetDefault("scheduler.align_to_bucket", true)
	v.SetDefault("scheduler.advisory_lock_key", int64(0x66637270))
	v.SetDefault("scheduler.startup_delay", "0s")

	v.SetDefault("series.lookback_days", 120)
	v.SetDefault("series.min_observations", 30)
	v.SetDefault("series.max_gap_days", 5)
	v.SetDefault("series.fetch_timeout", "10s")

	v.SetDefault("features.lags", []int{1, 7, 14, 30})
	v.SetDefault("features.rolling_windows", []int{7, 30})
	v.SetDefault("features.seasonal_days", 90)

	v.SetDefault("model.min_horizon_days", 1)
	v.SetDefault("model.max_horizon_days", 30)
	v.SetDefault("model.horizon_days", []int{7})
	v.SetDefault("model.retrain_interval", "168h")
	v.SetDefault("model.predict_timeout", "5s")
	v.SetDefault("model.train_epochs", 500)
	v.SetDefault("model.train_learn_rate", 0.05)

	v.SetDefault("transport.per_km_rate", 0.08)
	v.SetDefault("transport.handling_fee", 1.5)

	v.SetDefault("pipeline.parallelism", 4)
	v.SetDefault("pipeline.max_retries", 3)
	v.SetDefault("pipeline.initial_backoff", "1s")
	v.SetDefault("pipeline.max_backoff", "30s")

	v.SetDefault("export.max_data_points", 100000)

	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

// Validate performs basic sanity checks on the configuration values.
func (c *Config) Validate() error {
	if c.Scheduler.Interval <= 0 {
		return fmt.Errorf("scheduler.interval must be greater than zero")
	}
	if c.Series.MinObservations <= 0 {
		return fmt.Errorf("series.min_observations must be greater than zero")
	}
	if c.Series.MaxGapDays < 0 {
		return fmt.Errorf("series.max_gap_days cannot be negative")
	}
	if c.Series.LookbackDays <= c.Series.MinObservations {
		return fmt.Errorf("series.lookback_days must exceed series.min_observations")
	}
	if len(c.Features.Lags) == 0 {
		return fmt.Errorf("features.lags must not be empty")
	}
	if c.Model.MinHorizonDays < 1 || c.Model.MaxHorizonDays < c.Model.MinHorizonDays {
		return fmt.Errorf("model horizon bounds are inconsistent")
	}
	for _, h := range c.Model.HorizonDays {
		if h < c.Model.MinHorizonDays || h > c.Model.MaxHorizonDays {
			return fmt.Errorf("model.horizon_days entry %d outside [%d, %d]", h, c.Model.MinHorizonDays, c.Model.MaxHorizonDays)
		}
	}
	if c.Pipeline.Parallelism <= 0 {
		return fmt.Errorf("pipeline.parallelism must be greater than zero")
	}
	if c.Pipeline.MaxRetries < 0 {
		return fmt.Errorf("pipeline.max_retries cannot be negative")
	}
	if c.Transport.PerKmRate < 0 || c.Transport.HandlingFee < 0 {
		return fmt.Errorf("transport costs cannot be negative")
	}
	if c.Export.MaxDataPoints <= 0 {
		return fmt.Errorf("export.max_data_points must be greater than zero")
	}
	if len(c.Catalog.Markets) > 0 || len(c.Catalog.Commodities) > 0 {
		if err := c.Catalog.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// ResolveMaxPoints returns either the CLI override or config default.
func (c *Config) ResolveMaxPoints(override int) int {
	if override > 0 {
		return override
	}
	return c.Export.MaxDataPoints
}
