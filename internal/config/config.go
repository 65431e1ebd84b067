package config

import (
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
	Zone      ZoneConfig      `yaml:"zone" mapstructure:"zone"`
	Forecast  ForecastConfig  `yaml:"forecast" mapstructure:"forecast"`
	Weighting WeightingConfig `yaml:"weighting" mapstructure:"weighting"`
	Ranking   RankingConfig   `yaml:"ranking" mapstructure:"ranking"`
	Retry     RetryConfig     `yaml:"retry" mapstructure:"retry"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port            int      `yaml:"port" mapstructure:"port"`
	RateLimitRPS    float64  `yaml:"rate_limit_rps" mapstructure:"rate_limit_rps"`
	RateLimitBurst  int      `yaml:"rate_limit_burst" mapstructure:"rate_limit_burst"`
	AllowedOrigins  []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
	RefreshSchedule string   `yaml:"refresh_schedule" mapstructure:"refresh_schedule"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// ZoneConfig holds the red/amber breakpoints in crimes per month.
type ZoneConfig struct {
	RedAbove   int `yaml:"red_above" mapstructure:"red_above"`
	AmberAbove int `yaml:"amber_above" mapstructure:"amber_above"`
}

// ForecastConfig tunes the trend forecaster.
type ForecastConfig struct {
	WindowMonths      int     `yaml:"window_months" mapstructure:"window_months"`
	HistoryLimit      int     `yaml:"history_limit" mapstructure:"history_limit"`
	SeasonalAmplitude float64 `yaml:"seasonal_amplitude" mapstructure:"seasonal_amplitude"`
	MonthlyTrend      float64 `yaml:"monthly_trend" mapstructure:"monthly_trend"`
	MaxHorizon        int     `yaml:"max_horizon" mapstructure:"max_horizon"`
	RefreshHorizon    int     `yaml:"refresh_horizon" mapstructure:"refresh_horizon"`
	// EmptyHistory is "reject" or "default".
	EmptyHistory  string  `yaml:"empty_history" mapstructure:"empty_history"`
	DefaultSpread float64 `yaml:"default_spread" mapstructure:"default_spread"`
	Concurrency   int     `yaml:"concurrency" mapstructure:"concurrency"`
	// TestYear is the held-out year for evaluate; 0 means the latest year
	// with aggregates.
	TestYear int `yaml:"test_year" mapstructure:"test_year"`
}

// WeightingConfig holds the demographic weighting curve coefficients.
type WeightingConfig struct {
	MinAgeFactor   float64 `yaml:"min_age_factor" mapstructure:"min_age_factor"`
	MaxAgeFactor   float64 `yaml:"max_age_factor" mapstructure:"max_age_factor"`
	AgeScaleYears  float64 `yaml:"age_scale_years" mapstructure:"age_scale_years"`
	GenderMatch    float64 `yaml:"gender_match" mapstructure:"gender_match"`
	GenderMismatch float64 `yaml:"gender_mismatch" mapstructure:"gender_mismatch"`
}

// RankingConfig tunes the safety ranking engine.
type RankingConfig struct {
	ScoreScale        float64 `yaml:"score_scale" mapstructure:"score_scale"`
	FallbackMonths    int     `yaml:"fallback_months" mapstructure:"fallback_months"`
	ConfidenceRecords int     `yaml:"confidence_records" mapstructure:"confidence_records"`
	YearWindowMonths  int     `yaml:"year_window_months" mapstructure:"year_window_months"`
}

// RetryConfig controls caller-side retries of transient store failures.
type RetryConfig struct {
	MaxAttempts      int `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoffMs int `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	MaxBackoffMs     int `yaml:"max_backoff_ms" mapstructure:"max_backoff_ms"`
	CircuitThreshold int `yaml:"circuit_threshold" mapstructure:"circuit_threshold"`
	CircuitResetSecs int `yaml:"circuit_reset_secs" mapstructure:"circuit_reset_secs"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("CRIMESAFE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "crimesafe.db")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 2)
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.rate_limit_rps", 20.0)
	v.SetDefault("server.rate_limit_burst", 40)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("server.refresh_schedule", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("zone.red_above", 50)
	v.SetDefault("zone.amber_above", 20)
	v.SetDefault("forecast.window_months", 6)
	v.SetDefault("forecast.history_limit", 24)
	v.SetDefault("forecast.seasonal_amplitude", 0.1)
	v.SetDefault("forecast.monthly_trend", 0.01)
	v.SetDefault("forecast.max_horizon", 36)
	v.SetDefault("forecast.refresh_horizon", 6)
	v.SetDefault("forecast.empty_history", "reject")
	v.SetDefault("forecast.default_spread", 20.0)
	v.SetDefault("forecast.concurrency", 4)
	v.SetDefault("forecast.test_year", 0)
	v.SetDefault("weighting.min_age_factor", 0.5)
	v.SetDefault("weighting.max_age_factor", 1.5)
	v.SetDefault("weighting.age_scale_years", 15.0)
	v.SetDefault("weighting.gender_match", 1.25)
	v.SetDefault("weighting.gender_mismatch", 0.8)
	v.SetDefault("ranking.score_scale", 1.0)
	v.SetDefault("ranking.fallback_months", 6)
	v.SetDefault("ranking.confidence_records", 30)
	v.SetDefault("ranking.year_window_months", 12)
	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.initial_backoff_ms", 200)
	v.SetDefault("retry.max_backoff_ms", 2000)
	v.SetDefault("retry.circuit_threshold", 5)
	v.SetDefault("retry.circuit_reset_secs", 30)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks the settings a command mode depends on. Mode is one of
// "serve", "forecast", "evaluate", "rank", "aggregate", "import" or "migrate".
func (c *Config) Validate(mode string) error {
	var errs []string

	switch c.Store.Driver {
	case "sqlite", "postgres":
	default:
		errs = append(errs, fmt.Sprintf("store.driver must be sqlite or postgres, got %q", c.Store.Driver))
	}
	if c.Store.DatabaseURL == "" {
		errs = append(errs, "store.database_url is required")
	}

	switch mode {
	case "serve":
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server.port must be 1-65535, got %d", c.Server.Port))
		}
		if c.Server.RateLimitRPS < 0 {
			errs = append(errs, "server.rate_limit_rps must be >= 0")
		}
		errs = append(errs, c.validateZone()...)
		errs = append(errs, c.validateForecast()...)
		errs = append(errs, c.validateRanking()...)
	case "forecast", "evaluate":
		errs = append(errs, c.validateZone()...)
		errs = append(errs, c.validateForecast()...)
	case "rank":
		errs = append(errs, c.validateZone()...)
		errs = append(errs, c.validateRanking()...)
	case "import", "aggregate":
		errs = append(errs, c.validateZone()...)
	case "migrate":
	default:
		errs = append(errs, fmt.Sprintf("unknown validation mode %q", mode))
	}

	if len(errs) > 0 {
		return eris.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

func (c *Config) validateZone() []string {
	if c.Zone.AmberAbove < 0 || c.Zone.RedAbove < c.Zone.AmberAbove {
		return []string{fmt.Sprintf("zone breakpoints out of order: red_above=%d amber_above=%d", c.Zone.RedAbove, c.Zone.AmberAbove)}
	}
	return nil
}

func (c *Config) validateForecast() []string {
	var errs []string
	f := c.Forecast
	if f.WindowMonths <= 0 {
		errs = append(errs, "forecast.window_months must be > 0")
	}
	if f.HistoryLimit < f.WindowMonths {
		errs = append(errs, "forecast.history_limit must be >= forecast.window_months")
	}
	if f.SeasonalAmplitude < 0 || f.SeasonalAmplitude >= 1 {
		errs = append(errs, "forecast.seasonal_amplitude must be in [0, 1)")
	}
	if f.MonthlyTrend < 0 {
		errs = append(errs, "forecast.monthly_trend must be >= 0")
	}
	if f.MaxHorizon <= 0 {
		errs = append(errs, "forecast.max_horizon must be > 0")
	}
	if f.RefreshHorizon <= 0 || f.RefreshHorizon > f.MaxHorizon {
		errs = append(errs, "forecast.refresh_horizon must be 1-forecast.max_horizon")
	}
	if f.EmptyHistory != "reject" && f.EmptyHistory != "default" {
		errs = append(errs, fmt.Sprintf("forecast.empty_history must be reject or default, got %q", f.EmptyHistory))
	}
	if f.DefaultSpread < 0 {
		errs = append(errs, "forecast.default_spread must be >= 0")
	}
	if f.Concurrency <= 0 {
		errs = append(errs, "forecast.concurrency must be > 0")
	}
	if f.TestYear < 0 {
		errs = append(errs, "forecast.test_year must be >= 0")
	}
	return errs
}

func (c *Config) validateRanking() []string {
	var errs []string
	w := c.Weighting
	if w.MinAgeFactor <= 0 || w.MaxAgeFactor < w.MinAgeFactor {
		errs = append(errs, "weighting.min_age_factor must be > 0 and <= weighting.max_age_factor")
	}
	if w.AgeScaleYears <= 0 {
		errs = append(errs, "weighting.age_scale_years must be > 0")
	}
	if w.GenderMatch <= 0 || w.GenderMismatch <= 0 {
		errs = append(errs, "weighting gender multipliers must be > 0")
	}
	r := c.Ranking
	if r.ScoreScale <= 0 {
		errs = append(errs, "ranking.score_scale must be > 0")
	}
	if r.FallbackMonths <= 0 || r.YearWindowMonths <= 0 {
		errs = append(errs, "ranking window months must be > 0")
	}
	if r.ConfidenceRecords <= 0 {
		errs = append(errs, "ranking.confidence_records must be > 0")
	}
	return errs
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
