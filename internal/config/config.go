// Package config loads the typed schema and run settings through viper.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"

	"github.com/inferloop/ipdsynth/pkg/constants"
	"github.com/inferloop/ipdsynth/pkg/errors"
)

type Config struct {
	Schema     Schema           `mapstructure:"schema"`
	Summary    SummaryConfig    `mapstructure:"summary"`
	Disclosure DisclosureConfig `mapstructure:"disclosure"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Server     ServerConfig     `mapstructure:"server"`
	Log        LogConfig        `mapstructure:"log"`
	// Seed drives every random draw; zero picks a time-based seed.
	Seed    uint64 `mapstructure:"seed"`
	Workers int    `mapstructure:"workers"`
}

type SummaryConfig struct {
	QuantileCap  int     `mapstructure:"quantile_cap"`
	CurveStep    float64 `mapstructure:"curve_step"`
	LogitFitMax  int     `mapstructure:"logit_fit_max"`
	EpsilonStart float64 `mapstructure:"epsilon_start"`
	EpsilonStep  float64 `mapstructure:"epsilon_step"`
	EpsilonMax   float64 `mapstructure:"epsilon_max"`
}

type DisclosureConfig struct {
	SmallCell   int     `mapstructure:"small_cell"`
	CorrMinN    int     `mapstructure:"corr_min_n"`
	RoundDigits int     `mapstructure:"round_digits"`
	JitterLow   float64 `mapstructure:"jitter_low"`
	JitterHigh  float64 `mapstructure:"jitter_high"`
}

type StorageConfig struct {
	Backend string `mapstructure:"backend"`
	Dir     string `mapstructure:"dir"`
	Driver  string `mapstructure:"driver"`
	DSN     string `mapstructure:"dsn"`
	Bucket  string `mapstructure:"bucket"`
	Prefix  string `mapstructure:"prefix"`
	Region  string `mapstructure:"region"`
	// Endpoint targets S3-compatible services.
	Endpoint string `mapstructure:"endpoint"`
	// Addr, Password, DB and TTL configure the redis backend.
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	TTL      time.Duration `mapstructure:"ttl"`
}

type ServerConfig struct {
	Addr string `mapstructure:"addr"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Default returns the configuration used when no file overrides a setting.
func Default() *Config {
	return &Config{
		Summary: SummaryConfig{
			QuantileCap:  constants.DefaultQuantileCap,
			CurveStep:    constants.DefaultCurveStep,
			LogitFitMax:  constants.DefaultLogitFitMax,
			EpsilonStart: constants.DefaultEpsilonStart,
			EpsilonStep:  constants.DefaultEpsilonStep,
			EpsilonMax:   constants.DefaultEpsilonMax,
		},
		Disclosure: DisclosureConfig{
			SmallCell:   constants.SmallCellThreshold,
			CorrMinN:    constants.DefaultCorrMinN,
			RoundDigits: constants.DefaultRoundDigits,
			JitterLow:   constants.DefaultJitterLow,
			JitterHigh:  constants.DefaultJitterHigh,
		},
		Storage: StorageConfig{
			Backend: constants.StorageBackendFile,
			Dir:     "summary",
			Driver:  constants.SQLDriverSQLite,
		},
		Server: ServerConfig{Addr: constants.DefaultServerAddr},
		Log: LogConfig{
			Level:  constants.DefaultLogLevel,
			Format: constants.DefaultLogFormat,
		},
		Workers: constants.DefaultWorkers,
	}
}

// Load reads cfgFile (or ./ipdsynth.yaml, then $HOME/.ipdsynth/config.yaml) with
// IPDSYNTH_-prefixed environment overrides on top of Default.
func Load(cfgFile string) (*Config, error) {
	cfg := Default()
	v := viper.New()

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("ipdsynth")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".ipdsynth"))
		}
	}

	v.SetEnvPrefix(constants.EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v, cfg)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok || cfgFile != "" {
			return nil, errors.WrapError(err, errors.ErrorTypeConfiguration, errors.CodeInvalidConfiguration,
				"error reading config file")
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, errors.WrapError(err, errors.ErrorTypeConfiguration, errors.CodeInvalidConfiguration,
			"error unmarshaling config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("summary.quantile_cap", cfg.Summary.QuantileCap)
	v.SetDefault("summary.curve_step", cfg.Summary.CurveStep)
	v.SetDefault("summary.logit_fit_max", cfg.Summary.LogitFitMax)
	v.SetDefault("summary.epsilon_start", cfg.Summary.EpsilonStart)
	v.SetDefault("summary.epsilon_step", cfg.Summary.EpsilonStep)
	v.SetDefault("summary.epsilon_max", cfg.Summary.EpsilonMax)
	v.SetDefault("disclosure.small_cell", cfg.Disclosure.SmallCell)
	v.SetDefault("disclosure.corr_min_n", cfg.Disclosure.CorrMinN)
	v.SetDefault("disclosure.round_digits", cfg.Disclosure.RoundDigits)
	v.SetDefault("disclosure.jitter_low", cfg.Disclosure.JitterLow)
	v.SetDefault("disclosure.jitter_high", cfg.Disclosure.JitterHigh)
	v.SetDefault("storage.backend", cfg.Storage.Backend)
	v.SetDefault("storage.dir", cfg.Storage.Dir)
	v.SetDefault("storage.driver", cfg.Storage.Driver)
	v.SetDefault("server.addr", cfg.Server.Addr)
	v.SetDefault("log.level", cfg.Log.Level)
	v.SetDefault("log.format", cfg.Log.Format)
	v.SetDefault("workers", cfg.Workers)
	v.SetDefault("seed", cfg.Seed)
}

// Validate checks the run settings and the schema.
func (c *Config) Validate() error {
	if err := c.Schema.Validate(); err != nil {
		return err
	}
	s := c.Summary
	if s.QuantileCap < 2 {
		return errors.NewConfigurationError("summary.quantile_cap must be at least 2, got %d", s.QuantileCap)
	}
	if s.CurveStep <= 0 || s.CurveStep >= 1 {
		return errors.NewConfigurationError("summary.curve_step must be in (0, 1), got %g", s.CurveStep)
	}
	if s.EpsilonStep <= 0 || s.EpsilonStart < 0 || s.EpsilonMax < s.EpsilonStart {
		return errors.NewConfigurationError("invalid epsilon search [%g, %g] step %g",
			s.EpsilonStart, s.EpsilonMax, s.EpsilonStep)
	}
	d := c.Disclosure
	if d.JitterLow <= 0 || d.JitterHigh < d.JitterLow {
		return errors.NewConfigurationError("invalid sd jitter range [%g, %g]", d.JitterLow, d.JitterHigh)
	}
	if d.RoundDigits < 0 {
		return errors.NewConfigurationError("disclosure.round_digits must not be negative")
	}
	switch c.Storage.Backend {
	case constants.StorageBackendFile, constants.StorageBackendSQL, constants.StorageBackendS3, constants.StorageBackendRedis:
	default:
		return errors.NewConfigurationError("unknown storage backend %q", c.Storage.Backend)
	}
	if c.Workers <= 0 {
		c.Workers = 1
	}
	return nil
}

// NewLogger builds the logrus logger described by the log section.
func (c *Config) NewLogger() (*logrus.Logger, error) {
	logger := logrus.New()
	level, err := logrus.ParseLevel(c.Log.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", c.Log.Level, err)
	}
	logger.SetLevel(level)
	if c.Log.Format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return logger, nil
}
