package config

import (
	"flag"
	"os"
	"time"

	"github.com/qcryo/fridgectl/internal/errors"
	"github.com/rs/zerolog"
	"github.com/spf13/viper"
)

const (
	DefaultLogLevel       = "info"
	defaultBufferCapacity = 4096
	defaultBatchSize      = 100
	defaultFlushMS        = 1000
	defaultPollPeriodMS   = 1000
)

// ControllerConfig enumerates one refrigeration controller.
type ControllerConfig struct {
	ID           string            `mapstructure:"id"`
	Address      string            `mapstructure:"address"`
	Password     string            `mapstructure:"password"`
	Transport    string            `mapstructure:"transport"`
	PollPeriodMS int               `mapstructure:"poll_period_ms"`
	Channels     []string          `mapstructure:"channels"`
	Setpoints    []string          `mapstructure:"setpoints"`
	Units        map[string]string `mapstructure:"units"`
}

// PollPeriod returns the configured cadence as a duration.
func (c ControllerConfig) PollPeriod() time.Duration {
	ms := c.PollPeriodMS
	if ms <= 0 {
		ms = defaultPollPeriodMS
	}

	return time.Duration(ms) * time.Millisecond
}

// RuleConfig is one operator-defined alert condition.
type RuleConfig struct {
	Name       string  `mapstructure:"name"`
	Channel    string  `mapstructure:"channel"`
	Operator   string  `mapstructure:"operator"`
	Threshold  float64 `mapstructure:"threshold"`
	Severity   string  `mapstructure:"severity"`
	Hysteresis float64 `mapstructure:"hysteresis"`
}

// StoreConfig holds the time-series store parameters.
type StoreConfig struct {
	Path            string `mapstructure:"path"`
	BatchSize       int    `mapstructure:"batch_size"`
	FlushIntervalMS int    `mapstructure:"flush_interval_ms"`
}

func (c StoreConfig) FlushInterval() time.Duration {
	ms := c.FlushIntervalMS
	if ms <= 0 {
		ms = defaultFlushMS
	}

	return time.Duration(ms) * time.Millisecond
}

// LinkConfig tunes failure handling shared by all links.
type LinkConfig struct {
	FailureThreshold  int `mapstructure:"failure_threshold"`
	DegradedTimeoutMS int `mapstructure:"degraded_timeout_ms"`
}

func (c LinkConfig) DegradedTimeout() time.Duration {
	if c.DegradedTimeoutMS <= 0 {
		return 0
	}

	return time.Duration(c.DegradedTimeoutMS) * time.Millisecond
}

type Config struct {
	LogLevel       string             `mapstructure:"log_level"`
	Debug          bool               `mapstructure:"debug"`
	Verbose        bool               `mapstructure:"verbose"`
	BufferCapacity int                `mapstructure:"buffer_capacity"`
	MetricsAddr    string             `mapstructure:"metrics_addr"`
	Store          StoreConfig        `mapstructure:"store"`
	Link           LinkConfig         `mapstructure:"link"`
	Controllers    []ControllerConfig `mapstructure:"controllers"`
	Alerts         []RuleConfig       `mapstructure:"alerts"`
}

// Load reads configuration from flags, the TOML config file, and the
// FRIDGECTL_CONFIG environment variable, in ascending precedence of
// flags over file. Loaded once at startup; there is no hot reload.
func Load() (*Config, error) {
	return load(os.Args[1:])
}

func load(args []string) (*Config, error) {
	errFactory := errors.New()

	fs := flag.NewFlagSet("fridgectl", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to config file")
	debugFlag := fs.Bool("debug", false, "Enable debugging mode")
	verboseFlag := fs.Bool("verbose", false, "Enable verbose logging")
	logLevelFlag := fs.String("log-level", "", "Log level (debug, info, warning, error)")
	if err := fs.Parse(args); err != nil {
		return nil, errFactory.Wrap(errors.ErrInvalidArgument, err)
	}

	v := viper.New()
	v.SetDefault("log_level", DefaultLogLevel)
	v.SetDefault("buffer_capacity", defaultBufferCapacity)
	v.SetDefault("store.batch_size", defaultBatchSize)
	v.SetDefault("store.flush_interval_ms", defaultFlushMS)

	if *configPath == "" {
		*configPath = os.Getenv("FRIDGECTL_CONFIG")
	}

	if *configPath != "" {
		v.SetConfigFile(*configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, errFactory.Wrap(errors.ErrReadConfig, err).
				WithMessage("Failed to read config file")
		}
	} else {
		v.SetConfigName("fridgectl")
		v.SetConfigType("toml")
		v.AddConfigPath("/etc")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, errFactory.Wrap(errors.ErrReadConfig, err).
					WithMessage("Failed to read config file")
			}
		}
	}

	// Command line flags override file values
	if *debugFlag {
		v.Set("debug", true)
	}
	if *verboseFlag {
		v.Set("verbose", true)
	}
	if *logLevelFlag != "" {
		v.Set("log_level", *logLevelFlag)
	}

	config := &Config{}
	if err := v.Unmarshal(config); err != nil {
		return nil, errFactory.Wrap(errors.ErrInvalidConfig, err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	applyLogLevel(config)

	return config, nil
}

// Validate checks the structural invariants configuration must satisfy.
// Rule semantics are validated by the alert engine.
func (c *Config) Validate() error {
	errFactory := errors.New()

	if !LogLevel(c.LogLevel).IsValid() {
		return errFactory.WithData(errors.ErrInvalidLogLevel, c.LogLevel)
	}

	seen := make(map[string]struct{}, len(c.Controllers))
	for _, ctrl := range c.Controllers {
		if ctrl.ID == "" {
			return errFactory.WithMessage(errors.ErrInvalidConfig, "controller with empty id")
		}
		if _, ok := seen[ctrl.ID]; ok {
			return errFactory.WithData(errors.ErrInvalidConfig, struct {
				Duplicate string
			}{ctrl.ID})
		}
		seen[ctrl.ID] = struct{}{}

		if ctrl.Transport != "sim" && ctrl.Address == "" {
			return errFactory.WithData(errors.ErrInvalidConfig, struct {
				Controller string
				Missing    string
			}{ctrl.ID, "address"})
		}
	}

	return nil
}

func applyLogLevel(c *Config) {
	switch {
	case c.Debug:
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case c.Verbose:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	default:
		switch LogLevel(c.LogLevel) {
		case LogLevelDebug:
			zerolog.SetGlobalLevel(zerolog.DebugLevel)
		case LogLevelInfo:
			zerolog.SetGlobalLevel(zerolog.InfoLevel)
		case LogLevelWarning:
			zerolog.SetGlobalLevel(zerolog.WarnLevel)
		case LogLevelError:
			zerolog.SetGlobalLevel(zerolog.ErrorLevel)
		}
	}
}
