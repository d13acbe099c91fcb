package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

const (
	backendMock  = "mock"
	backendLinux = "linux"
)

// Config is the demo configuration. Values come from, in order of
// precedence, command line flags, DEVTREE_* environment variables, the
// config file and the defaults.
type Config struct {
	// Backend selects the host the devices live on: "mock" or "linux".
	Backend string `mapstructure:"backend"`

	LogLevel string `mapstructure:"log_level"`

	// Layout is a json layout file the mock backend is loaded from.
	Layout string `mapstructure:"layout"`

	// DryRun shows what would be done without touching any device.
	DryRun bool `mapstructure:"dry_run"`
}

func newViper() *viper.Viper {
	v := viper.New()

	v.SetDefault("backend", backendMock)
	v.SetDefault("log_level", "info")
	v.SetDefault("layout", "")
	v.SetDefault("dry_run", false)

	v.SetEnvPrefix("DEVTREE")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	return v
}

// loadConfig reads the config file (if any) and unmarshals the result.
// overrides are applied last, they carry the flags that were set.
func loadConfig(v *viper.Viper, cfgFile string, overrides map[string]interface{}) (*Config, error) {
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)

		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrapf(err, "failed to read config %s", cfgFile)
		}
	} else {
		v.SetConfigName("devtree")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.config/devtree")

		// the default config file is optional.
		_ = v.ReadInConfig()
	}

	for k, val := range overrides {
		v.Set(k, val)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal config")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	switch c.Backend {
	case backendMock, backendLinux:
	default:
		return fmt.Errorf("backend must be '%s' or '%s', not '%s'", backendMock, backendLinux, c.Backend)
	}

	if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("invalid log_level '%s'", c.LogLevel)
	}

	if c.Layout != "" && c.Backend != backendMock {
		return fmt.Errorf("layout is only used by the %s backend", backendMock)
	}

	return nil
}

func setupLogging(cfg *Config) {
	level, _ := zerolog.ParseLevel(cfg.LogLevel)
	zerolog.SetGlobalLevel(level)

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
}
