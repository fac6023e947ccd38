package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/edgeflare/txaction/pkg/action"
	"github.com/edgeflare/txaction/pkg/pipeline"
	"github.com/spf13/viper"
)

// Version is set at build time with -ldflags "-X github.com/edgeflare/txaction/pkg/config.Version=..."
var Version = "dev"

// Config holds application-wide configuration
type Config struct {
	Pipeline pipeline.Config `mapstructure:",squash"`
	Actions  []action.Config `mapstructure:"actions"`
	Metrics  MetricsConfig   `mapstructure:"metrics"`
	// File is the config file that was read, empty when none was found
	File string `mapstructure:"-"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}

// Load reads config from file or environment. Without an explicit file,
// txaction.yaml is looked up in $HOME/.config and the working directory;
// not finding one is not an error.
func Load(cfgFile string) (*Config, error) {
	v := viper.New()

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("txaction")
		v.SetConfigType("yaml")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".config"))
		}
		v.AddConfigPath(".")
	}

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.addr", ":9100")

	v.SetEnvPrefix("TXACTION")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}
	cfg.File = v.ConfigFileUsed()

	return &cfg, nil
}

// Validate checks the peers and pipelines.
func (c *Config) Validate() error {
	return c.Pipeline.Validate()
}
