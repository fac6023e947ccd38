package txaction

import (
	"fmt"
	"os"

	"github.com/edgeflare/txaction/pkg/action"
	"github.com/edgeflare/txaction/pkg/config"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var cfgFile string
var logLevel string
var cfg *config.Config
var logger = zap.NewNop()

var rootCmd = &cobra.Command{
	Use:   "txaction",
	Short: "txaction turns database transactions into domain actions",
	Long: `txaction reads change events, groups them into transactions, classifies
each transaction as a named action and loads the transformed records into sinks`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return initConfig()
	},
	Run: func(cmd *cobra.Command, args []string) {
		versionFlag, _ := cmd.Flags().GetBool("version")
		if versionFlag {
			fmt.Fprintln(cmd.OutOrStdout(), config.Version)
			return
		}

		// If no subcommand is provided, print help
		cmd.Help()
	},
}

func Main() {
	defer logger.Sync()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.config/txaction.yaml)")
	rootCmd.PersistentFlags().StringVarP(&logLevel, "log-level", "L", "info", "log at this level (debug, info, warn, error, none)")
	rootCmd.Flags().BoolP("version", "v", false, "Print the version number")

	rootCmd.AddCommand(runCmd, actionsCmd, matchCmd)
}

func initConfig() error {
	var err error
	if logger, err = newLogger(logLevel); err != nil {
		return err
	}
	zap.ReplaceGlobals(logger)

	if cfg, err = config.Load(cfgFile); err != nil {
		return fmt.Errorf("error loading config: %w", err)
	}
	if cfg.File != "" {
		logger.Info("using config file", zap.String("file", cfg.File))
	}
	return nil
}

func newLogger(level string) (*zap.Logger, error) {
	if level == "none" {
		return zap.NewNop(), nil
	}
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}

	zc := zap.NewProductionConfig()
	if lvl == zapcore.DebugLevel {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(lvl)
	return zc.Build()
}

// newRegistry returns the built-in actions followed by the configured ones.
func newRegistry(c *config.Config) (*action.Registry, error) {
	registry := action.NewRegistry()
	if err := registry.RegisterBuiltins(); err != nil {
		return nil, err
	}
	if err := registry.RegisterConfig(c.Actions, nil); err != nil {
		return nil, fmt.Errorf("failed to register configured actions: %w", err)
	}
	return registry, nil
}
