// Package cmd implements the visual-metrics command line.
package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/ethpandaops/visual-metrics/internal/config"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	// Logger is the shared logger instance for all commands
	Logger *logrus.Logger

	configFile string
	verbose    bool

	rootCmd = &cobra.Command{
		Use:   "visual-metrics",
		Short: "Visual metrics - video based page load metrics",
		Long: `Visual metrics computes page load metrics from browsertime recordings.

It runs the metrics tool over every recorded video, aggregates the results
into a perfherder report and optionally scores how similar the recordings are
to earlier runs.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(_ *cobra.Command, _ []string) {
			if verbose {
				Logger.SetLevel(logrus.DebugLevel)
			}
		},
	}
)

// exitCodeError carries a specific process exit code out of a command.
type exitCodeError struct {
	code int
	err  error
}

func (e *exitCodeError) Error() string {
	return e.err.Error()
}

func (e *exitCodeError) Unwrap() error {
	return e.err
}

// Execute runs the root command
func Execute() {
	err := rootCmd.Execute()
	if err == nil {
		return
	}

	fmt.Fprintln(os.Stderr, err)

	var exitErr *exitCodeError
	if errors.As(err, &exitErr) {
		os.Exit(exitErr.code)
	}

	os.Exit(1)
}

// InitLogger creates the shared logger from LOG_LEVEL. It must run after any
// env file has been loaded.
func InitLogger() {
	Logger = newLogger(false)
}

// loadConfig reads the configuration file and environment.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	return cfg, nil
}

func init() {
	InitLogger()

	rootCmd.PersistentFlags().StringVar(&configFile, "config", config.DefaultConfigFile, "Path to a YAML config file")
	rootCmd.PersistentFlags().BoolVar(&verbose, "verbose", false, "Enable debug logging")
	// --env is consumed by main before cobra runs; it is declared so cobra accepts it.
	rootCmd.PersistentFlags().String("env", "", "Environment file to load")
}
