package commands

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/RyanBlaney/sonido-sentinel/anomaly"
	"github.com/RyanBlaney/sonido-sentinel/config"
	"github.com/RyanBlaney/sonido-sentinel/logging"
	"github.com/RyanBlaney/sonido-sentinel/service"
)

var (
	// Global flags
	configPath string
	dataDir    string
	logLevel   string
	logFormat  string

	globalConfig *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "sonido-sentinel",
	Short: "Acoustic anomaly detection for machines",
	Long: `sonido-sentinel learns what a healthy machine sounds like in each
operating mode (idle, slow, fast) and reports how much of a new recording
departs from it.

Profiles are stored under the data directory, which defaults to /data when it
exists and ./models otherwise. Set SONIDO_DATA_DIR or --data-dir to change it.

Examples:
  # Teach the idle profile from a healthy recording
  sonido-sentinel train --mode idle healthy_idle.wav

  # Check a new recording
  sonido-sentinel diagnose --mode idle today.wav

  # Serve the same operations over HTTP
  sonido-sentinel serve --config sonido.yaml`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: setup,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "YAML configuration file")
	rootCmd.PersistentFlags().StringVar(&dataDir, "data-dir", "", "profile storage directory (overrides config and SONIDO_DATA_DIR)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "log format: text or json")
}

// setup loads the configuration and installs the global logger before any
// subcommand builds components that capture it.
func setup(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if dataDir != "" {
		cfg.Storage.Root = dataDir
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	if logFormat != "" {
		cfg.Log.Format = logFormat
	}
	if err := config.Validate(cfg); err != nil {
		return err
	}

	level, _ := logging.ParseLevel(cfg.Log.Level)
	var logger logging.Logger
	if cfg.Log.Format == "json" {
		logger = logging.NewJSONLogger()
	} else {
		logger = logging.NewDefaultLogger()
	}
	logger.SetLevel(level)
	logging.SetGlobalLogger(logger)

	globalConfig = cfg
	return nil
}

// openService opens the service described by the loaded configuration.
func openService(ctx context.Context) (*service.Service, error) {
	if globalConfig == nil {
		return nil, errors.New("configuration not loaded")
	}
	return service.Open(ctx, globalConfig)
}

// parseMode reads the --mode flag of cmd.
func parseMode(cmd *cobra.Command, op anomaly.Op) (anomaly.Mode, error) {
	raw, _ := cmd.Flags().GetString("mode")
	mode, err := anomaly.ParseMode(raw)
	if err != nil {
		return "", userError(anomaly.NewError(op, anomaly.Mode(raw), anomaly.KindInvalidMode, err))
	}
	return mode, nil
}

// userError turns an engine failure into the operator message. main adds
// the "Error:" prefix.
func userError(err error) error {
	return fmt.Errorf("%s", strings.TrimPrefix(service.FormatError(err), "Error: "))
}
