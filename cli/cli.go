// Package cli is the citegate command line shared by every entry point.
package cli

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/teilomillet/citegate/config"
	"github.com/teilomillet/citegate/errors"
	"github.com/teilomillet/citegate/server"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const Version = "v0.1.0"

// DefaultConfigPath is used when neither -config nor CITEGATE_CONFIG is set.
const DefaultConfigPath = "citegate.yaml"

// Run parses args, loads the configuration and serves until SIGINT or
// SIGTERM. It returns the process exit code.
func Run(args []string, stdout, stderr io.Writer) int {
	defaultPath := DefaultConfigPath
	if p := os.Getenv("CITEGATE_CONFIG"); p != "" {
		defaultPath = p
	}

	flags := flag.NewFlagSet("citegate", flag.ContinueOnError)
	flags.SetOutput(stderr)
	configFile := flags.String("config", defaultPath, "Path to configuration file (env CITEGATE_CONFIG)")
	validate := flags.Bool("validate", false, "Validate configuration and exit")
	version := flags.Bool("version", false, "Print version and exit")
	if err := flags.Parse(args); err != nil {
		return 2
	}

	if *version {
		fmt.Fprintf(stdout, "citegate %s\n", Version)
		return 0
	}

	cfg, err := config.LoadFile(*configFile)
	if err != nil {
		fmt.Fprintf(stderr, "Failed to load config: %v\n", err)
		return 1
	}

	if *validate {
		fmt.Fprintln(stdout, "Configuration is valid")
		return 0
	}

	logger, err := newLogger(cfg.Logging)
	if err != nil {
		fmt.Fprintf(stderr, "Failed to create logger: %v\n", err)
		return 1
	}
	defer logger.Sync()
	errors.SetLogger(logger)

	srv, err := server.NewServer(*configFile, logger)
	if err != nil {
		logger.Error("Server initialization failed",
			zap.Error(err),
			zap.String("config_path", *configFile))
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("Starting citegate",
		zap.String("version", Version),
		zap.Int("port", cfg.Server.Port))
	if err := srv.Start(ctx); err != nil {
		logger.Error("Server error", zap.Error(err))
		return 1
	}
	return 0
}

// newLogger builds a production logger honouring the configured level and
// format. "text" selects the console encoder.
func newLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}

	zcfg := zap.NewProductionConfig()
	zcfg.Level = zap.NewAtomicLevelAt(level)
	if cfg.Format == "text" {
		zcfg.Encoding = "console"
		zcfg.EncoderConfig = zap.NewDevelopmentEncoderConfig()
	}
	return zcfg.Build()
}
