package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/Orcapt/orca-cli/internal/cli"
	"github.com/Orcapt/orca-cli/pkg/errx"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
	debug   = false

	logLevel = zap.NewAtomicLevelAt(zap.ErrorLevel)
)

func main() {
	logger, err := newConsoleLogger(logLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	cli.Version = version
	initCommands(logger)

	if err := rootCmd.Execute(); err != nil {
		// Command failures are already rendered by the printer.
		if !errx.IsError(err) {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "orca",
	Short: "Orca platform CLI",
	Long: `Orca CLI deploys and manages functions on the Orca platform:
- Publish a local Docker image and deploy it as a function
- List, inspect and delete deployed functions
- Manage workspace credentials`,
	Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		cli.SetDebugMode(debug)
		if debug {
			logLevel.SetLevel(zap.DebugLevel)
		}
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging and structured error output")
}

func initCommands(logger *zap.Logger) {
	rootCmd.AddCommand(cli.NewShipCmd(logger))
	rootCmd.AddCommand(cli.NewLambdaCmd(logger))
	rootCmd.AddCommand(cli.NewLoginCmd(logger))
	rootCmd.AddCommand(cli.NewLogoutCmd(logger))
	rootCmd.AddCommand(cli.NewWhoamiCmd(logger))
}

// newConsoleLogger returns a human-friendly console logger at level.
// Error level by default so structured error logs show with --debug; the
// flag lowers it to Debug once parsed.
func newConsoleLogger(level zap.AtomicLevel) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Encoding = "console"
	cfg.Level = level
	cfg.EncoderConfig = zapcore.EncoderConfig{
		TimeKey:        "ts",
		LevelKey:       "level",
		NameKey:        "",
		CallerKey:      "",
		MessageKey:     "msg",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.CapitalColorLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.StringDurationEncoder,
	}
	cfg.OutputPaths = []string{"stderr"}
	cfg.ErrorOutputPaths = []string{"stderr"}
	cfg.DisableCaller = true
	cfg.DisableStacktrace = true
	return cfg.Build()
}
