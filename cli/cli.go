// Package cli provides the gobdoc command-line interface.
package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/georgepadayatti/gobdoc/config"
	"github.com/georgepadayatti/gobdoc/engine"
)

// Version information
var (
	Version   = "dev"
	BuildTime = "unknown"
)

// osExit is a variable for os.Exit to allow testing
var osExit = os.Exit

// newEngine builds the validation engine for a configuration. Tests
// replace it to avoid loading trusted lists.
var newEngine = func(ctx context.Context, cfg *config.Configuration) (*engine.Engine, error) {
	return engine.NewFromConfiguration(ctx, cfg)
}

// Run executes the CLI with the given arguments, args[0] being the
// program name.
func Run(args []string) {
	root := NewRootCommand(os.Stdout, os.Stderr)
	root.SetArgs(args[1:])
	if err := root.Execute(); err != nil {
		osExit(1)
	}
}

type globalOptions struct {
	configFile string
	logLevel   string
}

// NewRootCommand returns the gobdoc command tree writing to out and errOut.
func NewRootCommand(out, errOut io.Writer) *cobra.Command {
	opts := &globalOptions{}
	root := &cobra.Command{
		Use:           "gobdoc",
		Short:         "Validate and extend BDoc/XAdES signature containers",
		SilenceUsage:  true,
	}
	root.SetOut(out)
	root.SetErr(errOut)
	root.PersistentFlags().StringVarP(&opts.configFile, "config", "c", "", "YAML configuration file")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "override the configured log level")

	root.AddCommand(
		newValidateCommand(opts),
		newExtendCommand(opts),
		newVersionCommand(),
	)
	return root
}

// loadConfiguration reads the configuration file, or returns the defaults
// when none is given, and applies it to the logger.
func (o *globalOptions) loadConfiguration(errOut io.Writer) (*config.Configuration, error) {
	var cfg *config.Configuration
	if o.configFile == "" {
		cfg = config.New("")
	} else {
		loaded, err := config.LoadConfiguration(o.configFile)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	if o.logLevel != "" {
		cfg.Logging.Level = o.logLevel
	}
	if err := setupLogging(cfg.Logging, errOut); err != nil {
		return nil, err
	}
	return cfg, nil
}

// setupLogging configures the standard logrus logger.
func setupLogging(lc *config.LoggingConfig, errOut io.Writer) error {
	level, err := logrus.ParseLevel(lc.Level)
	if err != nil {
		return config.NewConfigError("logging.level", err.Error())
	}
	logrus.SetLevel(level)

	switch strings.ToLower(lc.Format) {
	case "json":
		logrus.SetFormatter(&logrus.JSONFormatter{})
	case "text", "":
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	default:
		return config.NewConfigError("logging.format", fmt.Sprintf("unknown log format %q", lc.Format))
	}

	switch lc.Output {
	case "stderr", "":
		logrus.SetOutput(errOut)
	case "stdout":
		logrus.SetOutput(os.Stdout)
	default:
		f, err := os.OpenFile(lc.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("failed to open log file: %w", err)
		}
		logrus.SetOutput(f)
	}
	return nil
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "gobdoc version %s\n", Version)
			fmt.Fprintf(cmd.OutOrStdout(), "Build time: %s\n", BuildTime)
		},
	}
}
