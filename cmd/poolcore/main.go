// Command poolcore runs the template backend and edits template collections
// against a running backend from scripts.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"poolcore/internal/client"
	"poolcore/internal/config"
)

var exitFunc = os.Exit

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, "poolcore:", err)
		exitFunc(1)
	}
}

// app carries state shared by every subcommand once flags are parsed.
type app struct {
	configPath string
	serverURL  string
	debug      bool

	cfg    config.Config
	logger *zap.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:           "poolcore",
		Short:         "Pool service checklist template backend and editor",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.init()
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			if a.logger != nil {
				_ = a.logger.Sync()
			}
		},
	}
	flags := root.PersistentFlags()
	flags.StringVar(&a.configPath, "config", "poolcore.yaml", "config file; missing files fall back to defaults")
	flags.StringVar(&a.serverURL, "server", "", "backend base URL, overrides api.base_url")
	flags.BoolVar(&a.debug, "debug", false, "enable debug logging")

	root.AddCommand(newServeCmd(a), newListCmd(a), newApplyCmd(a), newExportCmd(a))
	return root
}

func (a *app) init() error {
	cfg, err := config.Load(a.configPath, os.LookupEnv)
	if err != nil {
		return err
	}
	if a.serverURL != "" {
		cfg.API.BaseURL = a.serverURL
	}
	a.cfg = cfg
	a.logger, err = newLogger(cfg.LogLevel, a.debug)
	return err
}

func newLogger(level string, debug bool) (*zap.Logger, error) {
	zcfg := zap.NewProductionConfig()
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}
	if debug {
		lvl = zapcore.DebugLevel
	}
	zcfg.Level = zap.NewAtomicLevelAt(lvl)
	zcfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	return zcfg.Build()
}

func (a *app) client() (*client.Client, error) {
	timeout := a.cfg.API.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return client.New(a.cfg.API.BaseURL, client.WithTimeout(timeout), client.WithLogger(a.logger))
}
