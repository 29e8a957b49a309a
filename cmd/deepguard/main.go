// deepguard serves and runs deepfake detections against hosted inference providers.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"deepguard/internal/config"
	"deepguard/internal/logging"
)

var version = "dev"

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

// errExit signals a non-zero exit after the command already reported why.
var errExit = errors.New("exit")

func run(args []string, stdout, stderr io.Writer) int {
	root := newRootCmd(stdout, stderr)
	if args == nil {
		args = []string{}
	}
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	if err := root.ExecuteContext(ctx); err != nil {
		if !errors.Is(err, errExit) {
			fmt.Fprintf(stderr, "deepguard: %v\n", err)
		}
		return 1
	}
	return 0
}

type globalOpts struct {
	configPath string
	envFile    string
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	opts := &globalOpts{}
	root := &cobra.Command{
		Use:           "deepguard",
		Short:         "Deepfake detection orchestration service",
		Version:       version,
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	root.PersistentFlags().StringVar(&opts.configPath, "config", os.Getenv("DG_CONFIG"), "Path to YAML config file")
	root.PersistentFlags().StringVar(&opts.envFile, "env-file", ".env", "Path to a .env file loaded before config")

	root.AddCommand(
		newServeCmd(opts),
		newDetectCmd(opts, stdout),
		newModelsCmd(opts, stdout),
		newProbeCmd(opts, stdout, stderr),
	)
	return root
}

// loadConfig reads .env, then the YAML config with env overrides.
func loadConfig(opts *globalOpts) (config.Config, error) {
	if err := config.LoadEnvFile(opts.envFile); err != nil {
		return config.Config{}, fmt.Errorf("env file: %w", err)
	}
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return cfg, fmt.Errorf("config error: %w", err)
	}
	return cfg, nil
}

// loadRuntime is loadConfig plus the logger for commands that run detections.
// Callers own the logger and must Sync it.
func loadRuntime(opts *globalOpts) (config.Config, *zap.Logger, error) {
	cfg, err := loadConfig(opts)
	if err != nil {
		return cfg, nil, err
	}
	logger, err := logging.New(cfg.Log.Level, cfg.Dev.Mode)
	if err != nil {
		return cfg, nil, fmt.Errorf("logger: %w", err)
	}
	return cfg, logger, nil
}
