package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/ojdaemon/ojd/internal/config"
	"github.com/ojdaemon/ojd/internal/daemon"
	"github.com/ojdaemon/ojd/internal/ojlog"
)

func main() {
	var (
		configPath = flag.String("config", "", "path to ojd.toml (defaults to <dir>/.oj/config.toml)")
		baseDir    = flag.String("dir", "", "project root ojd manages (defaults to the working directory)")
	)
	flag.Parse()

	if err := run(*configPath, *baseDir); err != nil {
		fmt.Fprintf(os.Stderr, "ojd: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath, baseDir string) error {
	if baseDir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return fmt.Errorf("resolving working directory: %w", err)
		}
		baseDir = wd
	}

	var cfg *config.Config
	var err error
	if configPath != "" {
		cfg, err = config.Load(configPath)
	} else {
		cfg, err = config.LoadFromDir(baseDir)
	}
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	logger, closer, err := ojlog.NewFromConfig(cfg, baseDir)
	if err != nil {
		return fmt.Errorf("setting up logging: %w", err)
	}
	if closer != nil {
		defer closer.Close()
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("ojd starting", "namespace", cfg.Namespace, "dir", baseDir)
	err = daemon.Run(ctx, cfg, baseDir, logger)
	logger.Info("ojd stopped")
	return err
}
