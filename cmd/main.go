package main

import (
	"context"
	"errors"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/avriley/syncopate/internal/shared"
)

func main() {
	logger := shared.NewLogger(nil)

	config := shared.DefaultConfig()
	if _, err := os.Stat("config.toml"); err == nil {
		if loaded, err := shared.LoadConfig("config.toml"); err == nil {
			config = loaded
		} else {
			logger.Warn("ignoring unreadable config.toml", "err", err)
		}
	}
	config.LoadEnv()

	runner := NewRunner(RunnerOpts{Config: config, Logger: logger})
	defer runner.Close()

	app := &cli.Command{
		Name:     "syncopate",
		Usage:    "Sync listening history, likes and playlists across music services",
		Version:  "0.3.0",
		Commands: runner.register(),
	}

	if err := app.Run(context.Background(), os.Args); err != nil {
		if errors.Is(err, shared.ErrNotImplemented) {
			logger.Warn("not implemented")
			os.Exit(0)
		}
		logger.Error("command failed", "err", err)
		os.Exit(1)
	}
}
