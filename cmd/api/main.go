package main

import (
	"os"

	"board/api/internal/config"
	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
)

func main() {
	app := &cli.App{
		Name:  "board",
		Usage: "Anonymous threaded message board API",
		Description: `Serves the board HTTP API, the live thread sockets and the push
		fan-out. Settings come from the environment, optionally on top of a TOML
		file named by BOARD_CONFIG.`,
		Commands: []*cli.Command{
			serveCmd(),
			migrateCmd(),
			reindexCmd(),
			vapidKeysCmd(),
		},
		Action: func(ctx *cli.Context) error {
			return ctx.App.Run([]string{"", "help"})
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.WithError(err).Fatal("board exited")
	}
}

func loadConfig() (config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, err
	}
	if cfg.LogFormat == "json" {
		log.SetFormatter(&log.JSONFormatter{})
	} else {
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	}
	return cfg, nil
}
