package main

import (
	"fmt"
	"os"

	"github.com/leeforge/pluginhost/config"
	"github.com/leeforge/pluginhost/logging"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
)

func main() {
	if err := newApp(newHostBuilder(nil)).Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

const (
	hostKey   = "host"
	loggerKey = "logger"
)

func newApp(build hostBuilder) *cli.App {
	return &cli.App{
		Name:  "pluginctl",
		Usage: "inspect, install and exercise plugins of a plugin host",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Usage:   "directory holding config.yaml and its mode layers",
				EnvVars: []string{"PLUGINHOST_CONFIG_PATH"},
				Value:   "config",
			},
			&cli.StringFlag{
				Name:    "env",
				Usage:   "config mode: development, production or test",
				EnvVars: []string{config.EnvModeKey},
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "override log.level",
			},
		},
		Before: func(c *cli.Context) error {
			opts := config.DefaultOptions()
			opts.BasePath = c.String("config")
			opts.Mode = config.ParseEnvMode(c.String("env"))

			cfg, _, err := config.LoadHost(opts)
			if err != nil {
				return err
			}
			if lvl := c.String("log-level"); lvl != "" {
				cfg.Log.Level = lvl
			}

			logger, closeLog, err := logging.New(cfg.Log)
			if err != nil {
				return err
			}
			h, err := build(c.Context, cfg, logger)
			if err != nil {
				_ = closeLog()
				return err
			}
			h.closers = append(h.closers, closeLog)

			c.App.Metadata = map[string]any{hostKey: h, loggerKey: logger}
			return nil
		},
		After: func(c *cli.Context) error {
			h, ok := c.App.Metadata[hostKey].(*host)
			if !ok {
				return nil
			}
			return h.Close(c.Context)
		},
		Commands: commands(),
	}
}

func hostOf(c *cli.Context) *host {
	return c.App.Metadata[hostKey].(*host)
}

func loggerOf(c *cli.Context) *zap.Logger {
	return c.App.Metadata[loggerKey].(*zap.Logger)
}
