package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/urfave/cli/v3"

	"github.com/compresr/llm-gateway/internal/config"
	"github.com/compresr/llm-gateway/internal/monitoring"
)

const (
	configFlag  = "config"
	envFileFlag = "env-file"
	debugFlag   = "debug"

	defaultConfigPath = "llm-gateway.yaml"
	defaultEnvFile    = ".env"
)

func rootCommand() *cli.Command {
	return &cli.Command{
		Name:            "llm-gateway",
		Usage:           "Route generation requests across LLM providers",
		HideHelpCommand: true,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    configFlag,
				Aliases: []string{"c"},
				Usage:   "Gateway config file",
				Sources: cli.EnvVars("LLM_GATEWAY_CONFIG"),
			},
			&cli.StringFlag{
				Name:  envFileFlag,
				Usage: "Environment file loaded before the config is expanded",
				Value: defaultEnvFile,
			},
			&cli.BoolFlag{
				Name:    debugFlag,
				Aliases: []string{"d"},
				Usage:   "Enable debug logging",
			},
		},
		Before: loadEnv,
		Commands: []*cli.Command{
			serveCommand(),
			benchmarkCommand(),
			budgetCommand(),
		},
	}
}

// loadEnv loads the env file. A missing default file is not an error.
func loadEnv(ctx context.Context, cmd *cli.Command) (context.Context, error) {
	path := cmd.String(envFileFlag)
	if path == "" {
		return ctx, nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, os.ErrNotExist) && !cmd.IsSet(envFileFlag) {
			return ctx, nil
		}
		return ctx, fmt.Errorf("load env file %s: %w", path, err)
	}
	return ctx, nil
}

// loadConfig reads the --config file, or llm-gateway.yaml when present, or
// falls back to defaults.
func loadConfig(cmd *cli.Command) (*config.Config, error) {
	path := cmd.String(configFlag)
	if path == "" {
		if _, err := os.Stat(defaultConfigPath); err != nil {
			return config.Default(), nil
		}
		path = defaultConfigPath
	}
	return config.Load(path)
}

// setupLogging installs the configured logger. --debug overrides the level.
func setupLogging(cmd *cli.Command, cfg *config.Config) (func(), error) {
	closer, err := monitoring.SetupLogger(monitoring.LoggerConfig{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	})
	if err != nil {
		return nil, fmt.Errorf("setup logging: %w", err)
	}
	if cmd.Bool(debugFlag) {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
	return func() { _ = closer.Close() }, nil
}
