package main

import (
	"context"
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/NicolasHaas/zyeachat/pkg/client"
	"github.com/NicolasHaas/zyeachat/pkg/logging"
	"github.com/NicolasHaas/zyeachat/pkg/version"
)

type contextKey int

const contextKeyConfig contextKey = iota

func getConfig(ctx *cli.Context) *client.Config {
	return ctx.Context.Value(contextKeyConfig).(*client.Config)
}

// prepareApp sets up logging and loads the config, applying flag overrides.
func prepareApp(ctx *cli.Context) error {
	opts := logging.FromEnv("ZYEACHAT", os.Stderr)
	if ctx.IsSet("log-level") {
		opts.Level = ctx.String("log-level")
	}
	if err := logging.Setup(opts); err != nil {
		return fmt.Errorf("invalid logging config: %w", err)
	}

	cfg, err := client.LoadConfig(ctx.String("config"))
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if ctx.IsSet("api-url") {
		cfg.APIURL = ctx.String("api-url")
	}
	if ctx.IsSet("realtime-url") {
		cfg.RealtimeURL = ctx.String("realtime-url")
	}
	if ctx.IsSet("token-store") {
		cfg.TokenStore.Backend = ctx.String("token-store")
	}
	if ctx.IsSet("token-path") {
		cfg.TokenStore.Path = ctx.String("token-path")
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	ctx.Context = context.WithValue(ctx.Context, contextKeyConfig, cfg)
	return nil
}

func main() {
	app := &cli.App{
		Name:    "zyeachat",
		Usage:   "Headless Zyea Chat client",
		Version: version.String(),
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "config",
				Usage: "Path to config file",
				Value: client.DefaultConfigPath(),
			},
			&cli.StringFlag{Name: "api-url", Usage: "Backend base URL", EnvVars: []string{"ZYEACHAT_API_URL"}},
			&cli.StringFlag{Name: "realtime-url", Usage: "Realtime WebSocket URL", EnvVars: []string{"ZYEACHAT_REALTIME_URL"}},
			&cli.StringFlag{Name: "token-store", Usage: "Token store backend: memory, file, sqlite or keyring"},
			&cli.StringFlag{Name: "token-path", Usage: "Token file or database path"},
			&cli.StringFlag{Name: "log-level", Usage: "Log level: " + logging.LevelNames()},
		},
		Before: prepareApp,
		Commands: []*cli.Command{
			runCommand,
			openCommand,
			whoamiCommand,
			loginCommand,
			logoutCommand,
			linkCommand,
			configCommand,
			versionCommand,
		},
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
