package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/NicolasHaas/zyeachat/pkg/devserver"
	"github.com/NicolasHaas/zyeachat/pkg/logging"
	"github.com/NicolasHaas/zyeachat/pkg/version"
)

func main() {
	cfg := devserver.DefaultConfig()

	flag.StringVar(&cfg.Addr, "addr", cfg.Addr, "HTTP bind address for the API and /socket")
	flag.StringVar(&cfg.MetricsAddr, "metrics", cfg.MetricsAddr, "HTTP bind address for Prometheus /metrics (empty to disable)")
	flag.StringVar(&cfg.DBPath, "db", cfg.DBPath, "SQLite database file path")
	flag.StringVar(&cfg.SeedFile, "seed", "", "YAML file of users, conversations and groups to load on startup")
	flag.StringVar(&cfg.Secret, "secret", os.Getenv("ZYEACHAT_DEV_SECRET"), "JWT signing secret (random if empty)")
	flag.DurationVar(&cfg.TokenTTL, "token-ttl", cfg.TokenTTL, "Lifetime of issued tokens")
	flag.BoolVar(&cfg.PrintTokens, "print-tokens", cfg.PrintTokens, "Log a fresh token for every user on startup")
	flag.BoolVar(&cfg.ExportSeed, "export-seed", false, "Export the database as seed YAML and exit")

	logLevel := flag.String("log-level", "info", "Log level: "+logging.LevelNames())
	logFormat := flag.String("log-format", "text", "Log format: text or json")
	showVersion := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.Full())
		return
	}

	if err := logging.Setup(logging.Options{
		Level:  *logLevel,
		Format: *logFormat,
		Output: os.Stdout,
	}); err != nil {
		fmt.Fprintf(os.Stderr, "invalid logging config: %v\n", err)
		os.Exit(1)
	}

	st, err := devserver.OpenStore(cfg.DBPath)
	if err != nil {
		slog.Error("open database", "err", err)
		os.Exit(1)
	}
	defer st.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.ExportSeed {
		data, err := devserver.ExportSeed(ctx, st)
		if err != nil {
			slog.Error("export seed", "err", err)
			os.Exit(1)
		}
		fmt.Print(string(data))
		return
	}

	srv := devserver.New(cfg, devserver.Dependencies{Store: st})
	if err := srv.Run(ctx); err != nil {
		slog.Error("server error", "err", err)
		os.Exit(1)
	}
}
