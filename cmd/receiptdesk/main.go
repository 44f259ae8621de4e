package main

import (
	"context"
	_ "embed"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffhelp"

	"receiptdesk/internal/api"
	"receiptdesk/internal/auth"
	"receiptdesk/internal/cli"
	"receiptdesk/internal/display"
	"receiptdesk/internal/session"
	"receiptdesk/internal/stats"
	"receiptdesk/internal/workflow"
)

//go:embed VERSION.txt
var versionFile string

var version = strings.TrimSpace(versionFile)

func main() {
	fs := ff.NewFlagSet("receiptdesk")
	var (
		apiURL         = fs.StringLong("api-url", "", "Backend base URL (default http://127.0.0.1:8000)")
		dbPath         = fs.StringLong("db", "receiptdesk.db", "Credential database file path")
		imagesPath     = fs.StringLong("images", "./receipts", "Directory for rendered receipt images")
		defaultTimeout = fs.DurationLong("timeout", 20*time.Second, "Default request timeout")
		receiptTimeout = fs.DurationLong("receipt-timeout", 15*time.Second, "Receipt submission timeout")
		statsTimeout   = fs.DurationLong("stats-timeout", 10*time.Second, "Stats fetch timeout")
		manualLogin    = fs.BoolLong("register-manual-login", "Do not sign in automatically after registration")
		logLevel       = fs.StringLong("log-level", "warn", "Log level: debug, info, warn, error")
		showVersion    = fs.BoolLong("version", "Show version information")
	)

	if err := ff.Parse(fs, os.Args[1:],
		ff.WithEnvVarPrefix("RECEIPTDESK"),
	); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", ffhelp.Flags(fs))
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	if *showVersion {
		fmt.Println(version)
		os.Exit(0)
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: parseLevel(*logLevel),
	})))

	store, err := session.NewBoltStore(*dbPath)
	if err != nil {
		slog.Error("Failed to open credential store", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	images, err := display.NewDirStore(*imagesPath)
	if err != nil {
		slog.Error("Failed to initialize image directory", "error", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	sessions := session.NewManager(store)
	go sessions.Run(ctx)

	client := api.NewClient(api.ResolveBaseURL(*apiURL, ""), sessions, api.Timeouts{
		Default: *defaultTimeout,
		Receipt: *receiptTimeout,
		Stats:   *statsTimeout,
	})

	flow := auth.NewFlow(client, sessions)
	flow.AutoLogin = !*manualLogin

	aggregator := stats.NewAggregator(client)
	receipts := workflow.New(client, aggregator, images)
	defer receipts.Close()

	app := cli.New(sessions, flow, receipts, aggregator, client, images, os.Stdin, os.Stdout)

	fmt.Printf("receiptdesk %s (backend %s)\n", version, client.BaseURL())
	if err := app.Run(ctx); err != nil {
		slog.Error("CLI error", "error", err)
		os.Exit(1)
	}
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "error":
		return slog.LevelError
	default:
		return slog.LevelWarn
	}
}
