// Command refresh re-fetches every connected account's profile picture once
// and stores the current URLs.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"maps"
	"net/http"
	"os"
	"os/signal"
	"slices"
	"syscall"

	"github.com/jessevdk/go-flags"
	"golang.org/x/time/rate"

	"postdeck.app/connect/common/logger"
	"postdeck.app/connect/core/config"
	"postdeck.app/connect/core/db"
	"postdeck.app/connect/internal/graph"
	"postdeck.app/connect/internal/mirror"
	"postdeck.app/connect/internal/service"
	"postdeck.app/connect/internal/store"
)

type options struct {
	Clients []string `short:"c" long:"client" description:"Only refresh this client (repeatable)"`
	DryRun  bool     `short:"n" long:"dry-run" description:"List the clients that would be refreshed without calling the Graph API"`
	JSON    bool     `long:"json" description:"Print the summary as JSON"`
	Rate    float64  `long:"rate" description:"Graph API requests per second (overrides REFRESH_RATE)"`
}

func main() {
	var opts options
	parser := flags.NewParser(&opts, flags.Default)
	parser.Usage = "[OPTIONS]"
	if _, err := parser.Parse(); err != nil {
		if flags.WroteHelp(err) {
			os.Exit(0)
		}
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, opts); err != nil {
		slog.ErrorContext(ctx, "refresh failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, opts options) error {
	cfg, err := config.Load(config.ServiceTypeRefresh)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	logger.Setup(cfg)
	ctx = logger.WithLogFields(ctx, logger.LogFields{Component: "connect.refresh"})

	database, err := db.New(ctx, cfg.DB)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer database.Close()

	httpClient := &http.Client{Timeout: cfg.Graph.Timeout}
	graphClient := graph.NewClient(graph.Config{
		AppID:     cfg.Graph.AppID,
		AppSecret: cfg.Graph.AppSecret,
		BaseURL:   cfg.Graph.BaseURL,
		DialogURL: cfg.Graph.DialogURL,
		Version:   cfg.Graph.APIVersion,
		Scopes:    cfg.Graph.Scopes,
		Timeout:   cfg.Graph.Timeout,
	}, httpClient)

	var pictureMirror service.PictureMirror
	if cfg.Mirror.Enabled() {
		m, err := mirror.New(mirror.Config{
			Endpoint:      cfg.Mirror.Endpoint,
			AccessKey:     cfg.Mirror.AccessKey,
			SecretKey:     cfg.Mirror.SecretKey,
			Bucket:        cfg.Mirror.Bucket,
			Region:        cfg.Mirror.Region,
			PublicBaseURL: cfg.Mirror.PublicBaseURL,
			UseSSL:        cfg.Mirror.UseSSL,
		}, httpClient)
		if err != nil {
			return fmt.Errorf("configuring picture mirror: %w", err)
		}
		pictureMirror = m
	}

	refreshRate := cfg.Refresh.Rate
	if opts.Rate > 0 {
		refreshRate = opts.Rate
	}

	connections := service.NewConnectionService(
		store.NewStores(database.Queries()).Connections(),
		service.NewTxRunner(database),
		graphClient,
		pictureMirror,
		nil,
		service.ConnectionConfig{
			RefreshRate:      rate.Limit(refreshRate),
			RefreshBurst:     cfg.Refresh.Burst,
			BreakerThreshold: cfg.Refresh.BreakerThreshold,
		},
	)

	summary, err := connections.RefreshAll(ctx, service.RefreshOptions{
		ClientIDs: opts.Clients,
		DryRun:    opts.DryRun,
	})
	if err != nil {
		return err
	}

	if opts.JSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(summary)
	}
	printSummary(summary, opts.DryRun)
	return nil
}

func printSummary(summary *service.RefreshSummary, dryRun bool) {
	if dryRun {
		fmt.Printf("%d connected clients would be refreshed\n", summary.Total)
		for _, clientID := range slices.Sorted(maps.Keys(summary.URLs)) {
			fmt.Printf("  %s\t%s\n", clientID, summary.URLs[clientID])
		}
		return
	}

	fmt.Printf("refreshed %d of %d clients\n", summary.Refreshed, summary.Total)
	for _, clientID := range slices.Sorted(maps.Keys(summary.Failures)) {
		fmt.Printf("  failed   %s: %s\n", clientID, summary.Failures[clientID])
	}
	for _, clientID := range summary.Skipped {
		fmt.Printf("  skipped  %s\n", clientID)
	}
}
