// ABOUTME: Entry point for the CRM sync connector
// ABOUTME: Wires config, clients, orchestrator and the HTTP surface
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/harperreed/crmsync/config"
	"github.com/harperreed/crmsync/platform"
	"github.com/harperreed/crmsync/remote"
	"github.com/harperreed/crmsync/sync"
	"github.com/harperreed/crmsync/web"
	"github.com/harperreed/crmsync/webhook"
)

const version = "0.1.0"

func main() {
	showVersion := flag.Bool("version", false, "Show version and exit")
	addr := flag.String("addr", ":8082", "Listen address")
	debug := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	if *showVersion {
		fmt.Printf("crmsync version %s\n", version)
		os.Exit(0)
	}

	level := slog.LevelInfo
	if *debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	settings, err := config.Load()
	if err != nil {
		logger.Error("failed to load settings", "error", err)
		os.Exit(1)
	}
	if !settings.IsConfigured() {
		logger.Warn("remote credentials not configured; batches will be acknowledged and dropped")
	}
	if settings.PlatformURL == "" {
		logger.Error("platform_url is not configured")
		os.Exit(1)
	}

	api := remote.NewClient(remote.ClientSettings{
		Username:      settings.APIUsername,
		APIKey:        settings.APIKey,
		DiscoveryURL:  settings.DiscoveryURL,
		ConnectorID:   settings.ConnectorID,
		ConfigVersion: settings.ConfigVersion,
		Secret:        settings.Secret,
	}, remote.WithLogger(logger))

	pf := platform.NewHTTPClient(settings.PlatformURL, settings.Secret)

	orchestrator, err := sync.NewOrchestrator(settings, api, pf, logger)
	if err != nil {
		logger.Error("invalid outbound mappings", "error", err)
		os.Exit(1)
	}

	reconciler := webhook.NewReconciler(api, pf, orchestrator.Mapper(), logger)
	orchestrator.SetTimelineReplayer(reconciler)

	server := web.NewServer(orchestrator, reconciler, logger)
	if err := server.Start(*addr); err != nil {
		logger.Error("server stopped", "error", err)
		os.Exit(1)
	}
}
