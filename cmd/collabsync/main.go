package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"collabsync/internal/cache"
	"collabsync/internal/config"
	"collabsync/internal/coordinator"
	"collabsync/internal/models"
	"collabsync/internal/netmon"
	"collabsync/internal/notify"
	"collabsync/internal/platform"
	"collabsync/internal/scheduler"
	"collabsync/internal/server"
	"collabsync/internal/transport"
)

func main() {
	var (
		configPath = flag.String("config", "config.yaml", "path to configuration file (YAML)")
		addr       = flag.String("addr", "", "address for the status API (overrides config)")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	listenAddr := cfg.ListenAddr
	if *addr != "" {
		listenAddr = *addr
	}

	store, err := buildCache(cfg)
	if err != nil {
		log.Fatalf("initialise cache: %v", err)
	}

	hub := platform.NewHub()
	sched := scheduler.NewTicker()

	sampler := netmon.NewHTTPSampler(
		cfg.Probe.URL,
		time.Duration(cfg.Probe.TimeoutSeconds)*time.Second,
		time.Duration(cfg.Probe.StabilityCutoffMs)*time.Millisecond,
	)
	monitor := netmon.New(hub, sampler, sched, netmon.Options{
		HealthInterval: time.Duration(cfg.Monitor.HealthIntervalSeconds) * time.Second,
		Thresholds: netmon.Thresholds{
			DownlinkMbps: cfg.Monitor.DownlinkDeltaMbps,
			RoundTripMs:  cfg.Monitor.RoundTripDeltaMs,
		},
		MaxHistory: cfg.Monitor.MaxHistory,
	})

	var dispatcher notify.Dispatcher
	if cfg.Notifications.WebhookURL != "" {
		dispatcher = notify.NewWebhook(cfg.Notifications.WebhookURL)
	}
	resolver := notify.NewResolver(cfg.Notifications.ResourcePaths)

	var source coordinator.EventSource
	if cfg.Transport.BacklogBaseURL != "" {
		source = transport.NewBacklogClient(cfg.Transport.BacklogBaseURL, cfg.Transport.APIKey)
	}

	// The websocket client and the coordinator reference each other: events
	// flow client -> coordinator, subscriptions flow coordinator -> client.
	var coord *coordinator.Coordinator
	wsClient := transport.NewWSClient(cfg.Transport.WebsocketURL, func(ev models.CollaborationEvent) {
		coord.HandleCollaborationEvent(ev)
	}, hub)

	coord = coordinator.New(coordinator.Config{
		CurrentUserID:  cfg.CurrentUserID,
		PollInterval:   time.Duration(cfg.Coordinator.PollIntervalSeconds) * time.Second,
		BufferCap:      cfg.Coordinator.BufferCap,
		PendingTagTTL:  time.Duration(cfg.Coordinator.PendingTagTTLSeconds) * time.Second,
		DrainBatchSize: cfg.Coordinator.DrainBatchSize,
		LiveQuery:      cfg.Coordinator.LiveQuery,
	}, coordinator.Deps{
		States:     monitor,
		Signals:    hub,
		Subs:       wsClient,
		Dispatcher: dispatcher,
		Resolver:   resolver,
		Cache:      store,
		Source:     source,
		Sched:      sched,
	})

	monitor.Initialize(coord.RequestResync)
	defer monitor.Destroy()

	if cfg.Transport.WebsocketURL != "" {
		wsClient.Start()
		defer wsClient.Stop()
	}

	var watcher *platform.DialWatcher
	if cfg.DialProbe.Enabled {
		watcher = platform.NewDialWatcher(hub, cfg.DialProbe.Target,
			time.Duration(cfg.DialProbe.IntervalSeconds)*time.Second,
			time.Duration(cfg.DialProbe.TimeoutSeconds)*time.Second)
		watcher.Start()
		defer watcher.Stop()
	}

	coord.Start()
	defer coord.Stop()

	srv := server.New(listenAddr, monitor, coord, hub)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Printf("server shutdown: %v", err)
		}
	}()

	log.Printf("collabsync listening on %s (user %s)", listenAddr, cfg.CurrentUserID)
	if err := srv.Run(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("server error: %v", err)
	}
}

func buildCache(cfg config.Config) (cache.Cache, error) {
	switch cfg.CacheBackend {
	case "memory":
		return cache.NewMemory(), nil
	case "redis":
		return cache.NewRedis(cfg.RedisURL, "collabsync")
	default:
		return cache.NewFile(filepath.Join(cfg.DataDirectory, "collabsync_cache.json"))
	}
}
