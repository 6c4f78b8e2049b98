package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/clawbot/coordinator/internal/api"
	"github.com/clawbot/coordinator/internal/auth"
	"github.com/clawbot/coordinator/internal/bots"
	"github.com/clawbot/coordinator/internal/cache"
	"github.com/clawbot/coordinator/internal/coordinator"
	"github.com/clawbot/coordinator/internal/database"
	"github.com/clawbot/coordinator/internal/events"
	"github.com/clawbot/coordinator/internal/hub"
	"github.com/clawbot/coordinator/internal/logging"
	"github.com/clawbot/coordinator/internal/sweeper"
	"github.com/clawbot/coordinator/internal/telemetry"
	"github.com/clawbot/coordinator/pkg/config"
)

// version and commit are stamped at build time:
// go build -ldflags "-X main.version=1.2.3 -X main.commit=$(git rev-parse --short HEAD)"
var (
	version = "dev"
	commit  = "none"
)

func main() {
	log.SetFlags(log.LstdFlags)

	configPath := flag.String("config", "config.yaml", "Path to configuration file")
	showVersion := flag.Bool("version", false, "Show version information")
	flag.Parse()

	if *showVersion {
		fmt.Printf("clawbot-coordinator %s (%s)\n", version, commit)
		return
	}

	// Capture logs in the ring buffer behind /api/v1/logs while still
	// writing them to stderr.
	logs := logging.Install()

	cfg := loadConfig(*configPath)

	runCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.Telemetry.OTLPEndpoint != "" {
		shutdown, err := telemetry.InitTelemetry(runCtx, cfg.Telemetry.ServiceName, cfg.Telemetry.OTLPEndpoint)
		if err != nil {
			log.Fatalf("[Main] telemetry init failed: %v", err)
		}
		defer shutdown(context.Background())
	}

	store := openStore(cfg)
	defer store.Close()

	publisher := openPublisher(cfg)
	defer publisher.Close()

	results := cache.NewResults(openCacheBackend(cfg), cfg.Cache.TTL)

	registry := bots.NewRegistry(store, publisher)
	h := hub.New(registry, &hub.Options{
		HeartbeatInterval: cfg.Coordinator.HeartbeatInterval,
		HeartbeatTimeout:  cfg.Coordinator.HeartbeatTimeout,
		SendQueueSize:     cfg.Coordinator.SendQueueSize,
	})
	coord := coordinator.New(store, registry, h, publisher, results)
	h.SetHandler(coord)

	sw := sweeper.New(store, coord, cfg.Coordinator.SweepInterval)
	go h.Run(runCtx)
	go sw.Run(runCtx)

	// Hot-reload the sweep cadence when the config file changes.
	if _, err := os.Stat(*configPath); err == nil {
		go func() {
			err := config.Watch(runCtx, *configPath, func(next *config.Config) {
				sw.SetInterval(next.Coordinator.SweepInterval)
			})
			if err != nil && runCtx.Err() == nil {
				log.Printf("[Main] config watch stopped: %v", err)
			}
		}()
	}

	authMgr := auth.NewManager(cfg.Security)
	apiServer := api.NewServer(registry, coord, h, store, authMgr, logs, cfg)

	httpSrv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.HTTPPort),
		Handler:      apiServer.Routes(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.Printf("[Main] clawbot-coordinator %s listening on %s (store=%s, auth=%v)",
			version, httpSrv.Addr, cfg.Storage.Driver, authMgr.Enabled())
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("[Main] http server error: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Println("[Main] shutting down")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Printf("[Main] shutdown error: %v", err)
	}
	log.Println("[Main] stopped")
}

// loadConfig reads the config file, falling back to defaults when the
// default path does not exist. An explicit path must load.
func loadConfig(path string) *config.Config {
	cfg, err := config.LoadFromFile(path)
	if err == nil {
		log.Printf("[Main] loaded config from %s", path)
		return cfg
	}
	if os.IsNotExist(err) && path == "config.yaml" {
		log.Printf("[Main] no config file, using defaults")
		return config.DefaultConfig()
	}
	log.Fatalf("[Main] load config %s: %v", path, err)
	return nil
}

func openStore(cfg *config.Config) database.Store {
	switch cfg.Storage.Driver {
	case "postgres":
		store, err := database.NewPostgres(cfg.Storage.DSN)
		if err != nil {
			log.Fatalf("[Main] connect postgres: %v", err)
		}
		return store
	default:
		return database.NewMemory()
	}
}

func openPublisher(cfg *config.Config) events.Publisher {
	if cfg.Events.NATSURL == "" {
		return events.Noop{}
	}
	pub, err := events.NewNatsPublisher(events.Config{
		URL:           cfg.Events.NATSURL,
		SubjectPrefix: cfg.Events.SubjectPrefix,
	})
	if err != nil {
		// Events are best-effort; a dead broker must not stop the
		// control plane.
		log.Printf("[Main] NATS unavailable, events disabled: %v", err)
		return events.Noop{}
	}
	return pub
}

func openCacheBackend(cfg *config.Config) cache.Backend {
	switch cfg.Cache.Backend {
	case "redis":
		backend, err := cache.NewRedis(cfg.Cache.RedisAddr, cfg.Cache.RedisDB, "clawbot")
		if err != nil {
			log.Fatalf("[Main] connect redis: %v", err)
		}
		return backend
	case "none":
		return nil
	default:
		return cache.NewMemory(0)
	}
}
