package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/redis/go-redis/v9"

	"github.com/baseleldalil/Morsel-App-sub000/internal/api"
	"github.com/baseleldalil/Morsel-App-sub000/internal/browser"
	"github.com/baseleldalil/Morsel-App-sub000/internal/config"
	"github.com/baseleldalil/Morsel-App-sub000/internal/dupguard"
	"github.com/baseleldalil/Morsel-App-sub000/internal/feed"
	"github.com/baseleldalil/Morsel-App-sub000/internal/media"
	"github.com/baseleldalil/Morsel-App-sub000/internal/pacing"
	"github.com/baseleldalil/Morsel-App-sub000/internal/pkg/clock"
	"github.com/baseleldalil/Morsel-App-sub000/internal/report"
	"github.com/baseleldalil/Morsel-App-sub000/internal/repository/postgres"
	"github.com/baseleldalil/Morsel-App-sub000/internal/service/campaign"
	"github.com/baseleldalil/Morsel-App-sub000/internal/worker"
)

// checkPortAvailable verifies that the target port is not already in use.
// This prevents confusion from a stale process occupying the port.
func checkPortAvailable(host string, port int) error {
	addr := fmt.Sprintf("%s:%d", host, port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("port %d is already in use (addr %s): %v\n"+
			"  Hint: run 'lsof -i :%d' to find the blocking process", port, addr, err, port)
	}
	ln.Close()
	return nil
}

// extractHost pulls the host:port portion out of a DSN for logging without
// leaking credentials.
func extractHost(dsn string) string {
	at := strings.Index(dsn, "@")
	if at < 0 {
		return "(unknown)"
	}
	rest := dsn[at+1:]
	if slash := strings.Index(rest, "/"); slash >= 0 {
		rest = rest[:slash]
	}
	return rest
}

func main() {
	log.Println("╔════════════════════════════════════════════════════════════╗")
	log.Println("║  Morsel Messaging Server (cmd/server/main.go)              ║")
	log.Println("║  Campaign orchestration over browser-driven messaging      ║")
	log.Println("╚════════════════════════════════════════════════════════════╝")

	cfg, err := config.LoadFromEnv("config/config.yaml")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if os.Getenv("DATABASE_URL") != "" {
		log.Println("[config] DATABASE_URL env override active")
	}

	// Pre-flight: verify the target port is available.
	host := cfg.Server.GetHost()
	port := cfg.Server.Port
	if port == 0 {
		port = 8080
		cfg.Server.Port = port
	}
	if err := checkPortAvailable(host, port); err != nil {
		log.Fatalf("Pre-flight check FAILED: %v", err)
	}
	log.Printf("Pre-flight check passed: port %d is available", port)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Database. Unlike most integrations this one is not optional: every
	// campaign, workflow entry, and duplicate-guard record lives here.
	if cfg.Database.URL == "" {
		log.Fatal("DATABASE_URL is required")
	}
	log.Printf("DB URL host portion: ...@%s/...", extractHost(cfg.Database.URL))
	db, err := sql.Open("postgres", cfg.Database.URL)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.Database.ConnMaxLifetime())

	pingCtx, pingCancel := context.WithTimeout(ctx, 5*time.Second)
	if err := db.PingContext(pingCtx); err != nil {
		pingCancel()
		log.Fatalf("Database ping failed: %v", err)
	}
	pingCancel()
	log.Println("Database connected")

	// Redis is optional: it accelerates the duplicate guard and carries
	// campaign events; everything degrades to Postgres without it.
	var rdb *redis.Client
	if cfg.Redis.Enabled {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		pingCtx, pingCancel := context.WithTimeout(ctx, 3*time.Second)
		if err := rdb.Ping(pingCtx).Err(); err != nil {
			log.Printf("Warning: Redis connection failed (%s): %v — continuing on Postgres alone", cfg.Redis.Addr, err)
			rdb.Close()
			rdb = nil
		} else {
			log.Printf("Redis connected: %s", cfg.Redis.Addr)
		}
		pingCancel()
	} else {
		log.Println("Redis not configured (REDIS_ADDR not set) — duplicate guard runs on Postgres alone")
	}

	// Attachment archive: S3 when configured, local disk otherwise.
	var archive media.Archive
	var archivePinger api.ArchivePinger
	if cfg.Media.S3Enabled {
		s3Archive, err := media.NewS3Archive(ctx, cfg.Media)
		if err != nil {
			log.Fatalf("Failed to initialize S3 archive: %v", err)
		}
		archive = s3Archive
		archivePinger = s3Archive
		log.Printf("Attachment archive: S3 bucket %s", cfg.Media.S3Bucket)
	} else {
		diskArchive := media.NewDiskArchive(cfg.Media.Dir)
		archive = diskArchive
		archivePinger = diskArchive
		log.Printf("Attachment archive: disk at %s", cfg.Media.Dir)
	}
	mediaSvc := media.NewService(cfg.Media, archive)

	// Stores and domain services.
	clk := clock.New()
	wfStore := postgres.NewWorkflowStore(db)
	campaignRepo := postgres.NewCampaignRepo(db)
	sentPhones := postgres.NewSentPhoneRepo(db)

	guard := dupguard.NewService(sentPhones, rdb)
	pacer := pacing.NewEngine(db, rdb, cfg.Pacing, clk)

	browserMgr := browser.NewManager(cfg.Browser)
	sessions := worker.NewBrowserSessions(browserMgr, cfg.Browser)
	events := worker.NewPublisher(rdb, clk)

	orch := worker.NewOrchestrator(worker.OrchestratorDeps{
		DB:       db,
		Redis:    rdb,
		Store:    wfStore,
		Guard:    guard,
		Pacer:    pacer,
		Sessions: sessions,
		Events:   events,
		Config:   cfg.Executor,
		Clock:    clk,
	})

	reporter := report.New(db, orch, clk)
	campaignSvc := campaign.NewService(campaignRepo, guard, mediaSvc)
	feedSvc := feed.NewService(db, cfg.Feed)

	// Janitor: reconciles campaigns left Running by a dead process and
	// recovers orphaned Processing entries.
	janitor := worker.NewJanitor(db, rdb, wfStore, orch, events, cfg.Executor, clk)
	go janitor.Start(ctx)
	log.Println("Janitor started (reconciles stale running campaigns)")

	health := api.NewHealthChecker(db, rdb, archivePinger, orch)
	handlers := api.NewHandlers(api.Deps{
		Campaigns:  campaignSvc,
		Control:    orch,
		Progress:   reporter,
		Pacing:     pacer,
		Feeds:      feedSvc,
		Health:     health,
		AdminToken: cfg.Admin.Token,
	})
	if cfg.Admin.Token == "" {
		log.Println("Warning: MORSEL_ADMIN_TOKEN not set — browser force-close endpoint disabled")
	}

	server := api.NewServer(cfg, handlers)

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		log.Printf("Starting server on %s:%d", host, port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	log.Println("All services initialized — server is ready")

	<-done
	log.Println("Shutting down...")

	// Stop background tasks first, then drain HTTP, then pause campaigns.
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server shutdown error: %v", err)
	}

	// Pause every live campaign so entries park as Pending, not Processing,
	// and close the browsers.
	if err := orch.Shutdown(shutdownCtx); err != nil {
		log.Printf("Orchestrator shutdown error: %v", err)
	}

	if rdb != nil {
		rdb.Close()
	}
	db.Close()

	log.Println("Server stopped")
}
