package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/meridian-health/claims-platform/internal/adjudication"
	"github.com/meridian-health/claims-platform/internal/audit"
	"github.com/meridian-health/claims-platform/internal/claim"
	"github.com/meridian-health/claims-platform/internal/evaluator"
	"github.com/meridian-health/claims-platform/internal/ingest"
	"github.com/meridian-health/claims-platform/internal/rules"
	"github.com/meridian-health/claims-platform/internal/shared/auth"
	"github.com/meridian-health/claims-platform/internal/shared/config"
	"github.com/meridian-health/claims-platform/internal/shared/database"
	"github.com/meridian-health/claims-platform/internal/shared/events"
	"github.com/meridian-health/claims-platform/internal/shared/metrics"
	secmiddleware "github.com/meridian-health/claims-platform/internal/shared/middleware"
	"github.com/meridian-health/claims-platform/internal/switchfeed"
)

// App holds all application dependencies
type App struct {
	Config *config.Config
	DB     *database.DB
	Bus    *events.Bus
	Switch *switchfeed.Adapter
}

func main() {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	app := &App{Config: cfg}

	// The claim store is not optional: without it nothing can be ingested
	db, err := database.New(ctx, cfg.Database)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to connect to database: %v\n", err)
		os.Exit(1)
	}
	app.DB = db
	defer db.Close()

	if err := database.Migrate(ctx, db.Pool); err != nil {
		fmt.Fprintf(os.Stderr, "migration failed: %v\n", err)
		os.Exit(1)
	}

	// Event bus with KurrentDB (optional - the pipeline degrades to
	// log-only eventing without it)
	bus, err := events.NewBus(ctx, cfg.KurrentDB)
	if err != nil {
		fmt.Printf("Warning: KurrentDB not available: %v\n", err)
		fmt.Println("Running without event streaming...")
	} else {
		app.Bus = bus
		defer bus.Close()
		fmt.Println("KurrentDB event bus initialized")
	}

	// Audit trail. The hash chain lives in KurrentDB; without it audit
	// appends are logged and dropped.
	var auditRepo audit.Repository
	if app.Bus != nil {
		kurrentRepo := audit.NewKurrentDBRepository(app.Bus.Client())
		if err := kurrentRepo.Initialize(ctx); err != nil {
			fmt.Printf("Warning: audit initialization failed: %v\n", err)
		}
		auditRepo = kurrentRepo
	}
	auditor := audit.NewRecorder(auditRepo)

	// Repositories
	claimRepo := claim.NewPostgresRepository(db.Pool)
	rulesRepo := rules.NewRepository(db.Pool)

	// Adjudication pipeline
	contextCache := adjudication.NewContextCache(rulesRepo, cfg.Cache)
	evalClient := evaluator.NewClient(cfg.Evaluator)
	if !cfg.Evaluator.Enabled {
		fmt.Println("Warning: evaluator disabled, adjudication runs will fail until it is enabled")
	}
	pipeline := adjudication.NewPipeline(evalClient, cfg.Pipeline)
	orchestrator := adjudication.NewOrchestrator(claimRepo, contextCache, pipeline, auditor, app.Bus, cfg.Pipeline)

	// Ingestion queues and their consumers
	bulkQueue := ingest.NewQueue[ingest.BulkBatch]("bulk")
	adjQueue := ingest.NewQueue[ingest.Event]("adjudication")
	bulkProcessor := ingest.NewBulkProcessor(claimRepo, auditor, adjQueue)
	dispatcher := ingest.NewDispatcher(claimRepo, auditor, orchestrator)
	worker := ingest.NewWorker(bulkQueue, adjQueue, bulkProcessor, dispatcher, cfg.Ingest.StartupDelay)
	if err := worker.Start(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "failed to start ingest worker: %v\n", err)
		os.Exit(1)
	}

	// Switch feed poller (optional)
	if cfg.Switch.Enabled {
		adapter := switchfeed.New(cfg.Switch, adjQueue)
		if err := adapter.Start(ctx); err != nil {
			fmt.Printf("Warning: switch feed adapter failed to start: %v\n", err)
		} else {
			app.Switch = adapter
			fmt.Printf("Switch feed polling %s every %s\n", cfg.Switch.StagingTable, cfg.Switch.PollInterval)
		}
	}

	// Audit subscriber mirrors platform events into the audit chain
	if app.Bus != nil && auditRepo != nil {
		subscriber := audit.NewSubscriber(auditRepo, app.Bus)
		if err := subscriber.Start(ctx); err != nil {
			fmt.Printf("Warning: audit subscriber failed to start: %v\n", err)
		}
	}

	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(secmiddleware.SecurityHeaders)
	r.Use(secmiddleware.MaxBodyBytes(10 << 20))
	r.Use(metrics.Middleware)
	r.Use(corsMiddleware)

	// Health checks (unauthenticated)
	r.Get("/health", healthHandler(app))
	r.Get("/ready", readyHandler(app))
	r.Handle("/metrics", metrics.Handler())

	r.Get("/", infoHandler)

	r.Route("/api/v1", func(r chi.Router) {
		if cfg.Server.Env == "production" {
			r.Use(auth.Middleware(cfg.Auth))
			r.Use(secmiddleware.RateLimiter(50, 100))
		}

		gateway := ingest.NewQueueGateway(bulkQueue, adjQueue)
		claimHandler := claim.NewHandler(claimRepo, gateway, auditor, app.Bus)
		r.Mount("/claims", claimHandler.Routes())

		rulesHandler := rules.NewHandler(rulesRepo, app.Bus, auditor, contextCache)
		r.Mount("/rules", rulesHandler.Routes())

		if auditRepo != nil {
			auditHandler := audit.NewHandler(auditRepo)
			r.Mount("/audit", auditHandler.Routes())
		}

		evalHandler := evaluator.NewHandler(evalClient)
		r.Mount("/evaluator", evalHandler.Routes())
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown: stop accepting requests, close the queues, let the
	// consumers drain, then stop the pollers.
	done := make(chan bool)
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		fmt.Println("\nShutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			fmt.Printf("Server shutdown error: %v\n", err)
		}

		if app.Switch != nil {
			if err := app.Switch.Stop(shutdownCtx); err != nil {
				fmt.Printf("Switch adapter shutdown error: %v\n", err)
			}
		}

		// Stop closes both queues and waits for the consumers to drain
		worker.Stop()

		close(done)
	}()

	fmt.Println("============================================")
	fmt.Println("Meridian Health Claims Platform")
	fmt.Println("============================================")
	fmt.Printf("Environment:  %s\n", cfg.Server.Env)
	fmt.Printf("Server:       http://localhost:%d\n", cfg.Server.Port)
	fmt.Printf("API:          http://localhost:%d/api/v1\n", cfg.Server.Port)
	fmt.Printf("Health:       http://localhost:%d/health\n", cfg.Server.Port)
	fmt.Printf("Evaluator:    %s (enabled: %v)\n", cfg.Evaluator.URL, cfg.Evaluator.Enabled)
	fmt.Printf("Switch feed:  enabled=%v\n", cfg.Switch.Enabled)
	fmt.Printf("KurrentDB:    %s:%d\n", cfg.KurrentDB.Host, cfg.KurrentDB.Port)
	fmt.Println("============================================")

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		fmt.Fprintf(os.Stderr, "server error: %v\n", err)
		os.Exit(1)
	}

	<-done
	fmt.Println("Server stopped")
}

func infoHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"name":    "Meridian Health Claims Platform",
		"version": "0.1.0",
		"docs":    "/api/v1",
	})
}

func healthHandler(app *App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]string{
			"status": "healthy",
		})
	}
}

func readyHandler(app *App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		checks := map[string]string{
			"server": "ready",
		}

		if err := app.DB.Health(r.Context()); err != nil {
			checks["database"] = "not ready: " + err.Error()
		} else {
			checks["database"] = "ready"
		}

		if app.Bus != nil {
			if err := app.Bus.Health(); err != nil {
				checks["kurrentdb"] = "not ready: " + err.Error()
			} else {
				checks["kurrentdb"] = "ready"
			}
		} else {
			checks["kurrentdb"] = "not configured"
		}

		if app.Switch != nil {
			if err := app.Switch.Health(r.Context()); err != nil {
				checks["switch_feed"] = "not ready: " + err.Error()
			} else {
				checks["switch_feed"] = "ready"
			}
		} else {
			checks["switch_feed"] = "not configured"
		}

		allReady := true
		for _, status := range checks {
			if status != "ready" && status != "not configured" {
				allReady = false
				break
			}
		}

		status := http.StatusOK
		if !allReady {
			status = http.StatusServiceUnavailable
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		json.NewEncoder(w).Encode(map[string]any{
			"status": map[bool]string{true: "ready", false: "not ready"}[allReady],
			"checks": checks,
		})
	}
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Accept, Authorization, Content-Type, X-Request-ID")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
