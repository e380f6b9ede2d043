package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"

	"github.com/medphys/bulkcbct/internal/application"
	appai "github.com/medphys/bulkcbct/internal/application/ai"
	appbatches "github.com/medphys/bulkcbct/internal/application/batches"
	"github.com/medphys/bulkcbct/internal/config"
	domain "github.com/medphys/bulkcbct/internal/domain/batches"
	"github.com/medphys/bulkcbct/internal/infra/ai/openai"
	"github.com/medphys/bulkcbct/internal/infra/analyzer/pylinac"
	mysqlp "github.com/medphys/bulkcbct/internal/infra/db/mysql"
	postgresp "github.com/medphys/bulkcbct/internal/infra/db/postgres"
	"github.com/medphys/bulkcbct/internal/infra/httpserver"
	"github.com/medphys/bulkcbct/internal/infra/inventory"
	minioStore "github.com/medphys/bulkcbct/internal/infra/storage"
	"github.com/medphys/bulkcbct/internal/middleware"
)

func main() {
	// path config.yaml
	path := "config.yaml"
	if v := os.Getenv("CONFIG_PATH"); v != "" {
		path = v
	}

	// load config
	cfg, err := config.Load(path)
	if err != nil {
		log.Fatalf("config load error: %v", err)
	}

	ctx := context.Background()

	// connect batch history database
	var db *sql.DB
	var repo domain.Repository
	switch cfg.Database.Driver {
	case "postgres":
		db, err = postgresp.Connect(ctx, cfg.PostgresDSN())
		if err != nil {
			log.Fatalf("postgres connect error: %v", err)
		}
		repo = postgresp.NewBatchRepository(db)
	default:
		db, err = mysqlp.Connect(ctx, cfg.MySQLDSN())
		if err != nil {
			log.Fatalf("mysql connect error: %v", err)
		}
		repo = mysqlp.NewBatchRepository(db)
	}
	defer db.Close()

	// init report store
	store, err := minioStore.New(ctx,
		cfg.Minio.Endpoint,
		cfg.Minio.Region,
		cfg.Minio.BucketName,
		cfg.Minio.AccessKey,
		cfg.Minio.SecretKey,
		cfg.Minio.UseSSL,
	)
	if err != nil {
		log.Fatalf("minio init error: %v", err)
	}

	// init analyzer runner
	runner := pylinac.NewRunner(cfg.Analyzer.Command, cfg.Analyzer.Args, cfg.AnalyzerTimeout())

	// init batch service
	svc := &appbatches.Service{
		Scanner:   inventory.NewScanner(),
		Analyzer:  runner,
		Repo:      repo,
		Artifacts: store,
		Clock:     application.SystemClock{},
	}

	// init optional ai triage
	var aiSvc *appai.Service
	if cfg.AI.APIKey != "" {
		aiSvc = appai.NewService(openai.NewClient(cfg.AI.APIKey, cfg.AI.Model))
	}

	checkers := map[string]middleware.HealthChecker{
		"database": &middleware.DatabaseHealthChecker{DB: db},
	}

	// init router
	mux := chi.NewRouter()
	mux.Use(middleware.LoggingMiddleware)
	mux.Use(middleware.MetricsMiddleware)
	mux.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
	}))
	mux.Use(middleware.APIKeyAuth(cfg.Server.APIKey))
	if cfg.Server.RatePer > 0 {
		mux.Use(middleware.RateLimitMiddleware(cfg.Server.RatePer*2, cfg.Server.RatePer))
	}
	defaults := httpserver.ScanDefaults{
		Extensions:     cfg.Scan.Extensions,
		FollowSymlinks: cfg.Scan.FollowSymlinks,
		NestedSeries:   cfg.Scan.NestedSeries,
		Phantom:        cfg.Analyzer.DefaultPhantom,
	}
	mux.Mount("/", httpserver.NewRouter(svc, aiSvc, defaults, checkers))

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// run server
	go func() {
		log.Printf("server listening on %s", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	// graceful shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
	log.Println("shutting down server...")

	ctx2, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx2); err != nil {
		log.Printf("shutdown error: %v", err)
	}
}
