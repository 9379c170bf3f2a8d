package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bryanwahyu/cloudsense/internal/application"
	appevents "github.com/bryanwahyu/cloudsense/internal/application/events"
	apprepos "github.com/bryanwahyu/cloudsense/internal/application/repos"
	appreviews "github.com/bryanwahyu/cloudsense/internal/application/reviews"
	"github.com/bryanwahyu/cloudsense/internal/config"
	domevents "github.com/bryanwahyu/cloudsense/internal/domain/events"
	domrepos "github.com/bryanwahyu/cloudsense/internal/domain/repos"
	domreviews "github.com/bryanwahyu/cloudsense/internal/domain/reviews"
	mysqlp "github.com/bryanwahyu/cloudsense/internal/infra/db/mysql"
	pgp "github.com/bryanwahyu/cloudsense/internal/infra/db/postgres"
	"github.com/bryanwahyu/cloudsense/internal/infra/httpserver"
	"github.com/bryanwahyu/cloudsense/internal/infra/queue/natsjs"
	"github.com/bryanwahyu/cloudsense/internal/middleware"
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
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	db, repoStore, eventStore, reviewStore, err := openStores(ctx, cfg)
	if err != nil {
		log.Fatalf("database init error: %v", err)
	}
	defer db.Close()

	// connect the review job queue
	queue, err := natsjs.New(cfg.NATS.URL, cfg.NATS.Stream, cfg.NATS.Subject, cfg.NATS.Durable)
	if err != nil {
		log.Fatalf("nats init error: %v", err)
	}
	defer queue.Close()

	// init services
	reposSvc := &apprepos.Service{
		Store:         repoStore,
		PublicBaseURL: cfg.Server.PublicBaseURL,
		Clock:         application.SystemClock{},
	}
	eventsSvc := &appevents.Service{
		Events:       eventStore,
		Reviews:      reviewStore,
		Queue:        queue,
		Resolver:     reposSvc,
		Clock:        application.SystemClock{},
		Log:          logger,
		LegacySecret: cfg.Webhook.LegacySecret,
		LegacyTenant: cfg.Webhook.LegacyTenant,
	}
	// read-only view of reviews; execution lives in the worker binary
	reviewsSvc := &appreviews.Service{
		Reviews: reviewStore,
		Events:  eventStore,
		Repos:   repoStore,
		Clock:   application.SystemClock{},
		Log:     logger,
	}

	mux := httpserver.NewRouter(reposSvc, eventsSvc, reviewsSvc, httpserver.Options{
		APIKeys: cfg.Auth.APIKeys,
		Logger:  logger,
		HealthCheckers: map[string]middleware.HealthChecker{
			"database": &middleware.DatabaseHealthChecker{DB: db},
			"queue":    &middleware.QueueHealthChecker{Queue: queue},
		},
	})

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

// openStores connects to the configured database and initializes the schema.
func openStores(ctx context.Context, cfg *config.Config) (*sql.DB, domrepos.Store, domevents.Store, domreviews.Store, error) {
	switch cfg.Database.Driver {
	case "postgres":
		db, err := pgp.Connect(ctx, cfg.PostgresDSN())
		if err != nil {
			return nil, nil, nil, nil, err
		}
		if err := pgp.InitSchema(ctx, db); err != nil {
			db.Close()
			return nil, nil, nil, nil, err
		}
		return db, pgp.NewRepoStore(db), pgp.NewEventStore(db), pgp.NewReviewStore(db), nil
	case "mysql":
		db, err := mysqlp.Connect(ctx, cfg.MySQLDSN())
		if err != nil {
			return nil, nil, nil, nil, err
		}
		if err := mysqlp.InitSchema(ctx, db); err != nil {
			db.Close()
			return nil, nil, nil, nil, err
		}
		return db, mysqlp.NewRepoStore(db), mysqlp.NewEventStore(db), mysqlp.NewReviewStore(db), nil
	default:
		return nil, nil, nil, nil, fmt.Errorf("unsupported database driver: %q", cfg.Database.Driver)
	}
}
