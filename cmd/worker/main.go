package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/bryanwahyu/cloudsense/internal/application"
	appreviews "github.com/bryanwahyu/cloudsense/internal/application/reviews"
	"github.com/bryanwahyu/cloudsense/internal/config"
	"github.com/bryanwahyu/cloudsense/internal/domain/analyzer"
	domevents "github.com/bryanwahyu/cloudsense/internal/domain/events"
	domrepos "github.com/bryanwahyu/cloudsense/internal/domain/repos"
	domreviews "github.com/bryanwahyu/cloudsense/internal/domain/reviews"
	"github.com/bryanwahyu/cloudsense/internal/infra/analyzer/aireview"
	"github.com/bryanwahyu/cloudsense/internal/infra/analyzer/static"
	mysqlp "github.com/bryanwahyu/cloudsense/internal/infra/db/mysql"
	pgp "github.com/bryanwahyu/cloudsense/internal/infra/db/postgres"
	ghfetch "github.com/bryanwahyu/cloudsense/internal/infra/github"
	"github.com/bryanwahyu/cloudsense/internal/infra/queue/natsjs"
	minioStore "github.com/bryanwahyu/cloudsense/internal/infra/storage"
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

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, repoStore, eventStore, reviewStore, err := openStores(ctx, cfg)
	if err != nil {
		log.Fatalf("database init error: %v", err)
	}
	defer db.Close()

	queue, err := natsjs.New(cfg.NATS.URL, cfg.NATS.Stream, cfg.NATS.Subject, cfg.NATS.Durable)
	if err != nil {
		log.Fatalf("nats init error: %v", err)
	}
	defer queue.Close()

	// analyzers: the static checks always run, the AI pass only when configured
	analyzers := []analyzer.Analyzer{static.New()}
	if cfg.OpenAI.APIKey != "" {
		analyzers = append(analyzers, aireview.NewClient(cfg.OpenAI.APIKey, cfg.OpenAI.Model))
	}

	// report artifacts are optional; reviews still finish without a bucket
	var artifacts domreviews.ArtifactStore
	if cfg.Minio.Endpoint != "" {
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
		artifacts = store
	}

	svc := &appreviews.Service{
		Reviews:   reviewStore,
		Events:    eventStore,
		Repos:     repoStore,
		Fetcher:   ghfetch.NewFetcher(cfg.GitHub.Token),
		Analyzers: analyzers,
		Artifacts: artifacts,
		Clock:     application.SystemClock{},
		Log:       logger,
	}

	var wg sync.WaitGroup
	for i := 0; i < cfg.Worker.Concurrency; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			err := queue.Consume(ctx, func(ctx context.Context, id domreviews.ReviewID) error {
				jobCtx, cancel := context.WithTimeout(ctx, cfg.ReviewTimeout())
				defer cancel()
				return svc.Execute(jobCtx, id)
			})
			if err != nil && ctx.Err() == nil {
				logger.Error("consumer stopped", "worker", n, "err", err)
			}
		}(i)
	}

	// sweep reviews stuck in running past the timeout back to failed
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(cfg.ReclaimEvery())
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				cutoff := time.Now().UTC().Add(-cfg.ReviewTimeout())
				if err := svc.ReclaimStale(ctx, cutoff); err != nil {
					logger.Error("stale reclaim failed", "err", err)
				}
			}
		}
	}()

	logger.Info("worker started", "concurrency", cfg.Worker.Concurrency, "stream", cfg.NATS.Stream)
	wg.Wait()
	log.Println("worker shut down")
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
