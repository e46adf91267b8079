package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"

	"github.com/bryanwahyu/metro-bim/internal/application"
	appanalysis "github.com/bryanwahyu/metro-bim/internal/application/analysis"
	appevidence "github.com/bryanwahyu/metro-bim/internal/application/evidence"
	appmodels "github.com/bryanwahyu/metro-bim/internal/application/models"
	"github.com/bryanwahyu/metro-bim/internal/application/worker"
	"github.com/bryanwahyu/metro-bim/internal/config"
	domai "github.com/bryanwahyu/metro-bim/internal/domain/ai"
	"github.com/bryanwahyu/metro-bim/internal/domain/analysis"
	"github.com/bryanwahyu/metro-bim/internal/domain/bim"
	"github.com/bryanwahyu/metro-bim/internal/domain/evidence"
	"github.com/bryanwahyu/metro-bim/internal/domain/failures"
	"github.com/bryanwahyu/metro-bim/internal/domain/files"
	infraai "github.com/bryanwahyu/metro-bim/internal/infra/ai"
	"github.com/bryanwahyu/metro-bim/internal/infra/ai/ollama"
	"github.com/bryanwahyu/metro-bim/internal/infra/ai/openai"
	"github.com/bryanwahyu/metro-bim/internal/infra/db"
	"github.com/bryanwahyu/metro-bim/internal/infra/db/memory"
	infrafiles "github.com/bryanwahyu/metro-bim/internal/infra/files"
	"github.com/bryanwahyu/metro-bim/internal/infra/httpserver"
	"github.com/bryanwahyu/metro-bim/internal/infra/ifc"
	minioStore "github.com/bryanwahyu/metro-bim/internal/infra/storage"
	"github.com/bryanwahyu/metro-bim/internal/logging"
	"github.com/bryanwahyu/metro-bim/internal/middleware"
)

type repos struct {
	runs     analysis.Repository
	docs     bim.Repository
	evidence evidence.Repository
	failures failures.Repository
	health   map[string]middleware.HealthChecker
	close    func() error
}

func main() {
	// load config
	cfg, err := config.Load(config.Path())
	if err != nil {
		logrus.Fatalf("config load error: %v", err)
	}
	log := logging.Init(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output)

	ctx := context.Background()

	r, err := openRepos(ctx, cfg, log)
	if err != nil {
		log.Fatalf("database error: %v", err)
	}
	defer r.close()

	if err := os.MkdirAll(cfg.Uploads.Dir, 0o755); err != nil {
		log.Fatalf("uploads dir: %v", err)
	}
	resolver, err := infrafiles.NewResolver(cfg.Uploads.Dir)
	if err != nil {
		log.Fatalf("uploads dir: %v", err)
	}

	// init minio (optional)
	var objects files.ObjectStore
	if cfg.MinioEnabled() {
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
		objects = store
	}

	capability, err := newCapability(cfg, log)
	if err != nil {
		log.Fatalf("provider init error: %v", err)
	}
	adapter := infraai.NewAdapter(capability, infraai.Models{
		BIM:        cfg.Provider.Models.BIM,
		Image:      cfg.Provider.Models.Image,
		Comparison: cfg.Provider.Models.Comparison,
	}, log)

	clock := application.SystemClock{}

	// init services
	analyses := &appanalysis.Service{
		Repo:     r.runs,
		Analyzer: adapter,
		Failures: r.failures,
		Clock:    clock,
		Log:      log.WithField("component", "analysis"),
	}
	models := &appmodels.Service{
		Repo:     r.docs,
		Parser:   ifc.Parser{},
		Files:    resolver,
		Objects:  objects,
		Failures: r.failures,
		Clock:    clock,
		Log:      log.WithField("component", "models"),
	}
	evidenceSvc := &appevidence.Service{
		Repo:       r.evidence,
		Analyzer:   adapter,
		Files:      resolver,
		Objects:    objects,
		Failures:   r.failures,
		StaleAfter: cfg.Worker.StaleAfter,
		Clock:      clock,
		Log:        log.WithField("component", "evidence"),
	}

	exec := worker.New(cfg.Worker.Concurrency)
	exec.Failures = r.failures
	exec.Clock = clock
	exec.Log = log.WithField("component", "worker")
	exec.OnDone = func(k worker.Key, err error) { middleware.RecordUnit(k.Unit, err) }

	sweepCtx, stopSweep := context.WithCancel(ctx)
	defer stopSweep()
	go sweepStale(sweepCtx, cfg.Worker.SweepInterval, evidenceSvc, exec, log)

	// init router
	handler := httpserver.NewRouter(httpserver.Deps{
		Analyses:   analyses,
		Models:     models,
		Evidence:   evidenceSvc,
		Executor:   exec,
		Failures:   r.failures,
		Health:     r.health,
		UploadsDir: cfg.Uploads.Dir,
		APIKeys:    cfg.Server.APIKeys,
		Origins:    cfg.Server.CORSOrigins,
		RateLimit:  httpserver.RateLimit{Capacity: cfg.RateLimit.Capacity, RefillRate: cfg.RateLimit.RefillRate},
		Log:        log,
	})

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: handler,
		// analyses run inside the request
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	// run server
	go func() {
		log.WithFields(logrus.Fields{"addr": addr, "db": cfg.Database.Driver, "provider": cfg.Provider.Kind}).Info("server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server error: %v", err)
		}
	}()

	// graceful shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
	log.Info("shutting down server...")
	stopSweep()

	ctx2, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx2); err != nil {
		log.WithError(err).Warn("http shutdown")
	}
	if err := exec.Shutdown(ctx2); err != nil {
		log.WithError(err).Warn("worker shutdown")
	}
}

func openRepos(ctx context.Context, cfg *config.Config, log logrus.FieldLogger) (*repos, error) {
	if cfg.Database.Driver == config.DriverMemory {
		log.Warn("using in-memory store; data is lost on restart")
		m := memory.New()
		return &repos{
			runs:     m.Runs(),
			docs:     m.Documents(),
			evidence: m.Evidence(),
			failures: m.Failures(),
			close:    func() error { return nil },
		}, nil
	}
	if cfg.Database.Driver == config.DriverSQLite {
		if err := os.MkdirAll(filepath.Dir(cfg.Database.Path), 0o755); err != nil {
			return nil, err
		}
	}

	conn, err := db.Open(ctx, cfg.Database.Driver, cfg.DSN())
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(conn); err != nil {
		conn.Close()
		return nil, err
	}
	return &repos{
		runs:     db.NewAnalysisRepository(conn),
		docs:     db.NewDocumentRepository(conn),
		evidence: db.NewEvidenceRepository(conn),
		failures: db.NewFailureRepository(conn),
		health:   map[string]middleware.HealthChecker{"database": &middleware.DatabaseHealthChecker{DB: conn}},
		close:    conn.Close,
	}, nil
}

var _ middleware.Pinger = (*sqlx.DB)(nil)

// newCapability returns nil for fallback mode. A nil *openai.Client must not
// be returned as a non-nil interface.
func newCapability(cfg *config.Config, log logrus.FieldLogger) (domai.Capability, error) {
	switch cfg.Provider.Kind {
	case config.ProviderOpenAI:
		c := openai.NewClient(cfg.Provider.APIKey, cfg.Provider.Timeout)
		if c == nil {
			log.Warn("provider.apiKey is empty")
			return nil, nil
		}
		return c, nil
	case config.ProviderOllama:
		c, err := ollama.NewClient(cfg.Provider.Host, cfg.Provider.Model, cfg.Provider.MaxPrompt, log.WithField("component", "ollama"))
		if err != nil {
			return nil, err
		}
		return c, nil
	default:
		return nil, nil
	}
}

// sweepStale resubmits evidence stuck in processing past the staleness window.
func sweepStale(ctx context.Context, every time.Duration, svc *appevidence.Service, exec *worker.Executor, log logrus.FieldLogger) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		ids, err := svc.Sweep(ctx)
		if err != nil {
			log.WithError(err).Warn("stale evidence sweep")
			continue
		}
		for _, id := range ids {
			view, err := svc.Get(ctx, id)
			if err != nil {
				log.WithError(err).WithField("evidence_id", id).Warn("stale evidence reload")
				continue
			}
			path := view.FilePath
			err = exec.Submit(worker.Key{Unit: failures.UnitEvidence, EntityID: string(id)}, func(ctx context.Context) error {
				_, err := svc.Analyze(ctx, id, path)
				return err
			})
			if err != nil {
				log.WithError(err).Warn("resubmit stale evidence")
			}
		}
	}
}
