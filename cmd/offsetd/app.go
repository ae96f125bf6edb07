package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"offsetcore/internal/adapters/exports"
	"offsetcore/internal/adapters/httpapi"
	"offsetcore/internal/blob"
	"offsetcore/internal/config"
	"offsetcore/internal/core"
	"offsetcore/internal/infra/robot"
	"offsetcore/internal/jog"
	"offsetcore/internal/logging"
	"offsetcore/internal/metrics"
)

const readHeaderTimeout = 10 * time.Second

// app is every long-lived component offsetd wires together.
type app struct {
	cfg       *config.Config
	log       *logging.Logger
	kv        *logging.KVLogger
	svc       *core.Service
	worker    *exports.Worker
	jogs      *jog.Dispatcher
	registry  *prometheus.Registry
	closeRepo func() error
	handler   http.Handler
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	log, err := logging.New(logging.Config{Level: cfg.Logging.Level, Development: cfg.Logging.Development})
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	kv := log.KV()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	rec := metrics.New(reg)

	client := robot.New(cfg.Robot.BaseURL, cfg.Robot.Timeout).
		ForMaintenanceRun(cfg.Robot.MaintenanceRunID, cfg.Robot.PipetteID)

	repo, closeRepo, err := core.OpenOffsetRepository(ctx, cfg.Storage, client)
	if err != nil {
		return nil, fmt.Errorf("offset storage: %w", err)
	}
	store, err := blob.Open(ctx, cfg.Blob)
	if err != nil {
		_ = closeRepo()
		return nil, fmt.Errorf("export storage: %w", err)
	}

	svc := core.NewInMemoryService(nil,
		core.WithOffsetRepository(repo),
		core.WithLogger(kv),
		core.WithMetricsRecorder(rec),
	)
	worker := exports.NewWorker(svc, store,
		exports.WithWorkers(cfg.Exports.Workers),
		exports.WithQueueSize(cfg.Exports.QueueSize),
		exports.WithLogger(kv),
		exports.WithObserver(rec),
	)
	jogs := jog.NewDispatcher(client, jog.WithObserver(rec), jog.WithMaxOutstanding(cfg.Jog.MaxOutstanding))

	h := httpapi.New(svc,
		httpapi.WithJogger(jogs),
		httpapi.WithExporter(worker),
		httpapi.WithCommandRunner(client),
		httpapi.WithLogger(kv),
	)
	router := httpapi.NewRouter(h, rec)
	if cfg.Metrics.Enabled {
		router.GET(cfg.Metrics.Path, gin.WrapH(promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})))
	}

	kv.Info("offsetd configured",
		"storage", cfg.Storage.Driver,
		"blob", string(store.Driver()),
		"robot", cfg.Robot.BaseURL,
	)
	return &app{
		cfg:       cfg,
		log:       log,
		kv:        kv,
		svc:       svc,
		worker:    worker,
		jogs:      jogs,
		registry:  reg,
		closeRepo: closeRepo,
		handler:   router,
	}, nil
}

// run serves until ctx is cancelled, then drains in-flight requests and
// exports within the configured shutdown timeout. ready, when set, is
// called with the bound address once the listener is open.
func run(ctx context.Context, cfg *config.Config, ready func(addr string)) error {
	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = a.log.Sync() }()

	ln, err := net.Listen("tcp", cfg.Server.Addr)
	if err != nil {
		_ = a.closeRepo()
		return fmt.Errorf("listen %s: %w", cfg.Server.Addr, err)
	}
	a.worker.Start(context.WithoutCancel(ctx))

	srv := &http.Server{Handler: a.handler, ReadHeaderTimeout: readHeaderTimeout}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()
	a.kv.Info("offsetd listening", "addr", ln.Addr().String())
	if ready != nil {
		ready(ln.Addr().String())
	}

	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-errCh:
	}
	return errors.Join(serveErr, a.shutdown(srv))
}

func (a *app) shutdown(srv *http.Server) error {
	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer cancel()
	a.kv.Info("offsetd shutting down")

	var errs []error
	if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		errs = append(errs, fmt.Errorf("http shutdown: %w", err))
	}
	a.jogs.Close()
	if err := a.worker.Stop(ctx); err != nil {
		errs = append(errs, fmt.Errorf("export worker: %w", err))
	}
	for _, run := range a.svc.Runs() {
		if core.HasUnsavedChanges(run) {
			a.kv.Warn("discarding run with unsaved offsets", "run", run.RunID)
		}
	}
	if err := a.closeRepo(); err != nil {
		errs = append(errs, fmt.Errorf("offset storage: %w", err))
	}
	return errors.Join(errs...)
}
