// Package server wires the HTTP surface for preprocess, chunk delivery,
// and performance trace retrieval on top of the registry, service, and
// perf packages, the way cmd/dvid/main.go wires DVID's own web server
// and graceful shutdown.
package server

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/cors"

	"github.com/voxelstream/voxelstream/perf"
	"github.com/voxelstream/voxelstream/registry"
	"github.com/voxelstream/voxelstream/service"
	"github.com/voxelstream/voxelstream/voxel"
)

// Service owns the task registry, the server-side services built on
// top of it, and the HTTP listener that exposes them.
type Service struct {
	cfg *Config

	registry   *registry.TaskRegistry
	perfStore  *perf.BadgerStore
	preprocess *service.PreprocessService
	chunk      *service.ChunkService
	perfSvc    *service.PerfService

	httpSrv *http.Server
}

// New builds a Service from cfg, opening the performance store and
// starting the task registry's sweep goroutine. Call Shutdown when done,
// even if ListenAndServe is never called.
func New(cfg *Config) (*Service, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	cfg.Logging.Apply()

	reg := registry.NewTaskRegistry(time.Duration(cfg.Task.TTLMinutes) * time.Minute)

	perfStore, err := perf.OpenBadgerStore(cfg.Server.PerfStorePath)
	if err != nil {
		reg.Close()
		return nil, err
	}

	s := &Service{
		cfg:        cfg,
		registry:   reg,
		perfStore:  perfStore,
		preprocess: &service.PreprocessService{Root: cfg.Server.DataRoot, Registry: reg},
		chunk:      &service.ChunkService{Registry: reg},
		perfSvc:    &service.PerfService{Store: perfStore},
	}

	mux := http.NewServeMux()
	s.routes(mux)
	handler := cors.New(cors.Options{AllowedOrigins: cfg.Server.CORSOrigins}).Handler(mux)
	s.httpSrv = &http.Server{
		Addr:        cfg.Server.HTTPAddress,
		Handler:     handler,
		ReadTimeout: 1 * time.Hour,
	}
	return s, nil
}

// Handler returns the wired HTTP handler, for tests that want to drive
// requests directly against httptest.NewServer or NewRecorder without
// binding a real listener.
func (s *Service) Handler() http.Handler {
	return s.httpSrv.Handler
}

// ListenAndServe blocks serving HTTP until the listener is shut down.
func (s *Service) ListenAndServe() error {
	voxel.Infof("starting voxelstream server at %s", s.cfg.Server.HTTPAddress)
	err := s.httpSrv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown gracefully stops the HTTP listener and closes the registry
// and performance store.
func (s *Service) Shutdown(ctx context.Context) error {
	err := s.httpSrv.Shutdown(ctx)
	s.registry.Close()
	if cerr := s.perfStore.Close(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}

// RunUntilSignal serves until SIGINT or SIGTERM, then shuts down with
// the configured delay.
func (s *Service) RunUntilSignal() error {
	errCh := make(chan error, 1)
	go func() { errCh <- s.ListenAndServe() }()

	stopSig := make(chan os.Signal, 1)
	signal.Notify(stopSig, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-stopSig:
		voxel.Infof("stop signal captured: %v, shutting down", sig)
		delay := time.Duration(s.cfg.Server.ShutdownDelay) * time.Second
		ctx, cancel := context.WithTimeout(context.Background(), delay)
		defer cancel()
		return s.Shutdown(ctx)
	}
}
