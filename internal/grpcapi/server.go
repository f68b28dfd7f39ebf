// Package grpcapi serves the standard gRPC health protocol for the pipeline.
package grpcapi

import (
	"context"
	"errors"
	"log"
	"net"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// PipelineService is the health service name clients should check.
const PipelineService = "argus.pipeline"

// HealthSource reports whether the pipeline is fit to serve.
type HealthSource interface {
	Healthy() bool
}

type Dependencies struct {
	Logger *log.Logger
	Addr   string
	Health HealthSource
	// Interval between health re-evaluations. Default 2s.
	Interval time.Duration
}

type Server struct {
	addr     string
	logger   *log.Logger
	source   HealthSource
	interval time.Duration

	grpcServer *grpc.Server
	health     *health.Server

	mu      sync.Mutex
	serving bool
	cancel  context.CancelFunc
	done    chan struct{}
}

func NewServer(d Dependencies) *Server {
	if d.Interval <= 0 {
		d.Interval = 2 * time.Second
	}
	s := &Server{
		addr:       d.Addr,
		logger:     d.Logger,
		source:     d.Health,
		interval:   d.Interval,
		grpcServer: grpc.NewServer(),
		health:     health.NewServer(),
	}
	healthpb.RegisterHealthServer(s.grpcServer, s.health)
	reflection.Register(s.grpcServer)
	s.health.SetServingStatus(PipelineService, healthpb.HealthCheckResponse_NOT_SERVING)
	return s
}

// Refresh re-evaluates the health source and publishes the result, logging
// transitions.
func (s *Server) Refresh() {
	ok := s.source.Healthy()

	s.mu.Lock()
	changed := ok != s.serving
	s.serving = ok
	s.mu.Unlock()

	status := healthpb.HealthCheckResponse_NOT_SERVING
	if ok {
		status = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus(PipelineService, status)
	if changed {
		s.logger.Printf("grpc health: %s -> %s", PipelineService, status)
	}
}

// Start listens on the configured address and blocks serving.
func (s *Server) Start(ctx context.Context) error {
	lis, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, lis)
}

// Serve runs the health watcher and serves on lis until Shutdown.
func (s *Server) Serve(ctx context.Context, lis net.Listener) error {
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	s.mu.Lock()
	s.cancel, s.done = cancel, done
	s.mu.Unlock()

	go s.watch(ctx, done)

	err := s.grpcServer.Serve(lis)
	if errors.Is(err, grpc.ErrServerStopped) {
		return nil
	}
	return err
}

// Shutdown marks every service NOT_SERVING, stops the watcher and drains
// in-flight calls, forcing a stop when ctx ends first.
func (s *Server) Shutdown(ctx context.Context) {
	s.health.Shutdown()

	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.mu.Unlock()
	if cancel != nil {
		cancel()
		<-done
	}

	stopped := make(chan struct{})
	go func() {
		s.grpcServer.GracefulStop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-ctx.Done():
		s.grpcServer.Stop()
		<-stopped
	}
}

func (s *Server) watch(ctx context.Context, done chan struct{}) {
	defer close(done)
	s.Refresh()

	t := time.NewTicker(s.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			s.Refresh()
		}
	}
}
