package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// HealthService is the gRPC health service name reported alongside the
// overall ("") status
const HealthService = "reviewd"

// Run listens on the configured addresses and serves until ctx is done
func (s *Server) Run(ctx context.Context) error {
	lc := net.ListenConfig{}
	httpLis, err := lc.Listen(ctx, "tcp", s.opts.HTTPAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.opts.HTTPAddr, err)
	}

	var grpcLis net.Listener
	if s.opts.GRPCAddr != "" {
		grpcLis, err = lc.Listen(ctx, "tcp", s.opts.GRPCAddr)
		if err != nil {
			httpLis.Close()
			return fmt.Errorf("failed to listen on %s: %w", s.opts.GRPCAddr, err)
		}
	}
	return s.Serve(ctx, httpLis, grpcLis)
}

// Serve serves HTTP on httpLis and gRPC health on grpcLis (nil disables it)
// until ctx is done, then shuts both down gracefully
func (s *Server) Serve(ctx context.Context, httpLis, grpcLis net.Listener) error {
	httpServer := &http.Server{
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
		// push streams end when ctx is cancelled
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 2)

	go func() {
		s.logger.Info("Starting HTTP server", "address", httpLis.Addr().String())
		if err := httpServer.Serve(httpLis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	var grpcServer *grpc.Server
	var healthServer *health.Server
	if grpcLis != nil {
		grpcServer = grpc.NewServer()
		healthServer = health.NewServer()
		healthpb.RegisterHealthServer(grpcServer, healthServer)
		healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
		healthServer.SetServingStatus(HealthService, healthpb.HealthCheckResponse_SERVING)

		go func() {
			s.logger.Info("Starting gRPC health server", "address", grpcLis.Addr().String())
			if err := grpcServer.Serve(grpcLis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
				errCh <- fmt.Errorf("grpc server: %w", err)
			}
		}()
	}

	var serveErr error
	select {
	case <-ctx.Done():
		s.logger.Info("Shutting down listeners")
	case serveErr = <-errCh:
		s.logger.Error("Listener failed", "error", serveErr)
	}

	if healthServer != nil {
		healthServer.Shutdown()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.opts.ShutdownTimeout)
	defer cancel()

	if err := s.mcp.Shutdown(shutdownCtx); err != nil {
		s.logger.Warn("MCP transport shutdown failed", "error", err)
	}
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		// open push streams hold connections until the timeout
		s.logger.Warn("HTTP graceful shutdown timed out, closing connections", "error", err)
		_ = httpServer.Close()
	}

	if grpcServer != nil {
		stopped := make(chan struct{})
		go func() {
			grpcServer.GracefulStop()
			close(stopped)
		}()
		select {
		case <-stopped:
		case <-shutdownCtx.Done():
			s.logger.Warn("gRPC graceful shutdown timed out, forcing stop")
			grpcServer.Stop()
			<-stopped
		}
	}

	s.logger.Info("Listeners stopped")
	return serveErr
}
