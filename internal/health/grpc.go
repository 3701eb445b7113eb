package health

import (
	"context"
	"fmt"
	"net"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"

	"task-lifecycle-service/internal/logger"
)

// ServiceName is the name probes ask about; "" reports the same status.
const ServiceName = "task-scheduler"

// Server is a gRPC server that only carries the standard health service.
type Server struct {
	server   *grpc.Server
	listener net.Listener
	health   *health.Server
	log      *logger.Logger
}

func NewServer(address string, log *logger.Logger) (*Server, error) {
	if log == nil {
		log = logger.Nop()
	}
	listener, err := net.Listen("tcp", address)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %v", address, err)
	}
	server := grpc.NewServer()
	healthServer := health.NewServer()
	grpc_health_v1.RegisterHealthServer(server, healthServer)

	s := &Server{server: server, listener: listener, health: healthServer, log: log}
	s.set(grpc_health_v1.HealthCheckResponse_NOT_SERVING)
	return s, nil
}

func (s *Server) Addr() string {
	return s.listener.Addr().String()
}

func (s *Server) Start() error {
	s.log.Infof("Starting gRPC health server on %s", s.Addr())
	return s.server.Serve(s.listener)
}

// Watch runs check every interval and publishes the result until ctx ends.
func (s *Server) Watch(ctx context.Context, interval time.Duration, check func(ctx context.Context) error) {
	probe := func() {
		checkCtx, cancel := context.WithTimeout(ctx, interval)
		defer cancel()
		if err := check(checkCtx); err != nil {
			s.log.Warnf("Health check failed: %v", err)
			s.set(grpc_health_v1.HealthCheckResponse_NOT_SERVING)
			return
		}
		s.set(grpc_health_v1.HealthCheckResponse_SERVING)
	}

	probe()
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				probe()
			}
		}
	}()
}

func (s *Server) set(status grpc_health_v1.HealthCheckResponse_ServingStatus) {
	s.health.SetServingStatus("", status)
	s.health.SetServingStatus(ServiceName, status)
}

// Stop drains in-flight calls for up to timeout, then forces the server down.
func (s *Server) Stop(timeout time.Duration) {
	s.health.Shutdown()
	done := make(chan struct{})
	go func() {
		s.server.GracefulStop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(timeout):
		s.server.Stop()
	}
}
