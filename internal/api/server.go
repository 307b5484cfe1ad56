package api

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net"
	"os"
	"time"

	"cleanbook/internal/config"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// ServiceName is the health service name reported next to the overall "".
const ServiceName = "cleanbook.Booking"

const probeTimeout = 5 * time.Second

// ReadinessFunc reports whether the backing stores can serve requests.
type ReadinessFunc func(ctx context.Context) error

// GRPCServer exposes the standard health service so load balancers and
// orchestrators can probe the booking backend.
type GRPCServer struct {
	server   *grpc.Server
	health   *health.Server
	ready    ReadinessFunc
	listener net.Listener
	log      zerolog.Logger
}

func NewGRPCServer(cfg *config.APIConfig, ready ReadinessFunc, logger *zerolog.Logger) (*GRPCServer, error) {
	log := zerolog.Nop()
	if logger != nil {
		log = logger.With().Str("component", "grpc").Logger()
	}

	opts, err := serverOptions(cfg, logger)
	if err != nil {
		return nil, err
	}

	addr := fmt.Sprintf(":%d", cfg.GRPC.Port)
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("grpc listen %s: %w", addr, err)
	}

	s := &GRPCServer{
		server:   grpc.NewServer(opts...),
		health:   health.NewServer(),
		ready:    ready,
		listener: lis,
		log:      log,
	}
	healthpb.RegisterHealthServer(s.server, s.health)
	if cfg.GRPC.Reflection {
		reflection.Register(s.server)
	}
	s.setStatus(healthpb.HealthCheckResponse_SERVING)
	return s, nil
}

func serverOptions(cfg *config.APIConfig, logger *zerolog.Logger) ([]grpc.ServerOption, error) {
	opts := []grpc.ServerOption{
		grpc.ChainUnaryInterceptor(
			RecoveryUnaryInterceptor(logger),
			LoggingUnaryInterceptor(logger),
			NewAuthInterceptor(cfg).Unary(),
		),
	}
	if !cfg.GRPC.TLS.Enabled {
		return opts, nil
	}
	tlsCfg, err := loadServerTLS(cfg.GRPC.TLS)
	if err != nil {
		return nil, fmt.Errorf("grpc tls: %w", err)
	}
	return append(opts, grpc.Creds(credentials.NewTLS(tlsCfg))), nil
}

// loadServerTLS builds the listener TLS config. A client CA without
// RequireClientCert verifies certificates that clients choose to present.
func loadServerTLS(cfg config.APITLSConfig) (*tls.Config, error) {
	if cfg.CertFile == "" || cfg.KeyFile == "" {
		return nil, errors.New("cert_file and key_file are required")
	}
	cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("load keypair: %w", err)
	}
	out := &tls.Config{Certificates: []tls.Certificate{cert}, MinVersion: tls.VersionTLS12}

	switch {
	case cfg.ClientCAFile != "":
		pem, err := os.ReadFile(cfg.ClientCAFile)
		if err != nil {
			return nil, fmt.Errorf("read client_ca_file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, errors.New("client_ca_file holds no PEM certificates")
		}
		out.ClientCAs = pool
		out.ClientAuth = tls.VerifyClientCertIfGiven
		if cfg.RequireClientCert {
			out.ClientAuth = tls.RequireAndVerifyClientCert
		}
	case cfg.RequireClientCert:
		return nil, errors.New("require_client_cert needs client_ca_file")
	}
	return out, nil
}

func (s *GRPCServer) Addr() string {
	return s.listener.Addr().String()
}

func (s *GRPCServer) Serve() error {
	s.log.Info().Str("addr", s.Addr()).Msg("gRPC API listening")
	return s.server.Serve(s.listener)
}

// WatchReadiness probes ready every interval and flips the health status
// between SERVING and NOT_SERVING until ctx is done.
func (s *GRPCServer) WatchReadiness(ctx context.Context, interval time.Duration) {
	if s.ready == nil {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		s.probe(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *GRPCServer) probe(ctx context.Context) {
	pctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	if err := s.ready(pctx); err != nil {
		s.log.Warn().Err(err).Msg("Readiness probe failed")
		s.setStatus(healthpb.HealthCheckResponse_NOT_SERVING)
		return
	}
	s.setStatus(healthpb.HealthCheckResponse_SERVING)
}

func (s *GRPCServer) setStatus(st healthpb.HealthCheckResponse_ServingStatus) {
	s.health.SetServingStatus("", st)
	s.health.SetServingStatus(ServiceName, st)
}

// Shutdown drains in-flight RPCs until ctx expires, then closes the
// remaining connections.
func (s *GRPCServer) Shutdown(ctx context.Context) {
	s.health.Shutdown()

	stopped := make(chan struct{})
	go func() {
		s.server.GracefulStop()
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-ctx.Done():
		s.log.Warn().Msg("gRPC drain deadline reached, forcing stop")
		s.server.Stop()
		<-stopped
	}
}
