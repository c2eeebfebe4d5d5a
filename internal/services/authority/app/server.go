// Package app wires the authority runtime: storage, fixtures, the action
// engine and the gRPC server.
package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"os"
	"path/filepath"
	"strings"

	authorityv1 "github.com/mughalz/investordefend/api/authority/v1"
	authorityservice "github.com/mughalz/investordefend/internal/services/authority/api/grpc/authority"
	"github.com/mughalz/investordefend/internal/services/authority/domain"
	"github.com/mughalz/investordefend/internal/services/authority/grant"
	authoritysqlite "github.com/mughalz/investordefend/internal/services/authority/storage/sqlite"
	"github.com/mughalz/investordefend/internal/services/shared/catalog"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	grpc_health_v1 "google.golang.org/grpc/health/grpc_health_v1"
)

const defaultDBPath = "data/authority.db"

// RuntimeConfig controls authority startup.
type RuntimeConfig struct {
	DBPath       string
	FixturesPath string
	// CatalogPath overrides the embedded catalogue when set.
	CatalogPath string
	Locale      string
	// CommitAttempts bounds retries after a lost version race; zero keeps
	// the service default.
	CommitAttempts int
	Verifier       grant.VerifierConfig
}

// Server hosts the authority gRPC API and storage lifecycle.
type Server struct {
	listener   net.Listener
	grpcServer *grpc.Server
	health     *health.Server
	store      *authoritysqlite.Store
}

// New creates a configured authority server listening on port.
func New(ctx context.Context, port int, cfg RuntimeConfig) (*Server, error) {
	return NewWithAddr(ctx, fmt.Sprintf(":%d", port), cfg)
}

// NewWithAddr creates a configured authority server for addr. Fixtures are
// seeded before the listener accepts calls.
func NewWithAddr(ctx context.Context, addr string, cfg RuntimeConfig) (*Server, error) {
	if strings.TrimSpace(cfg.DBPath) == "" {
		cfg.DBPath = defaultDBPath
	}
	cat, err := loadCatalog(cfg.CatalogPath)
	if err != nil {
		return nil, err
	}
	engine, err := domain.NewEngine(cat)
	if err != nil {
		return nil, err
	}

	store, err := openStore(cfg.DBPath)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(cfg.FixturesPath) != "" {
		sessions, err := LoadFixtures(cfg.FixturesPath)
		if err == nil {
			err = SeedSessions(ctx, store, sessions, log.Printf)
		}
		if err != nil {
			_ = store.Close()
			return nil, err
		}
	}

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("listen on %s: %w", addr, err)
	}

	grpcServer := grpc.NewServer(
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.UnaryInterceptor(authorityservice.AuthInterceptor(cfg.Verifier, cfg.Locale)),
	)
	apiService := authorityservice.NewService(store, engine,
		authorityservice.WithLocale(cfg.Locale),
		authorityservice.WithCommitAttempts(cfg.CommitAttempts),
	)
	healthServer := health.NewServer()
	authorityv1.RegisterAuthorityServiceServer(grpcServer, apiService)
	grpc_health_v1.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)
	healthServer.SetServingStatus(authorityv1.ServiceName, grpc_health_v1.HealthCheckResponse_SERVING)

	return &Server{
		listener:   listener,
		grpcServer: grpcServer,
		health:     healthServer,
		store:      store,
	}, nil
}

// Addr returns the listener address for the server.
func (s *Server) Addr() string {
	if s == nil || s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Run creates and serves an authority server until context cancellation.
func Run(ctx context.Context, port int, cfg RuntimeConfig) error {
	server, err := New(ctx, port, cfg)
	if err != nil {
		return err
	}
	return server.Serve(ctx)
}

// Serve starts the gRPC server until context cancellation.
func (s *Server) Serve(ctx context.Context) error {
	if s == nil {
		return errors.New("server is nil")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	defer s.Close()

	log.Printf("authority server listening at %v", s.listener.Addr())
	serveErr := make(chan error, 1)
	go func() {
		serveErr <- s.grpcServer.Serve(s.listener)
	}()

	select {
	case <-ctx.Done():
		s.health.Shutdown()
		s.grpcServer.GracefulStop()
		err := <-serveErr
		if err == nil || errors.Is(err, grpc.ErrServerStopped) {
			return nil
		}
		return fmt.Errorf("serve gRPC: %w", err)
	case err := <-serveErr:
		if err == nil || errors.Is(err, grpc.ErrServerStopped) {
			return nil
		}
		return fmt.Errorf("serve gRPC: %w", err)
	}
}

// Close releases authority server resources.
func (s *Server) Close() {
	if s == nil {
		return
	}
	if s.health != nil {
		s.health.Shutdown()
	}
	if s.grpcServer != nil {
		s.grpcServer.Stop()
	}
	if s.listener != nil {
		_ = s.listener.Close()
	}
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			log.Printf("close authority store: %v", err)
		}
	}
}

func loadCatalog(path string) (*catalog.Catalog, error) {
	if strings.TrimSpace(path) == "" {
		return catalog.Default()
	}
	cat, err := catalog.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load catalog %s: %w", path, err)
	}
	return cat, nil
}

func openStore(path string) (*authoritysqlite.Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create storage dir: %w", err)
		}
	}
	store, err := authoritysqlite.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open authority sqlite store: %w", err)
	}
	return store, nil
}
