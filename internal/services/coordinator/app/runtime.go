package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"strings"
	"time"

	authorityv1 "github.com/mughalz/investordefend/api/authority/v1"
	apperrors "github.com/mughalz/investordefend/internal/platform/errors"
	platformgrpc "github.com/mughalz/investordefend/internal/platform/grpc"
	"github.com/mughalz/investordefend/internal/platform/timeouts"
	"github.com/mughalz/investordefend/internal/services/coordinator/authorityclient"
	"github.com/mughalz/investordefend/internal/services/coordinator/metrics"
	"github.com/mughalz/investordefend/internal/services/shared/catalog"
	"github.com/mughalz/investordefend/internal/services/shared/grpcdial"
	"github.com/mughalz/investordefend/internal/services/shared/session"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	grpc_health_v1 "google.golang.org/grpc/health/grpc_health_v1"
)

// SessionBinding names one session this process acts in and the grant it
// acts with.
type SessionBinding struct {
	SessionID     string
	ParticipantID string
	Grant         string
}

// RuntimeConfig controls coordinator startup.
type RuntimeConfig struct {
	Port          int
	AuthorityAddr string
	Sessions      []SessionBinding
	PollInterval  time.Duration
	DialTimeout   time.Duration
	// MetricsAddr serves Prometheus metrics when set.
	MetricsAddr string
	CatalogPath string
	Locale      string
}

const defaultCoordinatorPort = 8093

// healthService is the name the coordinator reports SERVING under.
const healthService = "investordefend.coordinator.runtime"

// Run dials the authority, opens every configured session and polls them
// until ctx ends or every session has stopped. The hosted coordinators
// accept no participant actions from the network.
func Run(ctx context.Context, cfg RuntimeConfig) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if strings.TrimSpace(cfg.AuthorityAddr) == "" {
		return fmt.Errorf("authority address is required")
	}
	if len(cfg.Sessions) == 0 {
		return fmt.Errorf("at least one session binding is required")
	}
	if cfg.Port <= 0 {
		cfg.Port = defaultCoordinatorPort
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = timeouts.GRPCDial
	}

	cat, err := loadCatalog(cfg.CatalogPath)
	if err != nil {
		return err
	}
	promRegistry := prometheus.NewRegistry()
	m, err := metrics.New(promRegistry)
	if err != nil {
		return fmt.Errorf("register metrics: %w", err)
	}

	conn, err := grpcdial.DialService(ctx, "authority", cfg.AuthorityAddr, platformgrpc.DialConfig{
		Timeout:       cfg.DialTimeout,
		HealthService: authorityv1.ServiceName,
		Logf:          log.Printf,
	})
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := conn.Close(); closeErr != nil {
			log.Printf("close authority connection: %v", closeErr)
		}
	}()

	registry, err := NewRegistry(RegistryConfig{
		Catalog:      cat,
		Metrics:      m,
		PollInterval: cfg.PollInterval,
		Locale:       cfg.Locale,
		Logf:         log.Printf,
	})
	if err != nil {
		return err
	}
	for _, binding := range cfg.Sessions {
		client := authorityclient.New(conn, binding.Grant,
			authorityclient.WithParticipantID(binding.ParticipantID))
		if _, err := registry.Open(ctx, Participant{
			SessionID:     binding.SessionID,
			ParticipantID: binding.ParticipantID,
			Authority:     client,
			Notifier:      LogNotifier(binding.SessionID, log.Printf),
		}); err != nil {
			for _, open := range registry.Sessions() {
				registry.Close(open)
			}
			return err
		}
		log.Printf("session %s opened for %s", binding.SessionID, binding.ParticipantID)
	}

	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Port))
	if err != nil {
		return fmt.Errorf("listen on coordinator port %d: %w", cfg.Port, err)
	}
	defer listener.Close()

	grpcServer := grpc.NewServer(grpc.StatsHandler(otelgrpc.NewServerHandler()))
	healthServer := health.NewServer()
	grpc_health_v1.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)
	healthServer.SetServingStatus(healthService, grpc_health_v1.HealthCheckResponse_SERVING)

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- grpcServer.Serve(listener)
	}()
	defer func() {
		healthServer.Shutdown()
		grpcServer.GracefulStop()
		<-serveErr
	}()

	if addr := strings.TrimSpace(cfg.MetricsAddr); addr != "" {
		stop := serveMetrics(addr, promRegistry)
		defer stop()
	}

	log.Printf("coordinator listening at %v", listener.Addr())
	return registry.Run(ctx)
}

// serveMetrics starts the Prometheus endpoint and returns its shutdown.
func serveMetrics(addr string, gatherer prometheus.Gatherer) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler(gatherer))
	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: timeouts.ReadHeader,
	}
	go func() {
		log.Printf("metrics listening at %s", addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("metrics server: %v", err)
		}
	}()
	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeouts.Shutdown)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("shutdown metrics server: %v", err)
		}
	}
}

// LogNotifier reports coordinator changes as log lines.
func LogNotifier(sessionID string, logf func(string, ...any)) Notifier {
	return NotifierFuncs{
		OnPhaseChanged: func(phase session.Phase) {
			logf("session %s: phase %s", sessionID, phase)
		},
		OnTallyChanged: func(actionID string, count, threshold int) {
			logf("session %s: %s has %d/%d", sessionID, actionID, count, threshold)
		},
		OnLedgerChanged: func(available, allocated decimal.Decimal) {
			logf("session %s: available %s, allocated %s", sessionID, available.StringFixed(2), allocated.StringFixed(2))
		},
		OnActionError: func(code apperrors.Code, message string) {
			logf("session %s: %s: %s", sessionID, code, message)
		},
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
