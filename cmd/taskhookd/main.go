package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	grpchealth "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/austindbirch/taskhook/internal/api"
	"github.com/austindbirch/taskhook/internal/auth"
	"github.com/austindbirch/taskhook/internal/config"
	"github.com/austindbirch/taskhook/internal/delivery"
	"github.com/austindbirch/taskhook/internal/eventbus"
	"github.com/austindbirch/taskhook/internal/health"
	"github.com/austindbirch/taskhook/internal/logging"
	"github.com/austindbirch/taskhook/internal/metrics"
	"github.com/austindbirch/taskhook/internal/notify"
	"github.com/austindbirch/taskhook/internal/ratelimit"
	"github.com/austindbirch/taskhook/internal/store"
	"github.com/austindbirch/taskhook/internal/store/postgres"
	"github.com/austindbirch/taskhook/internal/store/sqlite"
	"github.com/austindbirch/taskhook/internal/tasks"
	"github.com/austindbirch/taskhook/internal/tracing"
	"github.com/austindbirch/taskhook/internal/urlguard"
)

const (
	serviceName         = "taskhookd"
	healthCheckInterval = 10 * time.Second
)

func main() {
	logger := logging.New(serviceName)
	logging.SetDefaultService(serviceName)

	// .env is optional; real environment variables win
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		logger.Plain().WithError(err).Warn("failed to load .env")
	}
	cfg := config.FromEnv()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	shutdownTracing, err := tracing.InitTracing(ctx, serviceName)
	if err != nil {
		logger.Plain().WithError(err).Fatal("Failed to initialize tracing")
	}
	defer shutdownTracing()

	st, err := openStore(ctx, cfg)
	if err != nil {
		logger.Plain().WithError(err).WithField("driver", cfg.Store.Driver).Fatal("store open failed")
	}
	defer st.Close()

	bus, err := eventbus.New(cfg.EventBus)
	if err != nil {
		logger.Plain().WithError(err).WithField("backend", cfg.EventBus.Backend).Fatal("event bus setup failed")
	}
	defer bus.Close()

	validator, err := newValidator(cfg.Auth)
	if err != nil {
		logger.Plain().WithError(err).Fatal("invalid JWT configuration")
	}

	reg := prometheus.NewRegistry()
	metrics.MustRegister(reg)

	guard := newGuard(cfg)
	limiter := ratelimit.New(ratelimit.Options{})
	go limiter.Run(ctx, cfg.RateLimit.SweepInterval, cfg.RateLimit.Retention)

	executor := delivery.New(delivery.Options{
		Timeout:      cfg.Delivery.Timeout,
		MaxRedirects: cfg.Delivery.MaxRedirects,
		UserAgent:    cfg.Delivery.UserAgent,
		Guard:        guard,
	})
	dispatcher := notify.NewDispatcher(notify.Options{
		Store:          st,
		Deliverer:      executor,
		Guard:          guard,
		Publisher:      bus,
		Outbound:       limiter,
		OutboundMax:    cfg.RateLimit.OutboundMax,
		OutboundWindow: cfg.RateLimit.Window,
		Logger:         logger,
	})
	svc := tasks.NewService(tasks.Options{Store: st, Notifier: dispatcher, Logger: logger})
	apiSrv := api.New(api.Options{
		Tasks:  svc,
		Store:  st,
		Tester: dispatcher,
		Guard:  guard,
		Logger: logger,

		TrustedProxies: cfg.TrustedProxies,
	})

	// gRPC health
	grpcSrv := grpc.NewServer(grpc.StatsHandler(otelgrpc.NewServerHandler()))
	hs := grpchealth.NewServer()
	healthpb.RegisterHealthServer(grpcSrv, hs)
	go health.Watch(ctx, st, hs, cfg.AppName, healthCheckInterval)

	lis, err := net.Listen("tcp", cfg.GRPCPort)
	if err != nil {
		logger.Plain().WithError(err).Fatal("gRPC listen failed")
	}
	go func() {
		logger.Plain().WithField("addr", cfg.GRPCPort).Info("gRPC health server starting")
		if err := grpcSrv.Serve(lis); err != nil {
			logger.Plain().WithError(err).Fatal("gRPC serve failed")
		}
	}()

	// HTTP: health, metrics and the API
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", health.HTTPHandler(st, cfg.Store.Driver))
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	mux.Handle("/v1/", apiSrv.Handler(limiter, newPolicy(cfg.RateLimit), validator))

	httpSrv := &http.Server{
		Addr:              cfg.HTTPPort,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Plain().
			WithField("addr", httpSrv.Addr).
			WithField("store", cfg.Store.Driver).
			WithField("eventbus", cfg.EventBus.Backend).
			Info("taskhookd HTTP server starting")
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Plain().WithError(err).Fatal("HTTP serve failed")
		}
	}()

	<-ctx.Done()
	logger.Plain().Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	grpcSrv.GracefulStop()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Plain().WithError(err).Warn("HTTP shutdown incomplete")
	}

	// let in-flight deliveries finish, bounded by the shutdown timeout
	done := make(chan struct{})
	go func() {
		dispatcher.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-shutdownCtx.Done():
		logger.Plain().Warn("shutdown timeout reached with deliveries in flight")
	}
	logger.Plain().Info("taskhookd stopped")
}

func openStore(ctx context.Context, cfg config.Config) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		return sqlite.New(cfg.Store.SQLitePath)
	case "postgres":
		return postgres.Open(ctx, cfg.DSN())
	case "memory", "":
		return store.NewMemory(), nil
	}
	return nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
}

func newGuard(cfg config.Config) urlguard.Guard {
	return urlguard.Default().WithBlockedHosts(cfg.URLGuardExtraBlockedHosts...)
}

func newPolicy(rl config.RateLimit) ratelimit.Policy {
	p := ratelimit.DefaultPolicy()
	if rl.DefaultMax > 0 {
		p.Default.Max = rl.DefaultMax
	}
	if rl.AuthMax > 0 {
		p.Auth.Max = rl.AuthMax
	}
	if rl.WebhookTestMax > 0 {
		p.WebhookTest.Max = rl.WebhookTestMax
	}
	if rl.Window > 0 {
		p.Default.Window = rl.Window
		p.Auth.Window = rl.Window
		p.WebhookTest.Window = rl.Window
	}
	return p
}

func newValidator(a config.Auth) (*auth.JWTValidator, error) {
	if a.JWTPublicKeyPEM == "" {
		return nil, nil
	}
	return auth.NewJWTValidator(a.JWTPublicKeyPEM, a.JWTIssuer, a.JWTAudience)
}
