// Package main wires the rate-limited egress proxy executable entry point
// and lifecycle management.
package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/newtonlabs/providers-oss/internal/governance"
	"github.com/newtonlabs/providers-oss/pkg/config"
	"github.com/newtonlabs/providers-oss/pkg/logging"
	"github.com/newtonlabs/providers-oss/pkg/proxy"
	"github.com/newtonlabs/providers-oss/pkg/telemetry"
)

const (
	defaultConfigPath        = "config.yaml"
	serviceName              = "newton-proxy"
	telemetryShutdownTimeout = 5 * time.Second
	gracefulShutdownTimeout  = 10 * time.Second
)

func main() {
	// Load .env file if present
	_ = godotenv.Load()

	configPath := flag.String("config-path", defaultConfigPath, "Path to the configuration file")
	proxyAddr := flag.String("listen", "", "HTTP listen address for the proxy")
	adminAddr := flag.String("admin-listen", "", "HTTP listen address for the admin endpoints")
	otelEndpoint := flag.String("otel-endpoint", "", "OTLP endpoint")
	logLevel := flag.String("log-level", "", "Log level")

	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("configuration load failed: %v", err)
	}

	// Apply flag overrides
	if *proxyAddr != "" {
		cfg.Server.ProxyAddress = *proxyAddr
	}
	if *adminAddr != "" {
		cfg.Server.AdminAddress = *adminAddr
	}
	if *otelEndpoint != "" {
		cfg.Telemetry.OTLPEndpoint = *otelEndpoint
	}
	if *logLevel != "" {
		cfg.Logging.Level = *logLevel
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := run(ctx, cfg); err != nil {
		log.Fatalf("application failed: %v", err)
	}
}

// run orchestrates the proxy lifecycle.
func run(ctx context.Context, cfg *config.Config) error {
	logger := logging.NewLogger(logging.Config{Level: cfg.Logging.Level})
	slog.SetDefault(logger)

	secrets, err := cfg.ResolveSecrets(cfg.Proxy.APIKeyEnv)
	if err != nil {
		return err
	}

	telemetryShutdown, err := telemetry.SetupProvider(ctx, telemetry.Config{
		ServiceName:  serviceName,
		Endpoint:     cfg.Telemetry.OTLPEndpoint,
		Insecure:     cfg.Telemetry.Insecure,
		Environment:  os.Getenv("NEWTON_ENVIRONMENT"),
		ResourceTags: map[string]string{"log.level": cfg.Logging.Level},
	})
	if err != nil {
		return err
	}
	defer shutdownTelemetry(telemetryShutdown)

	p := proxy.New(proxy.Config{
		APIKey:        secrets.ProxyAPIKey,
		UserDataURL:   cfg.Proxy.UserDataURL,
		VaultsURL:     cfg.Proxy.VaultsURL,
		EgressTimeout: time.Duration(cfg.Proxy.EgressTimeoutSeconds) * time.Second,
		RateLimit: governance.RateLimiterConfig{
			Requests: cfg.Proxy.RateLimit.Requests,
			Window:   cfg.Proxy.RateLimit.Window(),
		},
	}, proxy.WithLogger(logger))

	adminSrv := startAdminServer(cfg, p)
	defer shutdownServer("admin", adminSrv)

	proxySrv := startProxyServer(cfg, p)
	defer shutdownServer("proxy", proxySrv)

	awaitShutdownSignal(ctx, logger)
	return nil
}

func shutdownTelemetry(shutdown func(context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), telemetryShutdownTimeout)
	defer cancel()
	if err := shutdown(ctx); err != nil {
		log.Printf("telemetry shutdown error: %v", err)
	}
}

// startProxyServer starts the rate-limited data plane.
func startProxyServer(cfg *config.Config, p *proxy.Proxy) *http.Server {
	handler := otelhttp.NewHandler(p.Handler(), "proxy.egress")
	server := &http.Server{
		Addr:         cfg.Server.ProxyAddress,
		Handler:      handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		ln, err := net.Listen("tcp", cfg.Server.ProxyAddress)
		if err != nil {
			log.Printf("proxy server listen error: %v", err)
			return
		}
		log.Printf("proxy server listening on %s", ln.Addr().String())
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("proxy server error: %v", err)
		}
	}()

	return server
}

// startAdminServer starts the health and metrics endpoints.
func startAdminServer(cfg *config.Config, p *proxy.Proxy) *http.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/admin/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	mux.Handle("/metrics", p.Metrics().Handler())

	server := &http.Server{
		Addr:              cfg.Server.AdminAddress,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		ln, err := net.Listen("tcp", cfg.Server.AdminAddress)
		if err != nil {
			log.Printf("admin server listen error: %v", err)
			return
		}
		log.Printf("admin server listening on %s", ln.Addr().String())
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("admin server error: %v", err)
		}
	}()

	return server
}

func shutdownServer(name string, server *http.Server) {
	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Printf("%s server shutdown error: %v", name, err)
	}
}

// awaitShutdownSignal blocks until a shutdown signal arrives.
func awaitShutdownSignal(ctx context.Context, logger *slog.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		logger.Info("received signal, initiating graceful shutdown", "signal", sig.String())
	case <-ctx.Done():
	}
}
