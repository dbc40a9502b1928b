// Package main is the entry point for the newton-provider binary.
// It provides a CLI for running policy data providers locally and a small
// HTTP host for serving them.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/newtonlabs/providers-oss/pkg/capability"
	"github.com/newtonlabs/providers-oss/pkg/config"
	"github.com/newtonlabs/providers-oss/pkg/logging"
	"github.com/newtonlabs/providers-oss/pkg/policy"
	"github.com/newtonlabs/providers-oss/pkg/provider"
)

const (
	defaultListenAddr = ":8081"
	defaultLogLevel   = "info"
)

func main() {
	// Load .env file if present
	_ = godotenv.Load()

	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// newRootCmd creates the root command for newton-provider.
func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "newton-provider",
		Short: "Policy data provider runner",
		Long: `Runs policy data providers: small pipelines that fetch one upstream
document and normalize it into policy input.

Example:
  newton-provider run farcaster-user-data --input '{"inquiry_address": "0xabc"}'
  newton-provider run persona-kyc --input-file request.json --policy kyc.rego`,
	}

	rootCmd.PersistentFlags().StringP("config", "c", "config.yaml", "Path to configuration file (YAML)")
	rootCmd.PersistentFlags().StringP("log-level", "l", defaultLogLevel, "Log level (debug, info, warn, error)")

	rootCmd.AddCommand(newRunCmd())
	rootCmd.AddCommand(newListCmd())
	rootCmd.AddCommand(newServeCmd())

	return rootCmd
}

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run <provider>",
		Short: "Run a named provider once and print the result",
		Args:  cobra.ExactArgs(1),
		RunE:  runProvider,
	}

	cmd.Flags().StringP("input", "i", "", "Request document as a JSON string")
	cmd.Flags().String("input-file", "", "Path to a file containing the request document")
	cmd.Flags().String("fixture", "", "Path to a canned upstream response; replaces the live HTTP capability")
	cmd.Flags().String("policy", "", "Path to a Rego policy to evaluate over the result")
	cmd.Flags().String("entrypoint", "", "Policy decision path (e.g. policy/decision)")

	return cmd
}

func newListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List the available providers",
		RunE: func(cmd *cobra.Command, _ []string) error {
			registry, _, err := buildRegistry(cmd, capability.NotImplemented())
			if err != nil {
				return err
			}
			for _, name := range registry.Names() {
				fmt.Fprintln(cmd.OutOrStdout(), name)
			}
			return nil
		},
	}
}

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the providers over HTTP",
		RunE:  serveProviders,
	}
	cmd.Flags().String("listen", defaultListenAddr, "HTTP listen address")
	return cmd
}

// setupLogger configures the process logger from the persistent flags.
func setupLogger(cmd *cobra.Command) *slog.Logger {
	level, _ := cmd.Flags().GetString("log-level")
	logger := logging.NewLogger(logging.Config{Level: level, Pretty: true})
	slog.SetDefault(logger)
	return logger
}

// buildRegistry loads configuration and constructs the provider registry
// against the given capability. Credentials are resolved best-effort: a
// provider whose secret is absent still loads, it just fails upstream auth.
func buildRegistry(cmd *cobra.Command, fetcher capability.Fetcher) (*provider.Registry, *config.Config, error) {
	configPath, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}

	secrets, err := cfg.ResolveSecrets()
	if err != nil {
		return nil, nil, err
	}

	registry := provider.NewRegistry(registrySettings(cfg, secrets), fetcher)
	return registry, cfg, nil
}

func registrySettings(cfg *config.Config, secrets config.Secrets) provider.Settings {
	return provider.Settings{
		ProxyBaseURL:   cfg.Providers.ProxyBaseURL,
		PersonaBaseURL: cfg.Providers.PersonaBaseURL,
		PersonaAPIKey:  secrets.PersonaAPIKey,
		PlaidBaseURL:   cfg.Providers.PlaidBaseURL,
		Plaid: provider.PlaidCredentials{
			ClientID: secrets.PlaidClientID,
			Secret:   secrets.PlaidSecret,
		},
		ScoreBaseURL: cfg.Providers.ScoreBaseURL,
		Logger:       slog.Default(),
	}
}

// runProvider executes one provider invocation from the CLI.
func runProvider(cmd *cobra.Command, args []string) error {
	logger := setupLogger(cmd)

	input, err := readInput(cmd)
	if err != nil {
		return err
	}

	fetcher, err := selectFetcher(cmd)
	if err != nil {
		return err
	}

	registry, _, err := buildRegistry(cmd, fetcher)
	if err != nil {
		return err
	}

	name := args[0]
	pipeline, ok := registry.Get(name)
	if !ok {
		return fmt.Errorf("unknown provider %q (try: newton-provider list)", name)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	result := pipeline.Run(ctx, input)
	fmt.Fprintln(cmd.OutOrStdout(), result)

	policyPath, _ := cmd.Flags().GetString("policy")
	if policyPath == "" {
		return nil
	}

	decision, err := evaluatePolicy(ctx, cmd, policyPath, input, result)
	if err != nil {
		return err
	}

	encoded, err := json.Marshal(decision)
	if err != nil {
		return fmt.Errorf("encode decision: %w", err)
	}
	logger.Info("policy evaluated", "policy", policyPath)
	fmt.Fprintln(cmd.OutOrStdout(), string(encoded))
	return nil
}

// readInput resolves the request document from --input or --input-file.
func readInput(cmd *cobra.Command) (string, error) {
	input, _ := cmd.Flags().GetString("input")
	inputFile, _ := cmd.Flags().GetString("input-file")

	if input != "" && inputFile != "" {
		return "", errors.New("--input and --input-file are mutually exclusive")
	}
	if inputFile != "" {
		data, err := os.ReadFile(inputFile) // nolint:gosec // path from CLI flag
		if err != nil {
			return "", fmt.Errorf("failed to read input file: %w", err)
		}
		return string(data), nil
	}
	if input == "" {
		return "", errors.New("a request document is required (--input or --input-file)")
	}
	return input, nil
}

// selectFetcher returns the fixture capability when --fixture is set,
// otherwise the live HTTP capability.
func selectFetcher(cmd *cobra.Command) (capability.Fetcher, error) {
	fixturePath, _ := cmd.Flags().GetString("fixture")
	if fixturePath == "" {
		return capability.NewHTTPFetcher(), nil
	}
	return loadFixtureFetcher(fixturePath)
}

// fixtureDoc is the on-disk shape of a canned upstream response.
type fixtureDoc struct {
	Status int             `json:"status"`
	Body   json.RawMessage `json:"body"`
}

// loadFixtureFetcher builds a capability that replays a canned response,
// so provider behaviour can be exercised without network access.
func loadFixtureFetcher(path string) (capability.Fetcher, error) {
	data, err := os.ReadFile(path) // nolint:gosec // path from CLI flag
	if err != nil {
		return nil, fmt.Errorf("failed to read fixture file: %w", err)
	}

	var doc fixtureDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse fixture file %s: %w", path, err)
	}
	if doc.Status == 0 {
		doc.Status = http.StatusOK
	}

	return capability.FetcherFunc(func(_ context.Context, _ capability.Request) (capability.Response, error) {
		return capability.Response{Status: doc.Status, Body: doc.Body}, nil
	}), nil
}

// evaluatePolicy runs a Rego policy over the provider result, using the
// request document's fields as the params half of the policy input.
func evaluatePolicy(ctx context.Context, cmd *cobra.Command, policyPath, input, result string) (any, error) {
	src, err := os.ReadFile(policyPath) // nolint:gosec // path from CLI flag
	if err != nil {
		return nil, fmt.Errorf("failed to read policy file: %w", err)
	}

	entrypoint, _ := cmd.Flags().GetString("entrypoint")
	engine, err := policy.NewEngine(ctx, policy.EngineOptions{
		Entrypoint: entrypoint,
		Modules:    map[string]string{filepath.Base(policyPath): string(src)},
	})
	if err != nil {
		return nil, err
	}

	var params map[string]any
	if err := json.Unmarshal([]byte(input), &params); err != nil {
		// The pipeline already reported the malformed input; evaluate with
		// empty params so the decision is still produced.
		params = map[string]any{}
	}

	return engine.EvaluateResult(ctx, params, result)
}

// serveProviders hosts the registry over HTTP and hot-reloads provider
// settings when the configuration file changes.
func serveProviders(cmd *cobra.Command, _ []string) error {
	logger := setupLogger(cmd)

	fetcher := capability.NewHTTPFetcher()
	registry, _, err := buildRegistry(cmd, fetcher)
	if err != nil {
		return err
	}

	configPath, _ := cmd.Flags().GetString("config")
	watcher, err := config.NewWatcher(configPath, func(path string) error {
		reloaded, err := config.Load(path)
		if err != nil {
			return err
		}
		secrets, err := reloaded.ResolveSecrets()
		if err != nil {
			return err
		}
		registry.Reload(registrySettings(reloaded, secrets), fetcher)
		return nil
	}, logger)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := watcher.Start(ctx); err != nil {
		logger.Warn("config watcher unavailable", "error", err)
	} else {
		defer func() { _ = watcher.Stop() }()
	}

	listen, _ := cmd.Flags().GetString("listen")
	server := &http.Server{
		Addr:              listen,
		Handler:           otelhttp.NewHandler(providerHandler(registry), "provider.host"),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("provider host listening", "addr", listen)
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case <-ctx.Done():
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("error during shutdown", "error", err)
		}
	}

	logger.Info("provider host stopped")
	return nil
}

// providerHandler routes provider listing and execution.
func providerHandler(registry *provider.Registry) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /providers", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"providers": registry.Names()})
	})

	mux.HandleFunc("POST /providers/{name}/run", func(w http.ResponseWriter, r *http.Request) {
		pipeline, ok := registry.Get(r.PathValue("name"))
		if !ok {
			http.Error(w, "unknown provider", http.StatusNotFound)
			return
		}

		body, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, "failed to read request body", http.StatusBadRequest)
			return
		}

		// Run is total; whatever comes back is the response document.
		result := pipeline.Run(r.Context(), string(body))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(result))
	})

	return mux
}
