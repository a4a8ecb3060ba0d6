package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"github.com/48Nauts-Operator/lineary/internal/codehost"
	"github.com/48Nauts-Operator/lineary/internal/config"
	"github.com/48Nauts-Operator/lineary/internal/feedback"
	"github.com/48Nauts-Operator/lineary/internal/insights"
	"github.com/48Nauts-Operator/lineary/internal/llm"
	"github.com/48Nauts-Operator/lineary/internal/metrics"
	"github.com/48Nauts-Operator/lineary/internal/review"
	"github.com/48Nauts-Operator/lineary/internal/server"
	"github.com/48Nauts-Operator/lineary/internal/sprint"
	"github.com/48Nauts-Operator/lineary/internal/store"
	"github.com/48Nauts-Operator/lineary/internal/webhook"
)

var (
	configPath string
	verbose    bool

	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "lineary",
	Short: "Lineary - AI-assisted project management core",
	Long: `Lineary drives sprints through an external LLM agent, reviews the
resulting pull requests, and learns from estimated-vs-actual outcomes to
sharpen future estimates.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		zcfg := zap.NewProductionConfig()
		if verbose {
			zcfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = zcfg.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP server and review workers",
	RunE: func(cmd *cobra.Command, args []string) error {
		return serve(cmd.Context())
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("lineary 0.4.0")
	},
}

func serve(ctx context.Context) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if cfg.Logging.Level == "debug" && !verbose {
		zcfg := zap.NewProductionConfig()
		zcfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		if logger, err = zcfg.Build(); err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
	}

	st, err := store.Open(cfg.Database.Path, logger)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer st.Close()

	registry := prometheus.NewRegistry()
	m := metrics.New(registry)

	hosts, err := buildHostClients(cfg)
	if err != nil {
		return err
	}

	llmClient := llm.NewHTTPClient(cfg.LLM.BaseURL, cfg.LLM.APIKey, cfg.LLM.Model,
		cfg.LLM.Timeout, logger)

	loop := feedback.NewLoop(st, logger)
	var recorder sprint.Recorder
	if cfg.Executor.RecordFeedback {
		recorder = loop
	}
	executor := sprint.NewExecutor(st, recorder, cfg.Server.CallbackBaseURL, logger, m)
	receiver := webhook.NewReceiver(st, cfg.CodeHost, cfg.Review.DedupWindow, logger, m)
	pool := review.NewPool(st, hosts, llmClient, cfg.Review, cfg.LLM,
		cfg.CodeHost.MarkerPrefix, logger, m)
	srv := server.New(executor, loop, insights.NewAggregator(st), receiver, m, registry, logger)

	httpServer := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		err := pool.Run(ctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	g.Go(func() error {
		logger.Info("http server listening", zap.String("addr", cfg.Server.Addr))
		err := httpServer.ListenAndServe()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})

	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		logger.Info("shutting down")
		return httpServer.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// buildHostClients constructs a code-host client per configured host.
// Hosts without app credentials are skipped: webhooks for them still
// verify, but their review jobs fail permanently.
func buildHostClients(cfg *config.Config) (map[string]codehost.Client, error) {
	hosts := make(map[string]codehost.Client)
	for name, hc := range cfg.CodeHost.Hosts {
		if hc.AppID == "" || hc.PrivateKeyPath == "" {
			logger.Warn("code host has no app credentials, reviews disabled",
				zap.String("host", name))
			continue
		}

		pem, err := os.ReadFile(hc.PrivateKeyPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s private key: %w", name, err)
		}

		var opts []codehost.GitHubOption
		if hc.APIBaseURL != "" {
			opts = append(opts, codehost.WithGitHubBaseURL(hc.APIBaseURL))
		}
		client, err := codehost.NewGitHubClient(hc.AppID, pem, hc.InstallationID,
			cfg.CodeHost.RequestTimeout, logger, opts...)
		if err != nil {
			return nil, fmt.Errorf("failed to build %s client: %w", name, err)
		}
		hosts[name] = client
	}
	return hosts, nil
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
