package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"docqa/internal/config"
	"docqa/internal/domain"
	"docqa/internal/index"
	"docqa/internal/llm"
	"docqa/internal/loader"
	"docqa/internal/logger"
	"docqa/internal/session"
	"docqa/internal/telemetry"
	"docqa/internal/tui"
)

var (
	cfgPath     string
	metricsAddr string
	logLevel    string
)

var rootCmd = &cobra.Command{
	Use:   "docqa [files...]",
	Short: "Ask questions about your PDF, DOCX and TXT documents",
	Long: `docqa indexes uploaded documents and answers questions about them with a
hosted LLM. Files given as arguments (paths or globs) are processed at startup;
more can be uploaded from the UI with ctrl+o.

Examples:
  docqa
  docqa report.pdf notes/*.txt
  docqa --config ./config.yaml "papers/**/*.pdf"`,
	SilenceUsage: true,
	RunE:         run,
}

func init() {
	rootCmd.Flags().StringVar(&cfgPath, "config", "", "path to YAML config file (default ./config.yaml, then ~/.config/docqa/config.yaml)")
	rootCmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address (overrides telemetry.metrics_addr)")
	rootCmd.Flags().StringVar(&logLevel, "log-level", "", "log level (overrides logging.level)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	_ = godotenv.Load()

	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if metricsAddr != "" {
		cfg.Telemetry.MetricsAddr = metricsAddr
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}

	log := logger.NewZapLogger(logger.Options{
		FilePath:   cfg.Logging.File,
		Level:      cfg.Logging.Level,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
	})
	defer log.Sync()

	ctx := cmd.Context()
	env := config.ResolveEnv(cfg)
	tel := telemetry.NewStack(ctx, telemetryOptions(cfg, env), log)
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tel.Shutdown(sctx); err != nil {
			log.Warn("main", "telemetry shutdown failed", map[string]any{"error": err.Error()})
		}
	}()
	if tel.Metrics != nil {
		stop := serveMetrics(cfg.Telemetry.MetricsAddr, tel.Metrics.Handler(), log)
		defer stop()
	}

	factory, closeStore, err := storageFactory(cfg)
	if err != nil {
		return err
	}
	defer closeStore()
	ch, err := newChunker(cfg)
	if err != nil {
		return err
	}
	sum, err := newSummarizer(cfg)
	if err != nil {
		return err
	}
	newEmbedder, err := embedderFactory(cfg)
	if err != nil {
		return err
	}

	pipeline := index.NewPipeline(loader.New(), ch, newEmbedder, index.NewBuilder(factory),
		index.WithSummarizer(sum, cfg.Summarizer.MaxSentences),
		index.WithLogger(log),
	)
	synth := llm.NewClient(llm.Config{
		BaseURL:     cfg.LLM.BaseURL,
		APIKeyEnv:   cfg.LLM.APIKeyEnv,
		Timeout:     time.Duration(cfg.LLM.TimeoutSecs) * time.Second,
		Temperature: cfg.LLM.Temperature,
		MaxTokens:   cfg.LLM.MaxTokens,
	})
	orch := session.NewOrchestrator(pipeline, synth, tel.Recorder, log)
	manager := session.NewManager(sessionDefaults(cfg), tel.Recorder, 0)
	s := manager.Start(ctx)
	defer manager.End(s.ID())

	log.Info("main", "starting", map[string]any{
		"session_id":   s.ID(),
		"embedder":     cfg.Embedder.Type,
		"vector_store": cfg.VectorStore.Type,
		"model":        cfg.LLM.DefaultModel,
		"telemetry":    telemetryStatus(tel, env),
	})

	maxBytes := int64(cfg.Upload.MaxFileMB) << 20
	m := tui.New(orch, s, tui.Options{
		Models:        cfg.LLM.Models,
		APIKeyEnv:     cfg.LLM.APIKeyEnv,
		APIKeyPresent: synth.HasKey(),
		Telemetry:     telemetryStatus(tel, env),
		InitialFiles:  args,
		Collect: func(patterns []string) ([]domain.Upload, error) {
			return loader.Collect(patterns, maxBytes)
		},
	})
	if _, err := tea.NewProgram(m, tea.WithAltScreen()).Run(); err != nil {
		return err
	}
	return nil
}

func loadConfig() (*config.AppConfig, error) {
	if cfgPath != "" {
		return config.Load(cfgPath)
	}
	cfg, _, err := config.LoadDefault()
	return cfg, err
}

// serveMetrics exposes /metrics until the returned stop function is called.
func serveMetrics(addr string, h http.Handler, log logger.Logger) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", h)
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Warn("main", "metrics server stopped", map[string]any{"addr": addr, "error": err.Error()})
		}
	}()
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}
