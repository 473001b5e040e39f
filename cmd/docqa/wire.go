package main

import (
	"fmt"
	"strings"
	"time"

	"docqa/internal/chunker"
	"docqa/internal/config"
	"docqa/internal/domain"
	"docqa/internal/embedding"
	"docqa/internal/embedding/openai"
	"docqa/internal/embedding/tfidf"
	"docqa/internal/index"
	"docqa/internal/session"
	"docqa/internal/summarizer"
	"docqa/internal/telemetry"
	"docqa/internal/vectorstore"
	"docqa/internal/vectorstore/bolt"
	"docqa/internal/vectorstore/memory"
	"docqa/internal/vectorstore/qdrant"
)

// embedderFactory returns a constructor called once per index build.
func embedderFactory(cfg *config.AppConfig) (index.EmbedderFactory, error) {
	switch cfg.Embedder.Type {
	case "tfidf", "":
		return func() (embedding.Embedder, error) { return tfidf.NewEmbedder(), nil }, nil
	case "openai":
		if cfg.Embedder.OpenAI == nil {
			return nil, fmt.Errorf("openai embedder config missing")
		}
		o := *cfg.Embedder.OpenAI
		return func() (embedding.Embedder, error) {
			c, err := openai.NewClient(openai.Config{
				BaseURL:   o.BaseURL,
				APIKeyEnv: o.APIKeyEnv,
				Model:     o.Model,
				Timeout:   time.Duration(o.TimeoutSecs) * time.Second,
				BatchSize: o.BatchSize,
			})
			if err != nil {
				return nil, err
			}
			return c, nil
		}, nil
	}
	return nil, fmt.Errorf("unknown embedder: %s", cfg.Embedder.Type)
}

// storageFactory returns the per-index storage factory and a func releasing
// shared resources.
func storageFactory(cfg *config.AppConfig) (vectorstore.Factory, func(), error) {
	switch cfg.VectorStore.Type {
	case "memory", "":
		return memory.Factory(), func() {}, nil
	case "qdrant":
		if cfg.VectorStore.Qdrant == nil {
			return nil, nil, fmt.Errorf("qdrant config missing")
		}
		q := cfg.VectorStore.Qdrant
		return qdrant.Factory(qdrant.Config{
			URL:        q.URL,
			APIKey:     q.APIKey,
			Collection: q.Collection,
			Timeout:    time.Duration(q.TimeoutSecs) * time.Second,
		}), func() {}, nil
	case "bolt":
		if cfg.VectorStore.Bolt == nil {
			return nil, nil, fmt.Errorf("bolt config missing")
		}
		db, err := bolt.Open(cfg.VectorStore.Bolt.Path)
		if err != nil {
			return nil, nil, err
		}
		return db.Factory(), func() { _ = db.Close() }, nil
	}
	return nil, nil, fmt.Errorf("unknown vector store: %s", cfg.VectorStore.Type)
}

func newChunker(cfg *config.AppConfig) (domain.Chunker, error) {
	switch cfg.Chunker.Type {
	case "sentence", "":
		return chunker.NewSentenceChunker(cfg.Chunker.SentencesPerChunk, cfg.Chunker.OverlapSentences), nil
	}
	return nil, fmt.Errorf("unknown chunker: %s", cfg.Chunker.Type)
}

func newSummarizer(cfg *config.AppConfig) (domain.Summarizer, error) {
	switch cfg.Summarizer.Type {
	case "frequency", "":
		return summarizer.NewFrequencySummarizer(), nil
	}
	return nil, fmt.Errorf("unknown summarizer: %s", cfg.Summarizer.Type)
}

func sessionDefaults(cfg *config.AppConfig) session.Config {
	embeddingModel := "tfidf"
	if cfg.Embedder.Type == "openai" && cfg.Embedder.OpenAI != nil {
		embeddingModel = cfg.Embedder.OpenAI.Model
	}
	return session.Config{
		Model:          cfg.LLM.DefaultModel,
		EmbeddingModel: embeddingModel,
		Threshold:      cfg.Retrieval.SimilarityThreshold,
		TopK:           cfg.Retrieval.TopK,
	}
}

func telemetryOptions(cfg *config.AppConfig, env config.Env) telemetry.Options {
	return telemetry.Options{
		Enabled: cfg.Telemetry.Enabled,
		Metrics: cfg.Telemetry.MetricsAddr != "",
		OTel: telemetry.OTelConfig{
			ServiceName:       cfg.Telemetry.ServiceName,
			Endpoint:          cfg.Telemetry.OTLPEndpoint,
			LangfuseHost:      env.LangfuseHost,
			LangfusePublicKey: env.LangfusePublicKey,
			LangfuseSecretKey: env.LangfuseSecretKey,
		},
	}
}

// telemetryStatus summarizes the active sinks for the status line.
func telemetryStatus(tel *telemetry.Stack, env config.Env) string {
	var parts []string
	switch {
	case tel.Tracing() && env.LangfuseEnabled():
		parts = append(parts, "langfuse")
	case tel.Tracing():
		parts = append(parts, "otlp")
	}
	if tel.Metrics != nil {
		parts = append(parts, "metrics")
	}
	if len(parts) == 0 {
		return "off"
	}
	return strings.Join(parts, "+")
}
