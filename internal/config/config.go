package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// OpenAIEmbedderConfig holds configuration for the OpenAI-compatible embedder.
type OpenAIEmbedderConfig struct {
	BaseURL     string `yaml:"base_url"`
	APIKeyEnv   string `yaml:"api_key_env"`
	Model       string `yaml:"model"`
	TimeoutSecs int    `yaml:"timeout_secs"`
	BatchSize   int    `yaml:"batch_size"`
}

// EmbedderConfig selects and configures the text embedder implementation.
type EmbedderConfig struct {
	Type   string                `yaml:"type"`
	OpenAI *OpenAIEmbedderConfig `yaml:"openai,omitempty"`
}

// ChunkerConfig configures how documents are split into chunks.
type ChunkerConfig struct {
	Type              string `yaml:"type"`
	SentencesPerChunk int    `yaml:"sentences_per_chunk"`
	OverlapSentences  int    `yaml:"overlap_sentences"`
}

// VectorStoreConfig selects and configures the vector store implementation.
type VectorStoreConfig struct {
	Type   string        `yaml:"type"`
	Qdrant *QdrantConfig `yaml:"qdrant,omitempty"`
	Bolt   *BoltConfig   `yaml:"bolt,omitempty"`
}

// QdrantConfig contains connection details for a Qdrant vector store.
// Collection is used as a prefix; every index gets its own collection.
type QdrantConfig struct {
	URL         string `yaml:"url"`
	APIKey      string `yaml:"api_key"`
	Collection  string `yaml:"collection"`
	TimeoutSecs int    `yaml:"timeout_secs"`
}

// BoltConfig points at the bbolt file holding persisted vectors.
type BoltConfig struct {
	Path string `yaml:"path"`
}

// SummarizerConfig selects and configures the summarizer. MaxSentences of 0
// disables the summary in the indexing confirmation.
type SummarizerConfig struct {
	Type         string `yaml:"type"`
	MaxSentences int    `yaml:"max_sentences"`
}

// LLMConfig configures the OpenAI-compatible chat completion endpoint.
type LLMConfig struct {
	BaseURL      string   `yaml:"base_url"`
	APIKeyEnv    string   `yaml:"api_key_env"`
	Models       []string `yaml:"models"`
	DefaultModel string   `yaml:"default_model"`
	TimeoutSecs  int      `yaml:"timeout_secs"`
	Temperature  float64  `yaml:"temperature"`
	MaxTokens    int      `yaml:"max_tokens"`
}

// RetrievalConfig holds the defaults offered by the threshold control.
type RetrievalConfig struct {
	SimilarityThreshold float64 `yaml:"similarity_threshold"`
	TopK                int     `yaml:"top_k"`
}

// UploadConfig limits what the upload action accepts.
type UploadConfig struct {
	MaxFileMB int `yaml:"max_file_mb"`
}

// LangfuseConfig names the environment variables holding Langfuse credentials.
type LangfuseConfig struct {
	Host         string `yaml:"host"`
	PublicKeyEnv string `yaml:"public_key_env"`
	SecretKeyEnv string `yaml:"secret_key_env"`
}

// TelemetryConfig configures the best-effort event sinks.
type TelemetryConfig struct {
	Enabled      bool           `yaml:"enabled"`
	ServiceName  string         `yaml:"service_name"`
	OTLPEndpoint string         `yaml:"otlp_endpoint"`
	Langfuse     LangfuseConfig `yaml:"langfuse"`
	MetricsAddr  string         `yaml:"metrics_addr"`
}

// LoggingConfig configures the rotating log file.
type LoggingConfig struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// AppConfig is the root application configuration structure.
type AppConfig struct {
	Embedder    EmbedderConfig    `yaml:"embedder"`
	Chunker     ChunkerConfig     `yaml:"chunker"`
	VectorStore VectorStoreConfig `yaml:"vector_store"`
	Summarizer  SummarizerConfig  `yaml:"summarizer"`
	LLM         LLMConfig         `yaml:"llm"`
	Retrieval   RetrievalConfig   `yaml:"retrieval"`
	Upload      UploadConfig      `yaml:"upload"`
	Telemetry   TelemetryConfig   `yaml:"telemetry"`
	Logging     LoggingConfig     `yaml:"logging"`
}

const (
	togetherBaseURL       = "https://api.together.xyz/v1"
	togetherAPIKeyEnv     = "TOGETHER_API_KEY"
	defaultEmbeddingModel = "togethercomputer/m2-bert-80M-8k-retrieval"
	defaultLangfuseHost   = "https://cloud.langfuse.com"
)

// DefaultModels is the chat model list offered by the model selector.
var DefaultModels = []string{
	"mistralai/Mistral-7B-Instruct-v0.2",
	"meta-llama/Llama-2-13b-chat-hf",
	"togethercomputer/Llama-2-7B-32K-Instruct",
	"mistralai/Mixtral-8x7B-Instruct-v0.1",
	"Qwen/Qwen3-235B-A22B-fp8-tput",
}

// Load reads a config from a specified path. If the file does not exist, returns defaults.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Default(), nil
		}
		return nil, err
	}
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	applyConfigDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadDefault tries ./config.yaml first, then ~/.config/docqa/config.yaml.
// If neither exists, it writes defaults to ~/.config/docqa/config.yaml and returns them.
func LoadDefault() (*AppConfig, string, error) {
	cwdPath := "config.yaml"
	if _, err := os.Stat(cwdPath); err == nil {
		cfg, err := Load(cwdPath)
		return cfg, cwdPath, err
	}
	userPath, err := defaultUserConfigPath()
	if err != nil {
		return nil, "", err
	}
	if _, err := os.Stat(userPath); err == nil {
		cfg, err := Load(userPath)
		return cfg, userPath, err
	}
	cfg := Default()
	if err := Save(userPath, cfg); err != nil {
		return nil, "", err
	}
	return cfg, userPath, nil
}

// Save writes the config to the given path, creating directories as needed.
func Save(path string, cfg *AppConfig) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// Validate rejects unknown component types and out-of-range values.
func (c *AppConfig) Validate() error {
	switch c.Embedder.Type {
	case "openai", "tfidf":
	default:
		return fmt.Errorf("unknown embedder: %q", c.Embedder.Type)
	}
	switch c.Chunker.Type {
	case "sentence":
	default:
		return fmt.Errorf("unknown chunker: %q", c.Chunker.Type)
	}
	switch c.VectorStore.Type {
	case "memory":
	case "qdrant":
		if c.VectorStore.Qdrant == nil || c.VectorStore.Qdrant.URL == "" {
			return errors.New("qdrant config missing")
		}
	case "bolt":
		if c.VectorStore.Bolt == nil || c.VectorStore.Bolt.Path == "" {
			return errors.New("bolt config missing")
		}
	default:
		return fmt.Errorf("unknown vector store: %q", c.VectorStore.Type)
	}
	switch c.Summarizer.Type {
	case "frequency":
	default:
		return fmt.Errorf("unknown summarizer: %q", c.Summarizer.Type)
	}
	if t := c.Retrieval.SimilarityThreshold; !(t >= 0 && t <= 1) {
		return fmt.Errorf("similarity_threshold %.2f outside [0, 1]", t)
	}
	if len(c.LLM.Models) == 0 {
		return errors.New("llm.models must list at least one model")
	}
	return nil
}

func defaultUserConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "docqa", "config.yaml"), nil
}

// Default returns the configuration used when no file is present.
func Default() *AppConfig {
	cfg := &AppConfig{
		Embedder: EmbedderConfig{
			Type: "openai",
			OpenAI: &OpenAIEmbedderConfig{
				BaseURL:     togetherBaseURL,
				APIKeyEnv:   togetherAPIKeyEnv,
				Model:       defaultEmbeddingModel,
				TimeoutSecs: 30,
				BatchSize:   32,
			},
		},
		Chunker:     ChunkerConfig{Type: "sentence", SentencesPerChunk: 5, OverlapSentences: 1},
		VectorStore: VectorStoreConfig{Type: "memory"},
		Summarizer:  SummarizerConfig{Type: "frequency", MaxSentences: 0},
		LLM: LLMConfig{
			BaseURL:      togetherBaseURL,
			APIKeyEnv:    togetherAPIKeyEnv,
			Models:       append([]string(nil), DefaultModels...),
			DefaultModel: DefaultModels[0],
			TimeoutSecs:  60,
			Temperature:  0.1,
			MaxTokens:    1024,
		},
		Retrieval: RetrievalConfig{SimilarityThreshold: 0.5, TopK: 5},
		Upload:    UploadConfig{MaxFileMB: 200},
		Telemetry: TelemetryConfig{
			Enabled:     true,
			ServiceName: "docqa",
			Langfuse: LangfuseConfig{
				Host:         defaultLangfuseHost,
				PublicKeyEnv: "LANGFUSE_PUBLIC_KEY",
				SecretKeyEnv: "LANGFUSE_SECRET_KEY",
			},
		},
		Logging: LoggingConfig{Level: "info", File: "docqa.log"},
	}
	return cfg
}

func applyConfigDefaults(cfg *AppConfig) {
	def := Default()
	if cfg.Chunker.SentencesPerChunk == 0 {
		cfg.Chunker.SentencesPerChunk = 5
	}
	if cfg.Embedder.Type == "openai" {
		if cfg.Embedder.OpenAI == nil {
			cfg.Embedder.OpenAI = &OpenAIEmbedderConfig{}
		}
		o := cfg.Embedder.OpenAI
		if o.BaseURL == "" {
			o.BaseURL = togetherBaseURL
		}
		if o.APIKeyEnv == "" {
			o.APIKeyEnv = togetherAPIKeyEnv
		}
		if o.Model == "" {
			o.Model = defaultEmbeddingModel
		}
		if o.TimeoutSecs == 0 {
			o.TimeoutSecs = 30
		}
		if o.BatchSize == 0 {
			o.BatchSize = 32
		}
	}
	if cfg.VectorStore.Qdrant != nil {
		if cfg.VectorStore.Qdrant.Collection == "" {
			cfg.VectorStore.Qdrant.Collection = "docqa"
		}
		if cfg.VectorStore.Qdrant.TimeoutSecs == 0 {
			cfg.VectorStore.Qdrant.TimeoutSecs = 15
		}
	}
	if cfg.LLM.BaseURL == "" {
		cfg.LLM.BaseURL = def.LLM.BaseURL
	}
	if cfg.LLM.APIKeyEnv == "" {
		cfg.LLM.APIKeyEnv = def.LLM.APIKeyEnv
	}
	if len(cfg.LLM.Models) == 0 {
		cfg.LLM.Models = def.LLM.Models
	}
	if !contains(cfg.LLM.Models, cfg.LLM.DefaultModel) {
		cfg.LLM.DefaultModel = cfg.LLM.Models[0]
	}
	if cfg.LLM.TimeoutSecs == 0 {
		cfg.LLM.TimeoutSecs = def.LLM.TimeoutSecs
	}
	if cfg.LLM.MaxTokens == 0 {
		cfg.LLM.MaxTokens = def.LLM.MaxTokens
	}
	if cfg.Retrieval.TopK <= 0 {
		cfg.Retrieval.TopK = def.Retrieval.TopK
	}
	if cfg.Upload.MaxFileMB <= 0 {
		cfg.Upload.MaxFileMB = def.Upload.MaxFileMB
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = def.Telemetry.ServiceName
	}
	if cfg.Telemetry.Langfuse.Host == "" {
		cfg.Telemetry.Langfuse.Host = def.Telemetry.Langfuse.Host
	}
	if cfg.Logging.File == "" {
		cfg.Logging.File = def.Logging.File
	}
}

// Env resolves secrets and endpoints that live in the environment rather than
// in the YAML file. LANGFUSE_HOST overrides telemetry.langfuse.host.
type Env struct {
	LLMAPIKey         string
	EmbedderAPIKey    string
	LangfusePublicKey string
	LangfuseSecretKey string
	LangfuseHost      string
}

// ResolveEnv reads the variables named by cfg. godotenv.Load must already
// have populated the process environment.
func ResolveEnv(cfg *AppConfig) Env {
	env := Env{
		LLMAPIKey:         os.Getenv(cfg.LLM.APIKeyEnv),
		LangfusePublicKey: os.Getenv(cfg.Telemetry.Langfuse.PublicKeyEnv),
		LangfuseSecretKey: os.Getenv(cfg.Telemetry.Langfuse.SecretKeyEnv),
		LangfuseHost:      getEnv("LANGFUSE_HOST", cfg.Telemetry.Langfuse.Host),
	}
	if cfg.Embedder.OpenAI != nil {
		env.EmbedderAPIKey = os.Getenv(cfg.Embedder.OpenAI.APIKeyEnv)
	}
	return env
}

// LangfuseEnabled reports whether both Langfuse keys are present.
func (e Env) LangfuseEnabled() bool {
	return e.LangfusePublicKey != "" && e.LangfuseSecretKey != ""
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists && value != "" {
		return value
	}
	return fallback
}
