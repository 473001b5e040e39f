// Package llm synthesizes answers from retrieved passages with an
// OpenAI-compatible chat completions API.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"docqa/internal/domain"
	"docqa/internal/httpretry"
)

const systemPrompt = `You are a helpful assistant answering questions about the user's documents.
Answer only from the context passages provided. If the context does not contain
the answer, say that you could not find it in the documents. Be concise and
mention the source file when it helps.`

// Config configures the chat completions client.
type Config struct {
	BaseURL     string
	APIKeyEnv   string
	Timeout     time.Duration
	Temperature float64
	MaxTokens   int
	// RetryBaseDelay is the first backoff step; zero means 500ms.
	RetryBaseDelay time.Duration
}

// Stats tracks usage of the client.
type Stats struct {
	TotalCalls       int
	TotalInputChars  int
	TotalOutputChars int
}

// Client calls /chat/completions on an OpenAI-compatible endpoint such as
// Together AI.
type Client struct {
	baseURL     string
	apiKey      string
	apiKeyEnv   string
	temperature float64
	maxTokens   int
	client      *http.Client
	retry       httpretry.Policy

	mu    sync.Mutex
	stats Stats
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature,omitempty"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// NewClient reads the API key from cfg.APIKeyEnv. A missing key is not an
// error here; Generate reports it.
func NewClient(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.together.xyz/v1"
	}
	t := cfg.Timeout
	if t == 0 {
		t = 60 * time.Second
	}
	if cfg.RetryBaseDelay <= 0 {
		cfg.RetryBaseDelay = 500 * time.Millisecond
	}
	return &Client{
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:      os.Getenv(cfg.APIKeyEnv),
		apiKeyEnv:   cfg.APIKeyEnv,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
		client:      &http.Client{Timeout: t},
		retry:       httpretry.Policy{MaxRetries: 2, BaseDelay: cfg.RetryBaseDelay},
	}
}

// HasKey reports whether an API key was found.
func (c *Client) HasKey() bool { return c.apiKey != "" }

func (c *Client) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

// Generate answers query from passages with the given model. Failures wrap
// domain.ErrInference.
func (c *Client) Generate(ctx context.Context, model, query string, passages []domain.SearchResult) (string, error) {
	if c.apiKey == "" {
		return "", fmt.Errorf("%w: missing API key in env %s", domain.ErrInference, c.apiKeyEnv)
	}
	if model == "" {
		return "", fmt.Errorf("%w: no model selected", domain.ErrInference)
	}
	messages := []chatMessage{
		{Role: "system", Content: systemPrompt},
		{Role: "user", Content: BuildPrompt(query, passages)},
	}
	out, err := c.chat(ctx, model, messages)
	if err != nil {
		return "", err
	}

	c.mu.Lock()
	c.stats.TotalCalls++
	for _, m := range messages {
		c.stats.TotalInputChars += len(m.Content)
	}
	c.stats.TotalOutputChars += len(out)
	c.mu.Unlock()
	return out, nil
}

// BuildPrompt lays out the retrieved passages followed by the question.
func BuildPrompt(query string, passages []domain.SearchResult) string {
	var sb strings.Builder
	sb.WriteString("Context information is below.\n---------------------\n")
	for i, p := range passages {
		fmt.Fprintf(&sb, "[%d] %s (score %.2f)\n%s\n\n", i+1, p.Chunk.Source, p.Score, p.Chunk.Text)
	}
	sb.WriteString("---------------------\n")
	sb.WriteString("Given the context information and not prior knowledge, answer the query.\n")
	fmt.Fprintf(&sb, "Query: %s\nAnswer: ", query)
	return sb.String()
}

func (c *Client) chat(ctx context.Context, model string, messages []chatMessage) (string, error) {
	data, err := json.Marshal(chatRequest{
		Model:       model,
		Messages:    messages,
		Temperature: c.temperature,
		MaxTokens:   c.maxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("%w: marshal request: %v", domain.ErrInference, err)
	}
	url := c.baseURL + "/chat/completions"
	resp, err := httpretry.Do(ctx, c.client, c.retry, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
		return req, nil
	})
	if err != nil {
		return "", fmt.Errorf("%w: chat request: %v", domain.ErrInference, err)
	}

	var out chatResponse
	if jsonErr := json.Unmarshal(resp.Body, &out); jsonErr != nil {
		if resp.StatusCode >= 300 {
			return "", fmt.Errorf("%w: chat request failed: %s", domain.ErrInference, resp.Status)
		}
		return "", fmt.Errorf("%w: parse response: %v", domain.ErrInference, jsonErr)
	}
	if out.Error != nil {
		return "", fmt.Errorf("%w: API error: %s", domain.ErrInference, out.Error.Message)
	}
	if resp.StatusCode >= 300 {
		return "", fmt.Errorf("%w: chat request failed: %s", domain.ErrInference, resp.Status)
	}
	if len(out.Choices) == 0 || strings.TrimSpace(out.Choices[0].Message.Content) == "" {
		return "", fmt.Errorf("%w: no response from model %s", domain.ErrInference, model)
	}
	return strings.TrimSpace(out.Choices[0].Message.Content), nil
}
