// Package generation produces proposal text with a language model.
package generation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Generator turns a prompt into text.
type Generator interface {
	// Generate returns the completion for prompt. system may be empty.
	Generate(ctx context.Context, prompt, system string) (string, error)
}

// Ollama defaults.
const (
	DefaultBaseURL     = "http://localhost:11434"
	DefaultModel       = "llama3.2"
	DefaultTimeout     = 120 * time.Second
	DefaultTemperature = 0.7
	DefaultMaxTokens   = 2000
)

// OllamaConfig configures an OllamaGenerator.
type OllamaConfig struct {
	BaseURL     string
	Model       string
	Timeout     time.Duration
	Temperature float64
	MaxTokens   int
}

// OllamaGenerator calls the Ollama /api/generate endpoint without streaming.
type OllamaGenerator struct {
	client      *http.Client
	baseURL     string
	model       string
	temperature float64
	maxTokens   int
}

type generateRequest struct {
	Model   string   `json:"model"`
	Prompt  string   `json:"prompt"`
	System  string   `json:"system,omitempty"`
	Stream  bool     `json:"stream"`
	Options *options `json:"options,omitempty"`
}

type options struct {
	NumPredict  int     `json:"num_predict,omitempty"`
	Temperature float64 `json:"temperature,omitempty"`
}

type generateResponse struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
}

// NewOllamaGenerator creates a generator for the given Ollama server.
func NewOllamaGenerator(cfg OllamaConfig) *OllamaGenerator {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	return &OllamaGenerator{
		client:      &http.Client{Timeout: cfg.Timeout},
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		model:       cfg.Model,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
	}
}

// Model returns the generation model name.
func (g *OllamaGenerator) Model() string {
	return g.model
}

// Generate produces a completion for prompt.
func (g *OllamaGenerator) Generate(ctx context.Context, prompt, system string) (string, error) {
	reqBody := generateRequest{
		Model:  g.model,
		Prompt: prompt,
		System: system,
		Stream: false,
	}
	if g.maxTokens > 0 || g.temperature > 0 {
		reqBody.Options = &options{NumPredict: g.maxTokens, Temperature: g.temperature}
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("ollama error (status %d): %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	// Some Ollama versions emit newline-delimited objects even with
	// stream=false; concatenate every fragment.
	dec := json.NewDecoder(resp.Body)
	var out strings.Builder
	for {
		var chunk generateResponse
		err := dec.Decode(&chunk)
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", fmt.Errorf("decode response: %w", err)
		}
		out.WriteString(chunk.Response)
		if chunk.Done {
			break
		}
	}
	return out.String(), nil
}
