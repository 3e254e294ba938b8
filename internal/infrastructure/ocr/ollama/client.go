// Package ollama reads field crops with a vision model served by Ollama.
package ollama

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"image"
	"image/png"
	"net/http"
	"strings"
	"time"

	"github.com/kirillkom/mission-stats/internal/core/domain"
	"github.com/kirillkom/mission-stats/internal/infrastructure/resilience"
)

type Client struct {
	baseURL    string
	model      string
	httpClient *http.Client
	executor   *resilience.Executor
}

func New(baseURL, model string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		model:      model,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// WithExecutor routes generate calls through retries and a circuit breaker.
func (c *Client) WithExecutor(executor *resilience.Executor) *Client {
	c.executor = executor
	return c
}

// Engine implements ports.OCREngine on top of the generate endpoint.
type Engine struct {
	client *Client
}

func NewEngine(client *Client) *Engine {
	return &Engine{client: client}
}

type recognition struct {
	Text       string   `json:"text"`
	Confidence *float64 `json:"confidence"`
}

func (e *Engine) Recognize(ctx context.Context, img image.Image, hints domain.OCRHints) (domain.OCRResult, error) {
	if img == nil || img.Bounds().Empty() {
		return domain.OCRResult{}, nil
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return domain.OCRResult{}, fmt.Errorf("encode crop: %w", err)
	}

	respText, err := e.client.generateJSON(ctx, buildRecognitionPrompt(hints), base64.StdEncoding.EncodeToString(buf.Bytes()))
	if err != nil {
		return domain.OCRResult{}, err
	}

	var result recognition
	if err := json.Unmarshal([]byte(extractJSONObject(respText)), &result); err != nil {
		return domain.OCRResult{}, fmt.Errorf("parse recognition json: %w", err)
	}
	// missing confidence scores as 0.5
	conf := 0.5
	if result.Confidence != nil {
		conf = *result.Confidence
	}
	return domain.OCRResult{Text: strings.TrimSpace(result.Text), Confidence: conf}, nil
}

func (c *Client) generateJSON(ctx context.Context, prompt, imageB64 string) (string, error) {
	reqBody := map[string]any{
		"model":  c.model,
		"prompt": prompt,
		"images": []string{imageB64},
		"stream": false,
		"format": "json",
		"options": map[string]any{
			"temperature": 0,
			"seed":        1,
		},
	}

	var response struct {
		Response string `json:"response"`
	}
	call := func(ctx context.Context) error {
		return c.postJSON(ctx, "/api/generate", reqBody, &response, "generate")
	}

	var err error
	if c.executor != nil {
		err = c.executor.Execute(ctx, "ollama.generate", call, classifyOllamaError)
	} else {
		err = call(ctx)
	}
	if err != nil {
		return "", wrapTemporaryIfNeeded("ollama generate", err)
	}
	return strings.TrimSpace(response.Response), nil
}

func extractJSONObject(raw string) string {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start >= 0 && end > start {
		return raw[start : end+1]
	}
	return raw
}
