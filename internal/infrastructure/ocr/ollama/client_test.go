package ollama

import (
	"context"
	"encoding/json"
	"image"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kirillkom/mission-stats/internal/core/domain"
	"github.com/kirillkom/mission-stats/internal/infrastructure/resilience"
)

func crop() image.Image {
	return image.NewGray(image.Rect(0, 0, 40, 12))
}

func TestRecognizeSendsImageAndHints(t *testing.T) {
	var payload map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/generate" {
			http.NotFound(w, r)
			return
		}
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Errorf("decode request: %v", err)
		}
		_, _ = w.Write([]byte(`{"response":"Sure! {\"text\":\" 87% \",\"confidence\":0.93}"}`))
	}))
	defer server.Close()

	engine := NewEngine(New(server.URL, "llava"))
	res, err := engine.Recognize(context.Background(), crop(), domain.OCRHints{
		Field:   "p1_accuracy",
		Kind:    domain.KindPercent,
		Charset: "0123456789.%",
	})
	if err != nil {
		t.Fatalf("Recognize() error = %v", err)
	}
	if res.Text != "87%" || res.Confidence != 0.93 {
		t.Fatalf("Recognize() = %+v", res)
	}

	images, _ := payload["images"].([]any)
	if len(images) != 1 || images[0] == "" {
		t.Fatalf("expected one encoded image, got %v", payload["images"])
	}
	prompt, _ := payload["prompt"].(string)
	if !strings.Contains(prompt, "percentage") || !strings.Contains(prompt, "0123456789.%") {
		t.Fatalf("unexpected prompt: %s", prompt)
	}
	if payload["format"] != "json" || payload["model"] != "llava" {
		t.Fatalf("unexpected payload: %v", payload)
	}
}

func TestRecognizeDefaultsMissingConfidence(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"response":"{\"text\":\"SUCCESS\"}"}`))
	}))
	defer server.Close()

	res, err := NewEngine(New(server.URL, "m")).Recognize(context.Background(), crop(), domain.OCRHints{Kind: domain.KindOutcome})
	if err != nil {
		t.Fatalf("Recognize() error = %v", err)
	}
	if res.Confidence != 0.5 {
		t.Fatalf("confidence = %v, want 0.5", res.Confidence)
	}
}

func TestRecognizeIncludesHTTPBodyInError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "model not found", http.StatusNotFound)
	}))
	defer server.Close()

	_, err := NewEngine(New(server.URL, "m")).Recognize(context.Background(), crop(), domain.OCRHints{})
	if err == nil || !strings.Contains(err.Error(), "model not found") {
		t.Fatalf("expected response body in error, got %v", err)
	}
	if domain.IsKind(err, domain.ErrTemporary) {
		t.Fatalf("404 must not be temporary: %v", err)
	}
}

func TestRecognizeRetriesBadGateway(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) == 1 {
			http.Error(w, "warming up", http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`{"response":"{\"text\":\"42\",\"confidence\":1}"}`))
	}))
	defer server.Close()

	client := New(server.URL, "m").WithExecutor(resilience.NewExecutor(resilience.Config{
		RetryMaxAttempts:    2,
		RetryInitialBackoff: time.Millisecond,
		RetryMaxBackoff:     time.Millisecond,
		RetryMultiplier:     1,
	}))
	res, err := NewEngine(client).Recognize(context.Background(), crop(), domain.OCRHints{})
	if err != nil {
		t.Fatalf("Recognize() error = %v", err)
	}
	if res.Text != "42" || calls.Load() != 2 {
		t.Fatalf("Recognize() = %+v after %d calls", res, calls.Load())
	}
}

func TestClassifyOllamaError(t *testing.T) {
	if c := classifyOllamaError(&HTTPStatusError{StatusCode: http.StatusServiceUnavailable}); !c.Retryable {
		t.Fatalf("503 should be retryable")
	}
	if c := classifyOllamaError(&HTTPStatusError{StatusCode: http.StatusBadRequest}); c.Retryable || c.RecordFailure {
		t.Fatalf("400 should be neither retried nor recorded")
	}
	if c := classifyOllamaError(context.DeadlineExceeded); c.Retryable {
		t.Fatalf("deadline should not be retried")
	}
}
