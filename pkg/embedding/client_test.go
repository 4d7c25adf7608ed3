package embedding

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
	"unicode/utf8"

	json "github.com/bytedance/sonic"
	"github.com/echomind/echomind/pkg/config"
	"github.com/echomind/echomind/pkg/customerrors"
)

type embeddingRequest struct {
	Input      []string `json:"input"`
	Model      string   `json:"model"`
	Dimensions int      `json:"dimensions"`
}

func testConfig(baseURL string) *config.EmbeddingConfig {
	cfg := &config.EmbeddingConfig{
		BaseURL:     baseURL,
		APIKey:      "test-key",
		Dimensions:  3,
		BaseDelayMs: 1,
	}
	if err := cfg.Validate(); err != nil {
		panic(err)
	}
	cfg.Dimensions = 3
	cfg.BaseDelayMs = 1
	return cfg
}

// embeddingHandler serves a fixed vector per input, echoing indices in
// reverse order to exercise index-based reassembly.
func embeddingHandler(t *testing.T, requests *atomic.Int64) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)

		body, err := io.ReadAll(r.Body)
		if err != nil {
			t.Errorf("failed to read request body: %v", err)
		}
		var req embeddingRequest
		if err := json.Unmarshal(body, &req); err != nil {
			t.Errorf("failed to decode request body: %v", err)
		}

		type item struct {
			Index     int       `json:"index"`
			Embedding []float64 `json:"embedding"`
		}
		items := make([]item, 0, len(req.Input))
		for i := len(req.Input) - 1; i >= 0; i-- {
			items = append(items, item{
				Index:     i,
				Embedding: []float64{float64(i), 0.5, -0.5},
			})
		}

		resp := map[string]any{
			"object": "list",
			"data":   items,
			"model":  req.Model,
			"usage":  map[string]any{"prompt_tokens": 7, "total_tokens": 7},
		}
		w.Header().Set("Content-Type", "application/json")
		out, _ := json.Marshal(resp)
		_, _ = w.Write(out)
	}
}

func failureHandler(status int, requests *atomic.Int64) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		// Suppress the SDK's own retry loop so attempt counts below are
		// driven by this package alone.
		w.Header().Set("X-Should-Retry", "false")
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = fmt.Fprintf(w, `{"error": {"message": "nope", "type": "server_error"}}`)
	}
}

func TestClientEmbedReturnsVectorsInInputOrder(t *testing.T) {
	var requests atomic.Int64
	server := httptest.NewServer(embeddingHandler(t, &requests))
	defer server.Close()

	client, err := NewClient(testConfig(server.URL), NewBreaker(2, 30*time.Second))
	if err != nil {
		t.Fatalf("failed to create client: %v", err)
	}

	vectors, err := client.Embed(context.Background(), []string{"first", "second", "third"})
	if err != nil {
		t.Fatalf("embed failed: %v", err)
	}
	if len(vectors) != 3 {
		t.Fatalf("expected 3 vectors, got %d", len(vectors))
	}
	for i, vec := range vectors {
		if len(vec) != 3 {
			t.Fatalf("vector %d has %d dimensions, expected 3", i, len(vec))
		}
		if vec[0] != float32(i) {
			t.Fatalf("vector %d out of order: first component is %f", i, vec[0])
		}
	}
	if requests.Load() != 1 {
		t.Fatalf("expected 1 provider call, got %d", requests.Load())
	}

	usage := client.Usage()
	if usage.Calls != 1 || usage.Tokens != 7 {
		t.Fatalf("unexpected usage: %+v", usage)
	}
	if usage.EstimatedCost <= 0 {
		t.Fatalf("expected positive estimated cost, got %f", usage.EstimatedCost)
	}
}

func TestClientEmbedSplitsIntoProviderBatches(t *testing.T) {
	var requests atomic.Int64
	server := httptest.NewServer(embeddingHandler(t, &requests))
	defer server.Close()

	cfg := testConfig(server.URL)
	cfg.BatchSize = 2
	client, err := NewClient(cfg, NewBreaker(2, 30*time.Second))
	if err != nil {
		t.Fatalf("failed to create client: %v", err)
	}

	vectors, err := client.Embed(context.Background(), []string{"a", "b", "c", "d", "e"})
	if err != nil {
		t.Fatalf("embed failed: %v", err)
	}
	if len(vectors) != 5 {
		t.Fatalf("expected 5 vectors, got %d", len(vectors))
	}
	if requests.Load() != 3 {
		t.Fatalf("expected 3 provider calls for 5 inputs at batch size 2, got %d", requests.Load())
	}
}

func TestClientTruncatesOversizedInput(t *testing.T) {
	var gotLen atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var req embeddingRequest
		_ = json.Unmarshal(body, &req)
		gotLen.Store(int64(len(req.Input[0])))

		w.Header().Set("Content-Type", "application/json")
		_, _ = fmt.Fprint(w, `{"object":"list","data":[{"index":0,"embedding":[1,2,3]}],"usage":{"prompt_tokens":1}}`)
	}))
	defer server.Close()

	cfg := testConfig(server.URL)
	cfg.MaxInputChars = 10
	client, err := NewClient(cfg, NewBreaker(2, 30*time.Second))
	if err != nil {
		t.Fatalf("failed to create client: %v", err)
	}

	long := "abcdefghijklmnopqrstuvwxyz"
	if _, err := client.EmbedOne(context.Background(), long); err != nil {
		t.Fatalf("embed failed: %v", err)
	}
	if gotLen.Load() != 10 {
		t.Fatalf("expected input truncated to 10 chars, provider saw %d", gotLen.Load())
	}
}

func TestClientTruncationKeepsRunesWhole(t *testing.T) {
	var got atomic.Value
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var req embeddingRequest
		_ = json.Unmarshal(body, &req)
		got.Store(req.Input[0])

		w.Header().Set("Content-Type", "application/json")
		_, _ = fmt.Fprint(w, `{"object":"list","data":[{"index":0,"embedding":[1,2,3]}],"usage":{"prompt_tokens":1}}`)
	}))
	defer server.Close()

	cfg := testConfig(server.URL)
	cfg.MaxInputChars = 10
	client, err := NewClient(cfg, NewBreaker(2, 30*time.Second))
	if err != nil {
		t.Fatalf("failed to create client: %v", err)
	}

	// 3-byte runes: a 10-byte cut would land mid-rune.
	if _, err := client.EmbedOne(context.Background(), strings.Repeat("記", 20)); err != nil {
		t.Fatalf("embed failed: %v", err)
	}
	sent, _ := got.Load().(string)
	if !utf8.ValidString(sent) {
		t.Fatalf("provider received invalid UTF-8: %q", sent)
	}
	if sent != strings.Repeat("記", 3) {
		t.Fatalf("expected truncation at the rune boundary, provider saw %q", sent)
	}
}

func TestClientMapsRejectionWithoutRetry(t *testing.T) {
	var requests atomic.Int64
	server := httptest.NewServer(failureHandler(http.StatusBadRequest, &requests))
	defer server.Close()

	breaker := NewBreaker(2, 30*time.Second)
	client, err := NewClient(testConfig(server.URL), breaker)
	if err != nil {
		t.Fatalf("failed to create client: %v", err)
	}

	_, err = client.Embed(context.Background(), []string{"bad input"})
	if !errors.Is(err, customerrors.ErrEmbeddingRejected) {
		t.Fatalf("expected ErrEmbeddingRejected, got %v", err)
	}
	if requests.Load() != 1 {
		t.Fatalf("permanent rejection should not be retried, got %d calls", requests.Load())
	}
	if !breaker.ShouldAttempt() {
		t.Fatal("rejections should not trip the breaker")
	}
}

func TestClientMapsQuotaExhaustion(t *testing.T) {
	var requests atomic.Int64
	server := httptest.NewServer(failureHandler(http.StatusTooManyRequests, &requests))
	defer server.Close()

	client, err := NewClient(testConfig(server.URL), NewBreaker(2, 30*time.Second))
	if err != nil {
		t.Fatalf("failed to create client: %v", err)
	}

	_, err = client.Embed(context.Background(), []string{"text"})
	if !errors.Is(err, customerrors.ErrQuotaExhausted) {
		t.Fatalf("expected ErrQuotaExhausted, got %v", err)
	}
	if requests.Load() != 1 {
		t.Fatalf("quota exhaustion should not be retried, got %d calls", requests.Load())
	}
}

func TestClientRetriesTransientThenGivesUp(t *testing.T) {
	var requests atomic.Int64
	server := httptest.NewServer(failureHandler(http.StatusInternalServerError, &requests))
	defer server.Close()

	cfg := testConfig(server.URL)
	cfg.MaxAttempts = 3
	breaker := NewBreaker(2, 30*time.Second)
	client, err := NewClient(cfg, breaker)
	if err != nil {
		t.Fatalf("failed to create client: %v", err)
	}

	_, err = client.Embed(context.Background(), []string{"text"})
	if !errors.Is(err, customerrors.ErrEmbeddingUnavailable) {
		t.Fatalf("expected ErrEmbeddingUnavailable, got %v", err)
	}
	if requests.Load() != 3 {
		t.Fatalf("expected 3 attempts, got %d", requests.Load())
	}
	if got := breaker.Status().ConsecutiveFailures; got != 1 {
		t.Fatalf("an exhausted batch should count as one breaker failure, got %d", got)
	}
}

func TestClientFailsFastWhileBreakerOpen(t *testing.T) {
	var requests atomic.Int64
	server := httptest.NewServer(failureHandler(http.StatusInternalServerError, &requests))
	defer server.Close()

	cfg := testConfig(server.URL)
	cfg.MaxAttempts = 1
	breaker := NewBreaker(2, 30*time.Second)
	client, err := NewClient(cfg, breaker)
	if err != nil {
		t.Fatalf("failed to create client: %v", err)
	}

	for range 2 {
		if _, err := client.Embed(context.Background(), []string{"text"}); err == nil {
			t.Fatal("expected failure")
		}
	}
	callsBefore := requests.Load()

	_, err = client.Embed(context.Background(), []string{"text"})
	if !errors.Is(err, customerrors.ErrEmbeddingUnavailable) {
		t.Fatalf("expected ErrEmbeddingUnavailable, got %v", err)
	}
	if requests.Load() != callsBefore {
		t.Fatal("open breaker must not reach the provider")
	}
}

func TestClientRejectsDimensionMismatch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = fmt.Fprint(w, `{"object":"list","data":[{"index":0,"embedding":[1,2]}],"usage":{"prompt_tokens":1}}`)
	}))
	defer server.Close()

	client, err := NewClient(testConfig(server.URL), NewBreaker(2, 30*time.Second))
	if err != nil {
		t.Fatalf("failed to create client: %v", err)
	}

	_, err = client.EmbedOne(context.Background(), "text")
	if !errors.Is(err, customerrors.ErrEmbeddingRejected) {
		t.Fatalf("expected ErrEmbeddingRejected for wrong dimensions, got %v", err)
	}
}

func TestClientRequiresAPIKey(t *testing.T) {
	cfg := testConfig("http://localhost:1")
	cfg.APIKey = ""
	if _, err := NewClient(cfg, NewBreaker(2, 30*time.Second)); err == nil {
		t.Fatal("expected error for missing API key")
	}
}
