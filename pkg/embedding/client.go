/*
Copyright © 2026 The echomind Authors

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package embedding

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/echomind/echomind/pkg/config"
	"github.com/echomind/echomind/pkg/conn"
	"github.com/echomind/echomind/pkg/customerrors"
	"github.com/echomind/echomind/pkg/utils"
	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/packages/param"
	"github.com/pkoukk/tiktoken-go"
	tiktokenloader "github.com/pkoukk/tiktoken-go-loader"
	"github.com/samber/lo"
)

// Usage is a running total of provider consumption for this process.
type Usage struct {
	Calls         int64   `json:"calls"`
	Tokens        int64   `json:"tokens"`
	EstimatedCost float64 `json:"estimatedCost"`
}

// Client wraps the OpenAI-compatible embeddings endpoint with batching,
// retry, input truncation and circuit breaking. Ingestion and retrieval
// share one instance so both sides see the same breaker state and the
// same model tag.
type Client struct {
	api     *openai.Client
	cfg     *config.EmbeddingConfig
	breaker *Breaker
	encoder *tiktoken.Tiktoken

	mu    sync.Mutex
	usage Usage
}

func NewClient(cfg *config.EmbeddingConfig, breaker *Breaker) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("embedding API key is not configured")
	}

	// Offline loader keeps startup from fetching BPE files over the
	// network. cl100k_base is used for cost accounting only, so a newer
	// model with an unknown encoding still works.
	tiktoken.SetBpeLoader(tiktokenloader.NewOfflineLoader())
	encoder, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		return nil, fmt.Errorf("failed to initialize tokenizer: %w", err)
	}

	return &Client{
		api:     conn.GetOpenAIClient(cfg.BaseURL, cfg.APIKey),
		cfg:     cfg,
		breaker: breaker,
		encoder: encoder,
	}, nil
}

// Model returns the model name tagged onto every stored vector.
func (c *Client) Model() string {
	return c.cfg.Model
}

func (c *Client) Breaker() *Breaker {
	return c.breaker
}

// Usage returns a snapshot of accumulated provider consumption.
func (c *Client) Usage() Usage {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.usage
}

// EmbedOne embeds a single text, for retrieval queries.
func (c *Client) EmbedOne(ctx context.Context, text string) ([]float32, error) {
	vectors, err := c.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// Embed returns one vector per input text, in input order. Inputs
// longer than MaxInputChars are truncated before submission. The call
// fails fast with ErrEmbeddingUnavailable while the breaker is open.
func (c *Client) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	prepared := lo.Map(texts, func(text string, _ int) string {
		return c.truncate(text)
	})

	vectors := make([][]float32, 0, len(prepared))
	for _, batch := range lo.Chunk(prepared, c.cfg.BatchSize) {
		batchVectors, err := c.embedBatch(ctx, batch)
		if err != nil {
			return nil, err
		}
		vectors = append(vectors, batchVectors...)
	}
	return vectors, nil
}

func (c *Client) embedBatch(ctx context.Context, batch []string) ([][]float32, error) {
	if !c.breaker.ShouldAttempt() {
		return nil, fmt.Errorf("%w: circuit breaker is open", customerrors.ErrEmbeddingUnavailable)
	}

	vectors, err := retry.DoWithData(
		func() ([][]float32, error) {
			return c.callProvider(ctx, batch)
		},
		retry.Context(ctx),
		retry.Attempts(uint(c.cfg.MaxAttempts)),
		retry.Delay(time.Duration(c.cfg.BaseDelayMs)*time.Millisecond),
		retry.DelayType(retry.CombineDelay(retry.BackOffDelay, retry.RandomDelay)),
		retry.MaxJitter(500*time.Millisecond),
		retry.RetryIf(isTransient),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(attempt uint, err error) {
			slog.WarnContext(ctx, "embedding call failed, retrying", "attempt", attempt+1, "error", err)
		}),
	)
	if err != nil {
		if isTransient(err) {
			c.breaker.RecordFailure()
			return nil, fmt.Errorf("%w: %v", customerrors.ErrEmbeddingUnavailable, err)
		}
		// Permanent failures say nothing about provider health.
		return nil, err
	}

	c.breaker.RecordSuccess()
	return vectors, nil
}

func (c *Client) callProvider(ctx context.Context, batch []string) ([][]float32, error) {
	resp, err := c.api.Embeddings.New(ctx, openai.EmbeddingNewParams{
		Model: c.cfg.Model,
		Input: openai.EmbeddingNewParamsInputUnion{
			OfArrayOfStrings: batch,
		},
		Dimensions: param.NewOpt(int64(c.cfg.Dimensions)),
	})
	if err != nil {
		return nil, classifyProviderError(err)
	}

	if len(resp.Data) != len(batch) {
		return nil, fmt.Errorf("%w: expected %d embeddings, got %d", customerrors.ErrEmbeddingRejected, len(batch), len(resp.Data))
	}

	vectors := make([][]float32, len(batch))
	for _, item := range resp.Data {
		if item.Index < 0 || item.Index >= int64(len(batch)) {
			return nil, fmt.Errorf("%w: embedding index %d out of range", customerrors.ErrEmbeddingRejected, item.Index)
		}
		if len(item.Embedding) != c.cfg.Dimensions {
			return nil, fmt.Errorf("%w: expected %d dimensions, got %d", customerrors.ErrEmbeddingRejected, c.cfg.Dimensions, len(item.Embedding))
		}
		vectors[item.Index] = lo.Map(item.Embedding, func(v float64, _ int) float32 {
			return float32(v)
		})
	}

	c.recordUsage(batch, resp.Usage.PromptTokens)
	return vectors, nil
}

func (c *Client) recordUsage(batch []string, promptTokens int64) {
	tokens := promptTokens
	if tokens == 0 {
		for _, text := range batch {
			tokens += int64(len(c.encoder.Encode(text, nil, nil)))
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.usage.Calls++
	c.usage.Tokens += tokens
	c.usage.EstimatedCost += float64(tokens) / 1000 * c.cfg.CostPer1KTokens
}

// CountTokens estimates provider token usage for a text, for preflight
// cost reporting.
func (c *Client) CountTokens(text string) int {
	return len(c.encoder.Encode(c.truncate(text), nil, nil))
}

func (c *Client) truncate(text string) string {
	return utils.TruncateUTF8(text, c.cfg.MaxInputChars)
}

// classifyProviderError maps provider responses onto the pipeline error
// taxonomy. 429 means quota, other 4xx are permanent rejections, 5xx
// and transport errors are transient.
func classifyProviderError(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.StatusCode == 429:
			return fmt.Errorf("%w: %v", customerrors.ErrQuotaExhausted, err)
		case apiErr.StatusCode >= 400 && apiErr.StatusCode < 500:
			return fmt.Errorf("%w: %v", customerrors.ErrEmbeddingRejected, err)
		}
	}
	return fmt.Errorf("%w: %v", customerrors.ErrEmbeddingUnavailable, err)
}

func isTransient(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return !errors.Is(err, customerrors.ErrEmbeddingRejected) &&
		!errors.Is(err, customerrors.ErrQuotaExhausted)
}
