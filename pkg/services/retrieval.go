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

package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/echomind/echomind/pkg/config"
	"github.com/echomind/echomind/pkg/customerrors"
	"github.com/echomind/echomind/pkg/embedding"
	"github.com/echomind/echomind/pkg/models"
	"github.com/google/uuid"
	"github.com/samber/lo"
)

type chunkSearcher interface {
	SimilaritySearch(ctx context.Context, userID uuid.UUID, query []float32, model string, limit int, minSimilarity float64) ([]models.ScoredChunk, error)
	RecentChunks(ctx context.Context, userID uuid.UUID, limit int) ([]models.ScoredChunk, error)
}

type queryEmbedder interface {
	EmbedOne(ctx context.Context, text string) ([]float32, error)
	Model() string
}

// RetrievalService answers memory queries. Vector search first; when
// the embedding provider is unavailable it degrades to recent chunks
// instead of failing, and says so in the result.
type RetrievalService struct {
	store    chunkSearcher
	embedder queryEmbedder
	cfg      *config.RetrievalConfig
}

var (
	retrievalService *RetrievalService
	retrievalOnce    sync.Once
)

func GetRetrievalService() *RetrievalService {
	retrievalOnce.Do(func() {
		retrievalService = NewRetrievalService(
			GetMemoryStore(),
			GetEmbeddingClient(),
			config.GetConfigManager().GetConfig().Retrieval,
		)
	})
	return retrievalService
}

func NewRetrievalService(store chunkSearcher, embedder queryEmbedder, cfg *config.RetrievalConfig) *RetrievalService {
	return &RetrievalService{
		store:    store,
		embedder: embedder,
		cfg:      cfg,
	}
}

// SearchResult is a ranked memory answer. Degraded marks recency-only
// fallback results so callers can tell the difference.
type SearchResult struct {
	Chunks   []models.ScoredChunk `json:"chunks"`
	Degraded bool                 `json:"degraded"`
	Context  string               `json:"context"`
}

// Search returns up to topK memory chunks relevant to the query.
// Candidates are over-fetched, recency-boosted, re-ranked, then capped
// per conversation so one long conversation cannot fill the result.
func (s *RetrievalService) Search(ctx context.Context, userID uuid.UUID, query string, topK int) (*SearchResult, error) {
	if err := requireTenant(userID); err != nil {
		return nil, err
	}
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("%w: query must not be empty", customerrors.ErrInvalidParams)
	}
	if topK <= 0 {
		topK = s.cfg.TopK
	}

	queryVec, err := s.embedder.EmbedOne(ctx, query)
	if err != nil {
		if errors.Is(err, customerrors.ErrEmbeddingUnavailable) || errors.Is(err, customerrors.ErrQuotaExhausted) {
			slog.WarnContext(ctx, "embedding unavailable, falling back to recency-only retrieval", "error", err)
			return s.recencyFallback(ctx, userID, topK)
		}
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	candidates, err := s.store.SimilaritySearch(ctx, userID, queryVec, s.embedder.Model(), topK*3, s.cfg.MinSimilarity)
	if err != nil {
		return nil, err
	}

	ranked := rerankCandidates(candidates, s.cfg.RecencyBoost)
	final := capPerConversation(ranked, s.cfg.PerConversationCap, topK)

	return &SearchResult{
		Chunks:  final,
		Context: contextText(final),
	}, nil
}

func (s *RetrievalService) recencyFallback(ctx context.Context, userID uuid.UUID, topK int) (*SearchResult, error) {
	chunks, err := s.store.RecentChunks(ctx, userID, topK)
	if err != nil {
		return nil, err
	}
	return &SearchResult{
		Chunks:   chunks,
		Degraded: true,
		Context:  contextText(chunks),
	}, nil
}

// rerankCandidates applies the recency boost and re-sorts. Input order
// is the raw similarity order; the boost can promote a recent chunk
// past a slightly more similar old one, which is the point.
func rerankCandidates(candidates []models.ScoredChunk, recencyBoost float64) []models.ScoredChunk {
	boosted := lo.Map(candidates, func(c models.ScoredChunk, _ int) models.ScoredChunk {
		if c.Chunk.IsRecent {
			c.Score += recencyBoost
		}
		return c
	})
	sort.SliceStable(boosted, func(i, j int) bool {
		return boosted[i].Score > boosted[j].Score
	})
	return boosted
}

// capPerConversation walks the ranked list keeping at most maxPerConv
// chunks per conversation, up to topK total.
func capPerConversation(ranked []models.ScoredChunk, maxPerConv, topK int) []models.ScoredChunk {
	perConversation := make(map[string]int)
	result := make([]models.ScoredChunk, 0, topK)

	for _, c := range ranked {
		if len(result) >= topK {
			break
		}
		if perConversation[c.Chunk.ConversationID] >= maxPerConv {
			continue
		}
		perConversation[c.Chunk.ConversationID]++
		result = append(result, c)
	}
	return result
}

// contextText renders chunks as a numbered block ready for prompt
// injection.
func contextText(chunks []models.ScoredChunk) string {
	if len(chunks) == 0 {
		return ""
	}

	var builder strings.Builder
	for i, c := range chunks {
		if i > 0 {
			builder.WriteString("\n\n")
		}
		builder.WriteString(fmt.Sprintf("[Memory %d] %s", i+1, c.Chunk.Content))
	}
	return builder.String()
}

// embeddingClient is the process-wide embedding client singleton shared
// by ingestion, retrieval and the health endpoint.
var (
	embeddingClient     *embedding.Client
	embeddingClientOnce sync.Once
)

func GetEmbeddingClient() *embedding.Client {
	embeddingClientOnce.Do(func() {
		cfg := config.GetConfigManager().GetConfig().Embedding
		breaker := embedding.NewBreaker(
			cfg.FailureThreshold,
			time.Duration(cfg.CooldownSeconds)*time.Second,
		)
		client, err := embedding.NewClient(cfg, breaker)
		if err != nil {
			panic(fmt.Sprintf("failed to initialize embedding client: %v", err))
		}
		embeddingClient = client
	})
	return embeddingClient
}
