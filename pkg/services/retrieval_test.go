package services

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/echomind/echomind/pkg/config"
	"github.com/echomind/echomind/pkg/customerrors"
	"github.com/echomind/echomind/pkg/models"
	"github.com/google/uuid"
)

type fakeSearcher struct {
	similarity   []models.ScoredChunk
	recent       []models.ScoredChunk
	searchCalls  int
	recentCalls  int
	gotLimit     int
	gotMinSim    float64
	gotModel     string
	similarityErr error
}

func (f *fakeSearcher) SimilaritySearch(_ context.Context, _ uuid.UUID, _ []float32, model string, limit int, minSimilarity float64) ([]models.ScoredChunk, error) {
	f.searchCalls++
	f.gotLimit = limit
	f.gotMinSim = minSimilarity
	f.gotModel = model
	return f.similarity, f.similarityErr
}

func (f *fakeSearcher) RecentChunks(_ context.Context, _ uuid.UUID, limit int) ([]models.ScoredChunk, error) {
	f.recentCalls++
	if limit < len(f.recent) {
		return f.recent[:limit], nil
	}
	return f.recent, nil
}

type fakeEmbedder struct {
	err error
}

func (f *fakeEmbedder) EmbedOne(_ context.Context, _ string) ([]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	return []float32{0.1, 0.2, 0.3}, nil
}

func (f *fakeEmbedder) Model() string {
	return "text-embedding-3-small"
}

func testRetrievalConfig() *config.RetrievalConfig {
	cfg := &config.RetrievalConfig{}
	if err := cfg.Validate(); err != nil {
		panic(err)
	}
	return cfg
}

func chunk(conversationID string, index int, score float64, recent bool) models.ScoredChunk {
	return models.ScoredChunk{
		Chunk: &models.ConversationChunkDto{
			ID:             uuid.Must(uuid.NewV7()),
			ConversationID: conversationID,
			ChunkIndex:     index,
			Content:        fmt.Sprintf("%s chunk %d", conversationID, index),
			IsRecent:       recent,
		},
		Score: score,
	}
}

func TestSearchOverfetchesAndTruncatesToTopK(t *testing.T) {
	searcher := &fakeSearcher{}
	for i := range 15 {
		searcher.similarity = append(searcher.similarity, chunk(fmt.Sprintf("conv-%d", i), 0, 0.9-float64(i)*0.01, false))
	}

	svc := NewRetrievalService(searcher, &fakeEmbedder{}, testRetrievalConfig())
	result, err := svc.Search(context.Background(), uuid.Must(uuid.NewV7()), "what did we discuss", 0)
	if err != nil {
		t.Fatalf("search failed: %v", err)
	}

	if searcher.gotLimit != 15 {
		t.Fatalf("expected candidate over-fetch of 15 for topK 5, got %d", searcher.gotLimit)
	}
	if len(result.Chunks) != 5 {
		t.Fatalf("expected 5 results, got %d", len(result.Chunks))
	}
	if result.Degraded {
		t.Fatal("vector search result should not be marked degraded")
	}
}

func TestSearchRecencyBoostPromotesRecentChunk(t *testing.T) {
	searcher := &fakeSearcher{
		similarity: []models.ScoredChunk{
			chunk("old-conv", 0, 0.80, false),
			chunk("new-conv", 0, 0.70, true),
		},
	}

	svc := NewRetrievalService(searcher, &fakeEmbedder{}, testRetrievalConfig())
	result, err := svc.Search(context.Background(), uuid.Must(uuid.NewV7()), "query", 2)
	if err != nil {
		t.Fatalf("search failed: %v", err)
	}

	if result.Chunks[0].Chunk.ConversationID != "new-conv" {
		t.Fatalf("expected boosted recent chunk first, got %s", result.Chunks[0].Chunk.ConversationID)
	}
	if result.Chunks[0].Score != 0.85 {
		t.Fatalf("expected boosted score 0.85, got %f", result.Chunks[0].Score)
	}
	// Stored scores are untouched; only the returned ranking changes.
	if result.Chunks[1].Score != 0.80 {
		t.Fatalf("expected unboosted score 0.80, got %f", result.Chunks[1].Score)
	}
}

func TestSearchCapsChunksPerConversation(t *testing.T) {
	searcher := &fakeSearcher{
		similarity: []models.ScoredChunk{
			chunk("dominant", 0, 0.95, false),
			chunk("dominant", 1, 0.94, false),
			chunk("dominant", 2, 0.93, false),
			chunk("dominant", 3, 0.92, false),
			chunk("other", 0, 0.60, false),
		},
	}

	svc := NewRetrievalService(searcher, &fakeEmbedder{}, testRetrievalConfig())
	result, err := svc.Search(context.Background(), uuid.Must(uuid.NewV7()), "query", 4)
	if err != nil {
		t.Fatalf("search failed: %v", err)
	}

	counts := map[string]int{}
	for _, c := range result.Chunks {
		counts[c.Chunk.ConversationID]++
	}
	if counts["dominant"] != 2 {
		t.Fatalf("expected dominant conversation capped at 2, got %d", counts["dominant"])
	}
	if counts["other"] != 1 {
		t.Fatalf("expected other conversation to surface, got %d", counts["other"])
	}
}

func TestSearchFallsBackToRecencyWhenEmbeddingUnavailable(t *testing.T) {
	searcher := &fakeSearcher{
		recent: []models.ScoredChunk{
			chunk("conv-a", 0, 0, true),
			chunk("conv-b", 0, 0, true),
		},
	}
	embedder := &fakeEmbedder{err: fmt.Errorf("%w: circuit breaker is open", customerrors.ErrEmbeddingUnavailable)}

	svc := NewRetrievalService(searcher, embedder, testRetrievalConfig())
	result, err := svc.Search(context.Background(), uuid.Must(uuid.NewV7()), "query", 5)
	if err != nil {
		t.Fatalf("expected degraded result, got error: %v", err)
	}

	if !result.Degraded {
		t.Fatal("fallback result must be marked degraded")
	}
	if len(result.Chunks) != 2 {
		t.Fatalf("expected 2 recent chunks, got %d", len(result.Chunks))
	}
	if searcher.searchCalls != 0 {
		t.Fatal("vector search should not run when embedding fails")
	}
	if searcher.recentCalls != 1 {
		t.Fatalf("expected 1 recency query, got %d", searcher.recentCalls)
	}
}

func TestSearchRejectsEmptyQuery(t *testing.T) {
	svc := NewRetrievalService(&fakeSearcher{}, &fakeEmbedder{}, testRetrievalConfig())

	if _, err := svc.Search(context.Background(), uuid.Must(uuid.NewV7()), "   ", 5); err == nil {
		t.Fatal("expected error for blank query")
	}
}

func TestSearchRequiresTenant(t *testing.T) {
	svc := NewRetrievalService(&fakeSearcher{}, &fakeEmbedder{}, testRetrievalConfig())

	_, err := svc.Search(context.Background(), uuid.Nil, "query", 5)
	if err == nil || !strings.Contains(err.Error(), "userId") {
		t.Fatalf("expected tenant error, got %v", err)
	}
}

func TestContextTextNumbersChunks(t *testing.T) {
	chunks := []models.ScoredChunk{
		chunk("conv-a", 0, 0.9, false),
		chunk("conv-b", 0, 0.8, false),
	}

	text := contextText(chunks)
	if !strings.HasPrefix(text, "[Memory 1] ") {
		t.Fatalf("expected numbered prefix, got %q", text)
	}
	if !strings.Contains(text, "[Memory 2] ") {
		t.Fatalf("expected second memory entry, got %q", text)
	}
}

func TestContextTextEmpty(t *testing.T) {
	if got := contextText(nil); got != "" {
		t.Fatalf("expected empty context, got %q", got)
	}
}

func TestCapPerConversationPreservesRankOrder(t *testing.T) {
	ranked := []models.ScoredChunk{
		chunk("a", 0, 0.9, false),
		chunk("b", 0, 0.8, false),
		chunk("a", 1, 0.7, false),
	}

	result := capPerConversation(ranked, 2, 10)
	if len(result) != 3 {
		t.Fatalf("expected 3 results, got %d", len(result))
	}
	for i := 1; i < len(result); i++ {
		if result[i].Score > result[i-1].Score {
			t.Fatal("cap must not reorder results")
		}
	}
}
