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
	"sync"
	"time"

	"github.com/echomind/echomind/pkg/config"
	"github.com/echomind/echomind/pkg/conn"
	"github.com/echomind/echomind/pkg/customerrors"
	"github.com/echomind/echomind/pkg/importer"
	"github.com/echomind/echomind/pkg/models"
	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
	"github.com/samber/lo"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// MemoryStore owns the conversation_chunks table. Every method takes a
// user scope and refuses uuid.Nil: cross-tenant reads must be
// impossible by construction, not by caller discipline.
type MemoryStore struct {
	db        *gorm.DB
	batchSize int
}

var (
	memoryStore     *MemoryStore
	memoryStoreOnce sync.Once
)

func GetMemoryStore() *MemoryStore {
	memoryStoreOnce.Do(func() {
		memoryStore = &MemoryStore{
			db:        conn.GetDB(),
			batchSize: config.GetConfigManager().GetConfig().Importer.StoreBatchSize,
		}
	})
	return memoryStore
}

func requireTenant(userID uuid.UUID) error {
	if userID == uuid.Nil {
		return customerrors.ErrTenantRequired
	}
	return nil
}

// UpsertChunks inserts chunks in batches with conflict-ignore on
// (user_id, conversation_id, chunk_index), so re-running an import
// never duplicates rows. Returns the number of rows actually inserted.
func (s *MemoryStore) UpsertChunks(ctx context.Context, userID uuid.UUID, chunks []importer.Chunk) (int64, error) {
	if err := requireTenant(userID); err != nil {
		return 0, err
	}
	if len(chunks) == 0 {
		return 0, nil
	}

	rows := lo.Map(chunks, func(c importer.Chunk, _ int) models.ConversationChunk {
		return models.ConversationChunk{
			UserID:            userID,
			ConversationID:    c.ConversationID,
			ChunkIndex:        c.ChunkIndex,
			Title:             c.Title,
			Content:           c.Content,
			MessageCount:      c.MessageCount,
			IsRecent:          c.IsRecent,
			OriginalCreatedAt: c.CreatedAt,
		}
	})

	var inserted int64
	for _, batch := range lo.Chunk(rows, s.batchSize) {
		result := s.db.WithContext(ctx).
			Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "user_id"}, {Name: "conversation_id"}, {Name: "chunk_index"}},
				DoNothing: true,
			}).
			Create(&batch)
		if result.Error != nil {
			return inserted, fmt.Errorf("failed to upsert chunks: %w", result.Error)
		}
		inserted += result.RowsAffected
	}
	return inserted, nil
}

// AttachEmbedding writes a vector onto an existing chunk row. Zero rows
// affected means the chunk was deleted while its batch was in flight;
// deletion wins and the write is a silent no-op.
func (s *MemoryStore) AttachEmbedding(ctx context.Context, userID, chunkID uuid.UUID, vector []float32, model string) error {
	if err := requireTenant(userID); err != nil {
		return err
	}

	vec := pgvector.NewVector(vector)
	result := s.db.WithContext(ctx).
		Model(&models.ConversationChunk{}).
		Where("id = ? AND user_id = ?", chunkID, userID).
		Updates(map[string]any{
			"embedding":       &vec,
			"embedding_model": model,
		})
	if result.Error != nil {
		return fmt.Errorf("failed to attach embedding: %w", result.Error)
	}
	return nil
}

// UnembeddedChunks returns up to limit chunks still waiting for a
// vector, oldest conversation first. This is the resume scan: progress
// is derived from the rows themselves, so a restarted pass continues
// exactly where the previous one stopped.
func (s *MemoryStore) UnembeddedChunks(ctx context.Context, userID uuid.UUID, limit int) ([]models.ConversationChunk, error) {
	if err := requireTenant(userID); err != nil {
		return nil, err
	}

	var chunks []models.ConversationChunk
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND embedding IS NULL AND COALESCE(embedding_model, '') <> ?", userID, rejectedModelTag).
		Order("original_created_at ASC, chunk_index ASC").
		Limit(limit).
		Find(&chunks).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load unembedded chunks: %w", err)
	}
	return chunks, nil
}

// rejectedModelTag marks chunks the provider permanently refused, so
// the resume scan stops picking them up.
const rejectedModelTag = "rejected"

// MarkChunkRejected excludes a chunk from future embedding passes. The
// chunk text stays searchable through the recency fallback.
func (s *MemoryStore) MarkChunkRejected(ctx context.Context, userID, chunkID uuid.UUID) error {
	if err := requireTenant(userID); err != nil {
		return err
	}
	return s.db.WithContext(ctx).
		Model(&models.ConversationChunk{}).
		Where("id = ? AND user_id = ?", chunkID, userID).
		Update("embedding_model", rejectedModelTag).Error
}

type scoredRow struct {
	models.ConversationChunk
	Similarity float64
}

// SimilaritySearch returns chunks ordered by cosine similarity to the
// query vector, filtered to the given embedding model tag so vectors
// from different models never compete on the same scale.
func (s *MemoryStore) SimilaritySearch(ctx context.Context, userID uuid.UUID, query []float32, model string, limit int, minSimilarity float64) ([]models.ScoredChunk, error) {
	if err := requireTenant(userID); err != nil {
		return nil, err
	}

	queryVec := pgvector.NewVector(query)
	var rows []scoredRow
	err := s.db.WithContext(ctx).
		Model(&models.ConversationChunk{}).
		Select("*, 1 - (embedding <=> ?) AS similarity", queryVec).
		Where("user_id = ? AND embedding IS NOT NULL AND embedding_model = ?", userID, model).
		Where("1 - (embedding <=> ?) >= ?", queryVec, minSimilarity).
		Clauses(clause.OrderBy{
			Expression: clause.Expr{SQL: "embedding <=> ?", Vars: []interface{}{queryVec}},
		}).
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("similarity search failed: %w", err)
	}

	return lo.Map(rows, func(r scoredRow, _ int) models.ScoredChunk {
		return models.ScoredChunk{Chunk: r.ConversationChunk.ToDto(), Score: r.Similarity}
	}), nil
}

// RecentChunks returns recent-tagged chunks newest first, the fallback
// result set when the embedding provider is down.
func (s *MemoryStore) RecentChunks(ctx context.Context, userID uuid.UUID, limit int) ([]models.ScoredChunk, error) {
	if err := requireTenant(userID); err != nil {
		return nil, err
	}

	var chunks []models.ConversationChunk
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND is_recent = true", userID).
		Order("original_created_at DESC, chunk_index ASC").
		Limit(limit).
		Find(&chunks).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load recent chunks: %w", err)
	}

	return lo.Map(chunks, func(c models.ConversationChunk, _ int) models.ScoredChunk {
		return models.ScoredChunk{Chunk: c.ToDto(), Score: 0}
	}), nil
}

// MarkRecentConversations tags every chunk of the user's newest n
// conversations as recent, regardless of age. Complements the age
// window applied at chunking time.
func (s *MemoryStore) MarkRecentConversations(ctx context.Context, userID uuid.UUID, n int) error {
	if err := requireTenant(userID); err != nil {
		return err
	}

	err := s.db.WithContext(ctx).Exec(`
		UPDATE conversation_chunks SET is_recent = true
		WHERE user_id = ? AND conversation_id IN (
			SELECT conversation_id FROM conversation_chunks
			WHERE user_id = ?
			GROUP BY conversation_id
			ORDER BY MAX(original_created_at) DESC
			LIMIT ?
		)`, userID, userID, n).Error
	if err != nil {
		return fmt.Errorf("failed to mark recent conversations: %w", err)
	}
	return nil
}

// DeleteChunks removes the given chunks, or every chunk the user owns
// when chunkIDs is empty. IDs that don't exist or belong to someone
// else are silently skipped; the returned count is what was actually
// deleted. Embedding batches in flight lose the race on purpose: their
// AttachEmbedding calls match zero rows afterwards.
func (s *MemoryStore) DeleteChunks(ctx context.Context, userID uuid.UUID, chunkIDs []uuid.UUID) (int64, error) {
	if err := requireTenant(userID); err != nil {
		return 0, err
	}

	query := s.db.WithContext(ctx).Where("user_id = ?", userID)
	if len(chunkIDs) > 0 {
		query = query.Where("id IN ?", chunkIDs)
	}

	result := query.Delete(&models.ConversationChunk{})
	if result.Error != nil {
		return 0, fmt.Errorf("failed to delete chunks: %w", result.Error)
	}
	return result.RowsAffected, nil
}

// ChunkCounts returns total and embedded chunk counts for the user.
func (s *MemoryStore) ChunkCounts(ctx context.Context, userID uuid.UUID) (total int64, embedded int64, err error) {
	if err := requireTenant(userID); err != nil {
		return 0, 0, err
	}

	if err := s.db.WithContext(ctx).
		Model(&models.ConversationChunk{}).
		Where("user_id = ?", userID).
		Count(&total).Error; err != nil {
		return 0, 0, fmt.Errorf("failed to count chunks: %w", err)
	}
	if err := s.db.WithContext(ctx).
		Model(&models.ConversationChunk{}).
		Where("user_id = ? AND embedding IS NOT NULL", userID).
		Count(&embedded).Error; err != nil {
		return 0, 0, fmt.Errorf("failed to count embedded chunks: %w", err)
	}
	return total, embedded, nil
}

// OldestChunkTime returns the earliest original conversation timestamp,
// used for memory span reporting. Returns zero time when no chunks
// exist.
func (s *MemoryStore) OldestChunkTime(ctx context.Context, userID uuid.UUID) (time.Time, error) {
	if err := requireTenant(userID); err != nil {
		return time.Time{}, err
	}

	var chunk models.ConversationChunk
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("original_created_at ASC").
		First(&chunk).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return time.Time{}, nil
		}
		return time.Time{}, fmt.Errorf("failed to load oldest chunk: %w", err)
	}
	return chunk.OriginalCreatedAt, nil
}
