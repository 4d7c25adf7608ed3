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

package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
	"gorm.io/datatypes"
)

// ConversationChunk is a bounded slice of one imported conversation,
// the unit of embedding and retrieval. The upsert key
// (user_id, conversation_id, chunk_index) makes re-ingestion of the
// same export idempotent.
//
// Embedding is nullable: a chunk row exists as soon as ingestion writes
// it, the vector is attached when the background pass embeds it.
// EmbeddingModel tags which model produced the vector; similarity
// search is scoped to one tag so vectors of different dimensions never
// mix.
type ConversationChunk struct {
	ID             uuid.UUID        `gorm:"type:uuid;primaryKey;default:uuidv7()"`
	UserID         uuid.UUID        `gorm:"type:uuid;not null;index;uniqueIndex:idx_chunks_upsert_key,priority:1"`
	ConversationID string           `gorm:"not null;uniqueIndex:idx_chunks_upsert_key,priority:2"`
	ChunkIndex     int              `gorm:"not null;uniqueIndex:idx_chunks_upsert_key,priority:3"`
	Title          string           `gorm:"type:text;not null"`
	Content        string           `gorm:"type:text;not null"`
	MessageCount   int              `gorm:"not null;default:0"`
	IsRecent       bool             `gorm:"not null;default:false"`
	Embedding      *pgvector.Vector `gorm:"type:vector(1536)"`
	EmbeddingModel string           `gorm:""`
	Metadata       datatypes.JSON   `gorm:"type:jsonb"`

	// OriginalCreatedAt is the source conversation timestamp, not the
	// row insertion time.
	OriginalCreatedAt time.Time `gorm:"not null;index"`
	CreatedAt         time.Time `gorm:"autoCreateTime:milli"`
	UpdatedAt         time.Time `gorm:"autoUpdateTime:milli"`
}

func (ConversationChunk) TableName() string {
	return "conversation_chunks"
}

type ConversationChunkDto struct {
	ID                uuid.UUID `json:"id"`
	ConversationID    string    `json:"conversationId"`
	ChunkIndex        int       `json:"chunkIndex"`
	Title             string    `json:"title"`
	Content           string    `json:"content"`
	MessageCount      int       `json:"messageCount"`
	IsRecent          bool      `json:"isRecent"`
	OriginalCreatedAt time.Time `json:"originalCreatedAt"`
}

func (c *ConversationChunk) ToDto() *ConversationChunkDto {
	return &ConversationChunkDto{
		ID:                c.ID,
		ConversationID:    c.ConversationID,
		ChunkIndex:        c.ChunkIndex,
		Title:             c.Title,
		Content:           c.Content,
		MessageCount:      c.MessageCount,
		IsRecent:          c.IsRecent,
		OriginalCreatedAt: c.OriginalCreatedAt,
	}
}

// ScoredChunk is a retrieval result with its final ranking score.
type ScoredChunk struct {
	Chunk *ConversationChunkDto `json:"chunk"`
	Score float64               `json:"score"`
}
