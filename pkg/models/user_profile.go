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
	"gorm.io/datatypes"
)

type EmbeddingStatus string

const (
	EmbeddingPending    EmbeddingStatus = "pending"
	EmbeddingProcessing EmbeddingStatus = "processing"
	EmbeddingComplete   EmbeddingStatus = "complete"
)

type MemoryStatus string

const (
	MemoryBuilding MemoryStatus = "building"
	MemoryReady    MemoryStatus = "ready"
)

// UserProfile is the per-user aggregate bridging the quick and full
// passes. A profile can carry a soulprint while memory is still
// building: chat stays usable the whole time. Only the import
// orchestrator writes this row; retrieval reads it.
//
// Invariant: MemoryStatus is ready if and only if EmbeddingStatus is
// complete.
type UserProfile struct {
	ID                uuid.UUID       `gorm:"type:uuid;primaryKey;default:uuidv7()"`
	UserID            uuid.UUID       `gorm:"type:uuid;not null;uniqueIndex"`
	ImportStatus      ImportJobStatus `gorm:"not null;default:'pending'"`
	EmbeddingStatus   EmbeddingStatus `gorm:"not null;default:'pending'"`
	EmbeddingProgress int             `gorm:"not null;default:0"`
	TotalChunks       int             `gorm:"not null;default:0"`
	ProcessedChunks   int             `gorm:"not null;default:0"`
	MemoryStatus      MemoryStatus    `gorm:"not null;default:'building'"`
	SoulprintText     string          `gorm:"type:text"`
	Soulprint         datatypes.JSON  `gorm:"type:jsonb"`

	TotalConversations   int        `gorm:"not null;default:0"`
	TotalMessages        int        `gorm:"not null;default:0"`
	SoulprintGeneratedAt *time.Time `gorm:""`
	CreatedAt            time.Time  `gorm:"autoCreateTime:milli"`
	UpdatedAt            time.Time  `gorm:"autoUpdateTime:milli"`
}

func (UserProfile) TableName() string {
	return "user_profiles"
}

func (p *UserProfile) HasSoulprint() bool {
	return p.SoulprintText != ""
}

type MemoryStatusDto struct {
	Status          ImportJobStatus `json:"status"`
	ProgressPercent int             `json:"progressPercent"`
	EmbeddingStatus EmbeddingStatus `json:"embeddingStatus"`
	TotalChunks     int             `json:"totalChunks"`
	ProcessedChunks int             `json:"processedChunks"`
	MemoryStatus    MemoryStatus    `json:"memoryStatus"`
	HasSoulprint    bool            `json:"hasSoulprint"`
}

func (p *UserProfile) ToStatusDto() *MemoryStatusDto {
	return &MemoryStatusDto{
		Status:          p.ImportStatus,
		ProgressPercent: p.EmbeddingProgress,
		EmbeddingStatus: p.EmbeddingStatus,
		TotalChunks:     p.TotalChunks,
		ProcessedChunks: p.ProcessedChunks,
		MemoryStatus:    p.MemoryStatus,
		HasSoulprint:    p.HasSoulprint(),
	}
}
