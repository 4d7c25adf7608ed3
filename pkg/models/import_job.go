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
)

type ImportJobStatus string

const (
	ImportJobPending    ImportJobStatus = "pending"
	ImportJobUploading  ImportJobStatus = "uploading"
	ImportJobProcessing ImportJobStatus = "processing"
	ImportJobQuickReady ImportJobStatus = "quick_ready"
	ImportJobComplete   ImportJobStatus = "complete"
	ImportJobFailed     ImportJobStatus = "failed"
)

// Terminal reports whether no further transitions are allowed. Failed
// jobs are retried by creating a brand-new job, never by reviving the
// old row.
func (s ImportJobStatus) Terminal() bool {
	return s == ImportJobComplete || s == ImportJobFailed
}

// CanTransitionTo enforces the forward-only job state machine; failed
// is reachable from every non-terminal state.
func (s ImportJobStatus) CanTransitionTo(next ImportJobStatus) bool {
	if s.Terminal() {
		return false
	}
	if next == ImportJobFailed {
		return true
	}

	switch s {
	case ImportJobPending:
		return next == ImportJobUploading
	case ImportJobUploading:
		return next == ImportJobProcessing
	case ImportJobProcessing:
		return next == ImportJobQuickReady
	case ImportJobQuickReady:
		return next == ImportJobComplete
	default:
		return false
	}
}

// ImportJob is one user-initiated ingestion run. Jobs are never
// deleted; newer jobs for the same user supersede older ones.
type ImportJob struct {
	ID              uuid.UUID       `gorm:"type:uuid;primaryKey;default:uuidv7()"`
	UserID          uuid.UUID       `gorm:"type:uuid;not null;index"`
	Status          ImportJobStatus `gorm:"not null;default:'pending'"`
	StoragePath     string          `gorm:""`
	TotalChunks     int             `gorm:"not null;default:0"`
	ProcessedChunks int             `gorm:"not null;default:0"`
	SkippedChunks   int             `gorm:"not null;default:0"`
	Error           string          `gorm:"type:text"`
	StartedAt       *time.Time      `gorm:""`
	CompletedAt     *time.Time      `gorm:""`
	CreatedAt       time.Time       `gorm:"autoCreateTime:milli"`
	UpdatedAt       time.Time       `gorm:"autoUpdateTime:milli"`
}

func (ImportJob) TableName() string {
	return "import_jobs"
}

type ImportJobDto struct {
	ID              uuid.UUID       `json:"id"`
	Status          ImportJobStatus `json:"status"`
	TotalChunks     int             `json:"totalChunks"`
	ProcessedChunks int             `json:"processedChunks"`
	SkippedChunks   int             `json:"skippedChunks"`
	Error           string          `json:"error,omitempty"`
	StartedAt       *time.Time      `json:"startedAt,omitempty"`
	CompletedAt     *time.Time      `json:"completedAt,omitempty"`
	CreatedAt       time.Time       `json:"createdAt"`
}

func (j *ImportJob) ToDto() *ImportJobDto {
	return &ImportJobDto{
		ID:              j.ID,
		Status:          j.Status,
		TotalChunks:     j.TotalChunks,
		ProcessedChunks: j.ProcessedChunks,
		SkippedChunks:   j.SkippedChunks,
		Error:           j.Error,
		StartedAt:       j.StartedAt,
		CompletedAt:     j.CompletedAt,
		CreatedAt:       j.CreatedAt,
	}
}
