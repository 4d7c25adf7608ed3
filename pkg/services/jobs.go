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
	"sync"
	"time"

	"github.com/echomind/echomind/pkg/conn"
	"github.com/echomind/echomind/pkg/customerrors"
	"github.com/echomind/echomind/pkg/models"
	"github.com/echomind/echomind/pkg/utils/pagination"
	"github.com/google/uuid"
	"github.com/samber/lo"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// JobService owns import_jobs and user_profiles rows. Status writes go
// through Transition so the forward-only state machine cannot be
// bypassed.
type JobService struct {
	db *gorm.DB
}

var (
	jobService     *JobService
	jobServiceOnce sync.Once
)

func GetJobService() *JobService {
	jobServiceOnce.Do(func() {
		jobService = &JobService{db: conn.GetDB()}
	})
	return jobService
}

func (s *JobService) CreateJob(ctx context.Context, userID uuid.UUID) (*models.ImportJob, error) {
	if err := requireTenant(userID); err != nil {
		return nil, err
	}

	job := &models.ImportJob{
		ID:     uuid.Must(uuid.NewV7()),
		UserID: userID,
		Status: models.ImportJobPending,
	}
	if err := s.db.WithContext(ctx).Create(job).Error; err != nil {
		return nil, fmt.Errorf("failed to create import job: %w", err)
	}
	return job, nil
}

// GetJob loads a job scoped to its owner. A job ID belonging to another
// user is indistinguishable from a missing one.
func (s *JobService) GetJob(ctx context.Context, userID, jobID uuid.UUID) (*models.ImportJob, error) {
	if err := requireTenant(userID); err != nil {
		return nil, err
	}

	var job models.ImportJob
	err := s.db.WithContext(ctx).
		Where("id = ? AND user_id = ?", jobID, userID).
		First(&job).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, customerrors.ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to load import job: %w", err)
	}
	return &job, nil
}

// LatestJob returns the user's newest job, or ErrJobNotFound.
func (s *JobService) LatestJob(ctx context.Context, userID uuid.UUID) (*models.ImportJob, error) {
	if err := requireTenant(userID); err != nil {
		return nil, err
	}

	var job models.ImportJob
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		First(&job).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, customerrors.ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to load latest import job: %w", err)
	}
	return &job, nil
}

func (s *JobService) ListJobs(ctx context.Context, userID uuid.UUID, request *pagination.PageRequest) (*pagination.PagedResponse[models.ImportJobDto], error) {
	if err := requireTenant(userID); err != nil {
		return nil, err
	}
	request.ApplyDefaults()

	var jobs []models.ImportJob
	var total int64

	if err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.ImportJob{}).
			Where("user_id = ?", userID).
			Count(&total).Error; err != nil {
			return fmt.Errorf("failed to count import jobs: %w", err)
		}

		return tx.
			Where("user_id = ?", userID).
			Order("created_at DESC").
			Offset(request.Offset()).
			Limit(request.PageSize).
			Find(&jobs).Error
	}); err != nil {
		slog.ErrorContext(ctx, "failed to list import jobs", "error", err)
		return nil, err
	}

	return &pagination.PagedResponse[models.ImportJobDto]{
		Total:    total,
		PageSize: request.PageSize,
		Page:     request.Page,
		Data: lo.Map(jobs, func(j models.ImportJob, _ int) models.ImportJobDto {
			return *j.ToDto()
		}),
	}, nil
}

// Transition moves a job to the next status, enforcing the state
// machine. The update is conditional on the current status so two racy
// callers cannot both win.
func (s *JobService) Transition(ctx context.Context, job *models.ImportJob, next models.ImportJobStatus) error {
	if !job.Status.CanTransitionTo(next) {
		return fmt.Errorf("%w: cannot move %s from %s to %s",
			customerrors.ErrJobNotProcessable, job.ID, job.Status, next)
	}

	updates := map[string]any{"status": next}
	now := time.Now()
	switch next {
	case models.ImportJobProcessing:
		updates["started_at"] = &now
	case models.ImportJobComplete, models.ImportJobFailed:
		updates["completed_at"] = &now
	}

	result := s.db.WithContext(ctx).
		Model(&models.ImportJob{}).
		Where("id = ? AND status = ?", job.ID, job.Status).
		Updates(updates)
	if result.Error != nil {
		return fmt.Errorf("failed to transition job: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: job %s changed state concurrently", customerrors.ErrJobNotProcessable, job.ID)
	}

	job.Status = next
	switch next {
	case models.ImportJobProcessing:
		job.StartedAt = &now
	case models.ImportJobComplete, models.ImportJobFailed:
		job.CompletedAt = &now
	}
	return nil
}

// Fail marks a job failed with a user-facing message. Safe to call from
// any non-terminal state; failing an already-terminal job is a no-op.
func (s *JobService) Fail(ctx context.Context, job *models.ImportJob, cause error) {
	if job.Status.Terminal() {
		return
	}
	message := ""
	if cause != nil {
		message = cause.Error()
	}

	now := time.Now()
	err := s.db.WithContext(ctx).
		Model(&models.ImportJob{}).
		Where("id = ?", job.ID).
		Updates(map[string]any{
			"status":       models.ImportJobFailed,
			"error":        message,
			"completed_at": &now,
		}).Error
	if err != nil {
		slog.ErrorContext(ctx, "failed to mark job as failed", "jobId", job.ID, "error", err)
	}
	job.Status = models.ImportJobFailed
	job.Error = message
	job.CompletedAt = &now
}

func (s *JobService) SetStoragePath(ctx context.Context, jobID uuid.UUID, path string) error {
	return s.db.WithContext(ctx).
		Model(&models.ImportJob{}).
		Where("id = ?", jobID).
		Update("storage_path", path).Error
}

func (s *JobService) SetTotalChunks(ctx context.Context, jobID uuid.UUID, total int) error {
	return s.db.WithContext(ctx).
		Model(&models.ImportJob{}).
		Where("id = ?", jobID).
		Update("total_chunks", total).Error
}

// IncrementProcessed adds to the processed counter atomically; batches
// report progress concurrently with status reads.
func (s *JobService) IncrementProcessed(ctx context.Context, jobID uuid.UUID, delta int) error {
	return s.db.WithContext(ctx).
		Model(&models.ImportJob{}).
		Where("id = ?", jobID).
		Update("processed_chunks", gorm.Expr("processed_chunks + ?", delta)).Error
}

func (s *JobService) IncrementSkipped(ctx context.Context, jobID uuid.UUID, delta int) error {
	return s.db.WithContext(ctx).
		Model(&models.ImportJob{}).
		Where("id = ?", jobID).
		Update("skipped_chunks", gorm.Expr("skipped_chunks + ?", delta)).Error
}

// EnsureProfile loads the user's profile, creating an empty one on
// first contact.
func (s *JobService) EnsureProfile(ctx context.Context, userID uuid.UUID) (*models.UserProfile, error) {
	if err := requireTenant(userID); err != nil {
		return nil, err
	}

	profile := &models.UserProfile{
		ID:              uuid.Must(uuid.NewV7()),
		UserID:          userID,
		ImportStatus:    models.ImportJobPending,
		EmbeddingStatus: models.EmbeddingPending,
		MemoryStatus:    models.MemoryBuilding,
	}
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}},
			DoNothing: true,
		}).
		Create(profile).Error
	if err != nil {
		return nil, fmt.Errorf("failed to ensure profile: %w", err)
	}
	return s.GetProfile(ctx, userID)
}

func (s *JobService) GetProfile(ctx context.Context, userID uuid.UUID) (*models.UserProfile, error) {
	if err := requireTenant(userID); err != nil {
		return nil, err
	}

	var profile models.UserProfile
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		First(&profile).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, customerrors.ErrProfileNotFound
		}
		return nil, fmt.Errorf("failed to load profile: %w", err)
	}
	return &profile, nil
}

// UpdateProfileProgress refreshes the embedding progress counters. The
// percentage is derived from chunk counts, never stored independently
// of them.
func (s *JobService) UpdateProfileProgress(ctx context.Context, userID uuid.UUID, total, processed int64, status models.EmbeddingStatus) error {
	if err := requireTenant(userID); err != nil {
		return err
	}

	percent := 0
	if total > 0 {
		percent = int(processed * 100 / total)
	}
	updates := map[string]any{
		"embedding_status":   status,
		"embedding_progress": percent,
		"total_chunks":       total,
		"processed_chunks":   processed,
	}
	if status == models.EmbeddingComplete {
		updates["memory_status"] = models.MemoryReady
	} else {
		updates["memory_status"] = models.MemoryBuilding
	}

	return s.db.WithContext(ctx).
		Model(&models.UserProfile{}).
		Where("user_id = ?", userID).
		Updates(updates).Error
}

func (s *JobService) UpdateImportStatus(ctx context.Context, userID uuid.UUID, status models.ImportJobStatus) error {
	if err := requireTenant(userID); err != nil {
		return err
	}
	return s.db.WithContext(ctx).
		Model(&models.UserProfile{}).
		Where("user_id = ?", userID).
		Update("import_status", status).Error
}

// SaveSoulprint stores both renderings of the quick-pass result along
// with the export-wide stats.
func (s *JobService) SaveSoulprint(ctx context.Context, userID uuid.UUID, text string, structured []byte, conversations, messages int) error {
	if err := requireTenant(userID); err != nil {
		return err
	}

	now := time.Now()
	return s.db.WithContext(ctx).
		Model(&models.UserProfile{}).
		Where("user_id = ?", userID).
		Updates(map[string]any{
			"soulprint_text":         text,
			"soulprint":              structured,
			"total_conversations":    conversations,
			"total_messages":         messages,
			"soulprint_generated_at": &now,
		}).Error
}

// ResetMemory clears memory-derived profile state after a full delete.
// The soulprint survives: it is regenerated by imports, not by
// retrieval.
func (s *JobService) ResetMemory(ctx context.Context, userID uuid.UUID) error {
	if err := requireTenant(userID); err != nil {
		return err
	}
	return s.db.WithContext(ctx).
		Model(&models.UserProfile{}).
		Where("user_id = ?", userID).
		Updates(map[string]any{
			"embedding_status":   models.EmbeddingPending,
			"embedding_progress": 0,
			"total_chunks":       0,
			"processed_chunks":   0,
			"memory_status":      models.MemoryBuilding,
		}).Error
}

// BackfillLegacyEmbeddingStatus normalizes profiles written before the
// embedding_status column existed, then closes out profiles whose
// chunks already all carry vectors but whose status never flipped (a
// crash between the last embedding batch and the close-out write).
// Runs once at startup, before the server accepts traffic.
func (s *JobService) BackfillLegacyEmbeddingStatus(ctx context.Context) error {
	if err := s.db.WithContext(ctx).
		Model(&models.UserProfile{}).
		Where("embedding_status IS NULL OR embedding_status = ''").
		Update("embedding_status", models.EmbeddingPending).Error; err != nil {
		return err
	}

	return s.db.WithContext(ctx).Exec(`
		UPDATE user_profiles SET
			embedding_status = ?,
			memory_status = ?,
			embedding_progress = 100,
			processed_chunks = total_chunks
		WHERE embedding_status IN (?, ?)
			AND total_chunks > 0
			AND NOT EXISTS (
				SELECT 1 FROM conversation_chunks c
				WHERE c.user_id = user_profiles.user_id
					AND c.embedding IS NULL
					AND COALESCE(c.embedding_model, '') <> ?
			)`,
		models.EmbeddingComplete, models.MemoryReady,
		models.EmbeddingPending, models.EmbeddingProcessing,
		rejectedModelTag).Error
}
