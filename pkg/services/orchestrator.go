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
	"io"
	"log/slog"
	"slices"
	"sort"
	"sync"
	"time"

	json "github.com/bytedance/sonic"
	"github.com/echomind/echomind/pkg/config"
	"github.com/echomind/echomind/pkg/consts"
	"github.com/echomind/echomind/pkg/customerrors"
	"github.com/echomind/echomind/pkg/importer"
	"github.com/echomind/echomind/pkg/models"
	"github.com/echomind/echomind/pkg/storage"
	"github.com/echomind/echomind/pkg/utils/pagination"
	"github.com/echomind/echomind/pkg/utils/safe"
	"github.com/google/uuid"
	"github.com/samber/lo"
)

// importTracker is the job and profile bookkeeping the pipeline needs.
type importTracker interface {
	CreateJob(ctx context.Context, userID uuid.UUID) (*models.ImportJob, error)
	GetJob(ctx context.Context, userID, jobID uuid.UUID) (*models.ImportJob, error)
	ListJobs(ctx context.Context, userID uuid.UUID, request *pagination.PageRequest) (*pagination.PagedResponse[models.ImportJobDto], error)
	Transition(ctx context.Context, job *models.ImportJob, next models.ImportJobStatus) error
	Fail(ctx context.Context, job *models.ImportJob, cause error)
	SetStoragePath(ctx context.Context, jobID uuid.UUID, path string) error
	SetTotalChunks(ctx context.Context, jobID uuid.UUID, total int) error
	IncrementProcessed(ctx context.Context, jobID uuid.UUID, delta int) error
	IncrementSkipped(ctx context.Context, jobID uuid.UUID, delta int) error
	EnsureProfile(ctx context.Context, userID uuid.UUID) (*models.UserProfile, error)
	GetProfile(ctx context.Context, userID uuid.UUID) (*models.UserProfile, error)
	UpdateProfileProgress(ctx context.Context, userID uuid.UUID, total, processed int64, status models.EmbeddingStatus) error
	UpdateImportStatus(ctx context.Context, userID uuid.UUID, status models.ImportJobStatus) error
	SaveSoulprint(ctx context.Context, userID uuid.UUID, text string, structured []byte, conversations, messages int) error
	ResetMemory(ctx context.Context, userID uuid.UUID) error
}

// chunkVault is the chunk storage surface the pipeline writes through.
type chunkVault interface {
	UpsertChunks(ctx context.Context, userID uuid.UUID, chunks []importer.Chunk) (int64, error)
	AttachEmbedding(ctx context.Context, userID, chunkID uuid.UUID, vector []float32, model string) error
	UnembeddedChunks(ctx context.Context, userID uuid.UUID, limit int) ([]models.ConversationChunk, error)
	MarkChunkRejected(ctx context.Context, userID, chunkID uuid.UUID) error
	MarkRecentConversations(ctx context.Context, userID uuid.UUID, n int) error
	ChunkCounts(ctx context.Context, userID uuid.UUID) (int64, int64, error)
	DeleteChunks(ctx context.Context, userID uuid.UUID, chunkIDs []uuid.UUID) (int64, error)
}

type soulprintMaker interface {
	GenerateSoulprint(ctx context.Context, conversations []importer.Conversation) (*Soulprint, string)
}

type exportBlobs interface {
	Save(ctx context.Context, jobID uuid.UUID, r io.Reader) (string, int64, error)
	Open(jobID uuid.UUID) (io.ReadCloser, error)
	Delete(jobID uuid.UUID) error
}

type batchEmbedder interface {
	queryEmbedder
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// ImportService drives the two-pass ingestion pipeline. The quick pass
// runs inside the request under a hard wall-clock budget, stores only
// the recent subset and ends at quick_ready; the full pass runs
// detached from the request, ingests the whole export and ends at
// complete. Either pass can die and be resumed: all progress lives in
// the database, none in memory.
type ImportService struct {
	jobs     importTracker
	store    chunkVault
	profiles soulprintMaker
	blobs    exportBlobs
	embedder batchEmbedder
	cfg      *config.ImporterConfig
	embedCfg *config.EmbeddingConfig
}

var (
	importService     *ImportService
	importServiceOnce sync.Once
)

func GetImportService() *ImportService {
	importServiceOnce.Do(func() {
		appCfg := config.GetConfigManager().GetConfig()
		blobs, err := storage.NewStore(appCfg.Storage.Dir)
		if err != nil {
			panic(fmt.Sprintf("failed to initialize blob storage: %v", err))
		}
		importService = NewImportService(
			GetJobService(),
			GetMemoryStore(),
			GetProfileService(),
			blobs,
			GetEmbeddingClient(),
			appCfg.Importer,
			appCfg.Embedding,
		)
	})
	return importService
}

func NewImportService(jobs importTracker, store chunkVault, profiles soulprintMaker, blobs exportBlobs, embedder batchEmbedder, cfg *config.ImporterConfig, embedCfg *config.EmbeddingConfig) *ImportService {
	return &ImportService{
		jobs:     jobs,
		store:    store,
		profiles: profiles,
		blobs:    blobs,
		embedder: embedder,
		cfg:      cfg,
		embedCfg: embedCfg,
	}
}

// CreateJob opens a new import job and makes sure the user has a
// profile row to hang progress off.
func (s *ImportService) CreateJob(ctx context.Context, userID uuid.UUID) (*models.ImportJobDto, error) {
	if _, err := s.jobs.EnsureProfile(ctx, userID); err != nil {
		return nil, err
	}

	job, err := s.jobs.CreateJob(ctx, userID)
	if err != nil {
		return nil, err
	}
	return job.ToDto(), nil
}

// Upload receives the raw export stream for a pending job.
func (s *ImportService) Upload(ctx context.Context, userID, jobID uuid.UUID, r io.Reader) (*models.ImportJobDto, error) {
	job, err := s.jobs.GetJob(ctx, userID, jobID)
	if err != nil {
		return nil, err
	}
	if err := s.jobs.Transition(ctx, job, models.ImportJobUploading); err != nil {
		return nil, err
	}

	path, size, err := s.blobs.Save(ctx, jobID, r)
	if err != nil {
		s.jobs.Fail(ctx, job, fmt.Errorf("upload failed: %w", err))
		return nil, err
	}
	if err := s.jobs.SetStoragePath(ctx, jobID, path); err != nil {
		return nil, err
	}

	slog.InfoContext(ctx, "export uploaded", "jobId", jobID, "bytes", size)
	return job.ToDto(), nil
}

// Process runs the quick pass and schedules the full pass. Calling it
// on a quick_ready job resumes the full pass instead.
func (s *ImportService) Process(ctx context.Context, userID, jobID uuid.UUID) (*models.ImportJobDto, error) {
	job, err := s.jobs.GetJob(ctx, userID, jobID)
	if err != nil {
		return nil, err
	}

	if job.Status == models.ImportJobQuickReady {
		s.scheduleFullPass(userID, jobID)
		return job.ToDto(), nil
	}

	if err := s.jobs.Transition(ctx, job, models.ImportJobProcessing); err != nil {
		return nil, err
	}
	_ = s.jobs.UpdateImportStatus(ctx, userID, models.ImportJobProcessing)

	quickCtx, cancel := context.WithTimeout(ctx, time.Duration(s.cfg.QuickPassTimeoutSeconds)*time.Second)
	defer cancel()

	if err := s.quickPass(quickCtx, userID, job); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("%w after %ds", customerrors.ErrQuickPassTimeout, s.cfg.QuickPassTimeoutSeconds)
		}
		s.jobs.Fail(ctx, job, err)
		_ = s.jobs.UpdateImportStatus(ctx, userID, models.ImportJobFailed)
		return nil, err
	}

	if err := s.jobs.Transition(ctx, job, models.ImportJobQuickReady); err != nil {
		return nil, err
	}
	_ = s.jobs.UpdateImportStatus(ctx, userID, models.ImportJobQuickReady)

	s.scheduleFullPass(userID, jobID)

	refreshed, err := s.jobs.GetJob(ctx, userID, jobID)
	if err != nil {
		return job.ToDto(), nil
	}
	return refreshed.ToDto(), nil
}

// exportScan is the bounded state accumulated from one streaming parse:
// the newest conversations kept for quick-pass chunking, plus the
// oldest and longest kept for soulprint sampling. Memory stays bounded
// by the buffer caps no matter how large the export is.
type exportScan struct {
	newestCap int

	newest  []importer.Conversation
	oldest  []importer.Conversation
	longest []importer.Conversation

	conversations int
	messages      int
}

func newExportScan(newestCap int) *exportScan {
	return &exportScan{newestCap: newestCap}
}

func (e *exportScan) observe(conv importer.Conversation) {
	e.conversations++
	e.messages += len(conv.Messages)

	e.newest = keepBest(e.newest, conv, e.newestCap, func(a, b importer.Conversation) bool {
		return a.UpdatedAt.After(b.UpdatedAt)
	})
	e.oldest = keepBest(e.oldest, conv, consts.QuickPassOldestSample, func(a, b importer.Conversation) bool {
		return a.UpdatedAt.Before(b.UpdatedAt)
	})
	e.longest = keepBest(e.longest, conv, consts.QuickPassLongestSample, func(a, b importer.Conversation) bool {
		return len(a.Messages) > len(b.Messages)
	})
}

// recentSubset returns up to n of the newest conversations, newest
// first.
func (e *exportScan) recentSubset(n int) []importer.Conversation {
	subset := slices.Clone(e.newest)
	sort.Slice(subset, func(i, j int) bool {
		return subset[i].UpdatedAt.After(subset[j].UpdatedAt)
	})
	if len(subset) > n {
		subset = subset[:n]
	}
	return subset
}

// sample unions the three buffers for soulprint generation, deduping
// conversations that qualify under more than one criterion.
func (e *exportScan) sample() []importer.Conversation {
	seen := make(map[string]struct{})
	var sample []importer.Conversation
	for _, buf := range [][]importer.Conversation{e.newest, e.oldest, e.longest} {
		for _, conv := range buf {
			if _, ok := seen[conv.ID]; ok {
				continue
			}
			seen[conv.ID] = struct{}{}
			sample = append(sample, conv)
		}
	}
	return sample
}

// keepBest keeps the n best elements under better, evicting the worst.
// Buffers are small, so linear eviction is fine.
func keepBest(buf []importer.Conversation, conv importer.Conversation, n int, better func(a, b importer.Conversation) bool) []importer.Conversation {
	if len(buf) < n {
		return append(buf, conv)
	}
	worst := 0
	for i := 1; i < len(buf); i++ {
		if better(buf[worst], buf[i]) {
			worst = i
		}
	}
	if better(conv, buf[worst]) {
		buf[worst] = conv
	}
	return buf
}

// quickPass scans the export once with bounded memory, stores chunks
// for the recent subset only, and generates the soulprint. On success
// chat is already usable: recency retrieval works off the stored
// chunks alone. The rest of the export is ingested by the full pass.
func (s *ImportService) quickPass(ctx context.Context, userID uuid.UUID, job *models.ImportJob) error {
	blob, err := s.blobs.Open(job.ID)
	if err != nil {
		return err
	}
	defer blob.Close()

	parser := importer.NewParser()
	scan := newExportScan(max(s.cfg.RecentConversationCount, consts.QuickPassRecentSample))
	for conv := range parser.Conversations(ctx, blob) {
		scan.observe(conv)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if scan.conversations == 0 {
		return fmt.Errorf("%w: export contains no readable conversations", customerrors.ErrInvalidParams)
	}
	if skipped := parser.Skipped(); skipped > 0 {
		slog.WarnContext(ctx, "skipped malformed conversations", "jobId", job.ID, "count", skipped)
	}

	recent := scan.recentSubset(s.cfg.RecentConversationCount)
	chunker := importer.NewChunker(s.cfg)
	quickChunks := 0
	batch := make([]importer.Chunk, 0, s.cfg.StoreBatchSize)
	for chunk := range chunker.Chunks(slices.Values(recent)) {
		batch = append(batch, chunk)
		quickChunks++
		if len(batch) >= s.cfg.StoreBatchSize {
			if _, err := s.store.UpsertChunks(ctx, userID, batch); err != nil {
				return err
			}
			batch = batch[:0]
		}
		if err := ctx.Err(); err != nil {
			return err
		}
	}
	if _, err := s.store.UpsertChunks(ctx, userID, batch); err != nil {
		return err
	}

	if err := s.store.MarkRecentConversations(ctx, userID, s.cfg.RecentConversationCount); err != nil {
		return err
	}
	// Provisional total; the full pass replaces it once the whole
	// export is ingested.
	if err := s.jobs.SetTotalChunks(ctx, job.ID, quickChunks); err != nil {
		return err
	}
	job.TotalChunks = quickChunks

	// Soulprint failures are swallowed by the profile service, never
	// propagated: a missing soulprint must not sink the import.
	soulprint, text := s.profiles.GenerateSoulprint(ctx, scan.sample())
	structured, err := json.Marshal(soulprint)
	if err != nil {
		structured = []byte("{}")
	}
	if err := s.jobs.SaveSoulprint(ctx, userID, text, structured, scan.conversations, scan.messages); err != nil {
		return err
	}

	total, embedded, err := s.store.ChunkCounts(ctx, userID)
	if err != nil {
		return err
	}
	return s.jobs.UpdateProfileProgress(ctx, userID, total, embedded, models.EmbeddingProcessing)
}

// scheduleFullPass launches the full pass on the process base context,
// so it survives the originating HTTP request.
func (s *ImportService) scheduleFullPass(userID, jobID uuid.UUID) {
	safe.GoSafe(fmt.Sprintf("embed-%s", jobID), func(ctx context.Context) {
		s.runFullPass(ctx, userID, jobID)
	})
}

// runFullPass executes the full pass and settles the job when it stops
// early. Cancellation is shutdown, not failure: the job stays
// quick_ready and the next Process call resumes it. Any other error
// fails the job; chunks embedded so far keep their vectors.
func (s *ImportService) runFullPass(ctx context.Context, userID, jobID uuid.UUID) {
	err := s.fullPass(ctx, userID, jobID)
	if err == nil {
		return
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		slog.WarnContext(ctx, "full pass interrupted, resumable via process", "jobId", jobID, "error", err)
		return
	}

	slog.ErrorContext(ctx, "full pass failed", "jobId", jobID, "error", err)
	job, getErr := s.jobs.GetJob(ctx, userID, jobID)
	if getErr != nil {
		slog.ErrorContext(ctx, "failed to load job after full pass failure", "jobId", jobID, "error", getErr)
		return
	}
	s.jobs.Fail(ctx, job, err)
	_ = s.jobs.UpdateImportStatus(ctx, userID, models.ImportJobFailed)
}

// fullPass ingests the whole export, then embeds every chunk still
// missing a vector. It is resumable by construction: ingestion dedupes
// on the upsert key and the embedding work queue is the embedding IS
// NULL scan, so a crashed or interrupted pass continues where it
// stopped. Permanent per-chunk rejections are skipped and counted.
func (s *ImportService) fullPass(ctx context.Context, userID, jobID uuid.UUID) error {
	if err := s.ingestAll(ctx, userID, jobID); err != nil {
		return err
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		chunks, err := s.store.UnembeddedChunks(ctx, userID, s.embedCfg.BatchSize)
		if err != nil {
			return err
		}
		if len(chunks) == 0 {
			return s.finishFullPass(ctx, userID, jobID)
		}

		contents := lo.Map(chunks, func(c models.ConversationChunk, _ int) string {
			return c.Content
		})
		vectors, err := s.embedder.Embed(ctx, contents)
		if err != nil {
			if errors.Is(err, customerrors.ErrEmbeddingRejected) {
				if err := s.embedSingly(ctx, userID, jobID, chunks, s.embedder); err != nil {
					return err
				}
				continue
			}
			// Unavailable or quota exhausted: stop here.
			return err
		}

		for i, chunk := range chunks {
			if err := s.store.AttachEmbedding(ctx, userID, chunk.ID, vectors[i], s.embedder.Model()); err != nil {
				return err
			}
		}
		if err := s.jobs.IncrementProcessed(ctx, jobID, len(chunks)); err != nil {
			return err
		}

		total, embedded, err := s.store.ChunkCounts(ctx, userID)
		if err != nil {
			return err
		}
		if err := s.jobs.UpdateProfileProgress(ctx, userID, total, embedded, models.EmbeddingProcessing); err != nil {
			return err
		}
	}
}

// ingestAll streams the export through parse and chunk into stored
// rows. Rows written by the quick pass or an earlier interrupted run
// dedupe on the upsert key, so re-running from the top is free. A
// missing blob is degraded, not fatal: embedding proceeds over
// whatever rows already exist.
func (s *ImportService) ingestAll(ctx context.Context, userID, jobID uuid.UUID) error {
	blob, err := s.blobs.Open(jobID)
	if err != nil {
		slog.WarnContext(ctx, "export blob unavailable, embedding stored chunks only", "jobId", jobID, "error", err)
		return nil
	}
	defer blob.Close()

	parser := importer.NewParser()
	chunker := importer.NewChunker(s.cfg)
	total := 0
	batch := make([]importer.Chunk, 0, s.cfg.StoreBatchSize)
	for chunk := range chunker.Chunks(parser.Conversations(ctx, blob)) {
		batch = append(batch, chunk)
		total++
		if len(batch) >= s.cfg.StoreBatchSize {
			if _, err := s.store.UpsertChunks(ctx, userID, batch); err != nil {
				return err
			}
			batch = batch[:0]
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := s.store.UpsertChunks(ctx, userID, batch); err != nil {
		return err
	}

	if err := s.store.MarkRecentConversations(ctx, userID, s.cfg.RecentConversationCount); err != nil {
		return err
	}
	return s.jobs.SetTotalChunks(ctx, jobID, total)
}

// embedSingly retries a rejected batch one chunk at a time, so a single
// poisonous chunk costs itself, not its batch.
func (s *ImportService) embedSingly(ctx context.Context, userID, jobID uuid.UUID, chunks []models.ConversationChunk, client queryEmbedder) error {
	for _, chunk := range chunks {
		vector, err := client.EmbedOne(ctx, chunk.Content)
		if err != nil {
			if errors.Is(err, customerrors.ErrEmbeddingRejected) {
				slog.WarnContext(ctx, "chunk permanently rejected by provider, skipping",
					"jobId", jobID, "chunkId", chunk.ID, "conversationId", chunk.ConversationID)
				if err := s.store.MarkChunkRejected(ctx, userID, chunk.ID); err != nil {
					return err
				}
				if err := s.jobs.IncrementSkipped(ctx, jobID, 1); err != nil {
					return err
				}
				continue
			}
			return err
		}

		if err := s.store.AttachEmbedding(ctx, userID, chunk.ID, vector, client.Model()); err != nil {
			return err
		}
		if err := s.jobs.IncrementProcessed(ctx, jobID, 1); err != nil {
			return err
		}
	}
	return nil
}

func (s *ImportService) finishFullPass(ctx context.Context, userID, jobID uuid.UUID) error {
	total, embedded, err := s.store.ChunkCounts(ctx, userID)
	if err != nil {
		return err
	}
	if err := s.jobs.UpdateProfileProgress(ctx, userID, total, embedded, models.EmbeddingComplete); err != nil {
		return err
	}

	job, err := s.jobs.GetJob(ctx, userID, jobID)
	if err != nil {
		return err
	}
	if job.Status == models.ImportJobQuickReady {
		if err := s.jobs.Transition(ctx, job, models.ImportJobComplete); err != nil {
			return err
		}
	}
	_ = s.jobs.UpdateImportStatus(ctx, userID, models.ImportJobComplete)

	if err := s.blobs.Delete(jobID); err != nil {
		slog.WarnContext(ctx, "failed to delete export blob", "jobId", jobID, "error", err)
	}

	slog.InfoContext(ctx, "import complete", "jobId", jobID, "chunks", embedded)
	return nil
}

func (s *ImportService) ListJobs(ctx context.Context, userID uuid.UUID, request *pagination.PageRequest) (*pagination.PagedResponse[models.ImportJobDto], error) {
	return s.jobs.ListJobs(ctx, userID, request)
}

// Status returns the job as the owner sees it.
func (s *ImportService) Status(ctx context.Context, userID, jobID uuid.UUID) (*models.ImportJobDto, error) {
	job, err := s.jobs.GetJob(ctx, userID, jobID)
	if err != nil {
		return nil, err
	}
	return job.ToDto(), nil
}

// MemoryStatus reports the profile-level view used by chat surfaces to
// decide whether memory answers are complete yet.
func (s *ImportService) MemoryStatus(ctx context.Context, userID uuid.UUID) (*models.MemoryStatusDto, error) {
	profile, err := s.jobs.GetProfile(ctx, userID)
	if err != nil {
		return nil, err
	}
	return profile.ToStatusDto(), nil
}

// DeleteMemory removes chunks for the user: all of them when chunkIDs
// is empty, otherwise only the named ones. A full wipe also resets the
// profile's memory progress; the soulprint survives either way.
func (s *ImportService) DeleteMemory(ctx context.Context, userID uuid.UUID, chunkIDs []uuid.UUID) (int64, error) {
	deleted, err := s.store.DeleteChunks(ctx, userID, chunkIDs)
	if err != nil {
		return 0, err
	}
	if len(chunkIDs) == 0 {
		if err := s.jobs.ResetMemory(ctx, userID); err != nil {
			return deleted, err
		}
	}
	slog.InfoContext(ctx, "memory deleted", "userId", userID, "chunks", deleted)
	return deleted, nil
}
