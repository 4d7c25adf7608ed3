package services

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"io/fs"
	"strings"
	"testing"
	"time"

	json "github.com/bytedance/sonic"
	"github.com/echomind/echomind/pkg/config"
	"github.com/echomind/echomind/pkg/customerrors"
	"github.com/echomind/echomind/pkg/importer"
	"github.com/echomind/echomind/pkg/models"
	"github.com/echomind/echomind/pkg/utils/pagination"
	"github.com/google/uuid"
)

type fakeImportTracker struct {
	job          *models.ImportJob
	importStatus models.ImportJobStatus
	totalChunks  int
	processed    int
	skipped      int

	// progress records each processed count reported upward, in order.
	progress        []int64
	lastEmbedStatus models.EmbeddingStatus
	soulprintConvs  int
	resetCalled     bool
}

func (f *fakeImportTracker) CreateJob(_ context.Context, userID uuid.UUID) (*models.ImportJob, error) {
	f.job = &models.ImportJob{ID: uuid.Must(uuid.NewV7()), UserID: userID, Status: models.ImportJobPending}
	return f.job, nil
}

func (f *fakeImportTracker) GetJob(_ context.Context, _, _ uuid.UUID) (*models.ImportJob, error) {
	if f.job == nil {
		return nil, customerrors.ErrJobNotFound
	}
	copied := *f.job
	return &copied, nil
}

func (f *fakeImportTracker) ListJobs(_ context.Context, _ uuid.UUID, request *pagination.PageRequest) (*pagination.PagedResponse[models.ImportJobDto], error) {
	return &pagination.PagedResponse[models.ImportJobDto]{Page: request.Page, PageSize: request.PageSize}, nil
}

func (f *fakeImportTracker) Transition(_ context.Context, job *models.ImportJob, next models.ImportJobStatus) error {
	if !job.Status.CanTransitionTo(next) {
		return customerrors.ErrJobNotProcessable
	}
	f.job.Status = next
	job.Status = next
	return nil
}

func (f *fakeImportTracker) Fail(_ context.Context, job *models.ImportJob, cause error) {
	if job.Status.Terminal() {
		return
	}
	f.job.Status = models.ImportJobFailed
	job.Status = models.ImportJobFailed
	if cause != nil {
		f.job.Error = cause.Error()
	}
}

func (f *fakeImportTracker) SetStoragePath(_ context.Context, _ uuid.UUID, path string) error {
	f.job.StoragePath = path
	return nil
}

func (f *fakeImportTracker) SetTotalChunks(_ context.Context, _ uuid.UUID, total int) error {
	f.totalChunks = total
	return nil
}

func (f *fakeImportTracker) IncrementProcessed(_ context.Context, _ uuid.UUID, delta int) error {
	f.processed += delta
	return nil
}

func (f *fakeImportTracker) IncrementSkipped(_ context.Context, _ uuid.UUID, delta int) error {
	f.skipped += delta
	return nil
}

func (f *fakeImportTracker) EnsureProfile(_ context.Context, userID uuid.UUID) (*models.UserProfile, error) {
	return &models.UserProfile{UserID: userID}, nil
}

func (f *fakeImportTracker) GetProfile(_ context.Context, userID uuid.UUID) (*models.UserProfile, error) {
	return &models.UserProfile{UserID: userID}, nil
}

func (f *fakeImportTracker) UpdateProfileProgress(_ context.Context, _ uuid.UUID, _, processed int64, status models.EmbeddingStatus) error {
	f.progress = append(f.progress, processed)
	f.lastEmbedStatus = status
	return nil
}

func (f *fakeImportTracker) UpdateImportStatus(_ context.Context, _ uuid.UUID, status models.ImportJobStatus) error {
	f.importStatus = status
	return nil
}

func (f *fakeImportTracker) SaveSoulprint(_ context.Context, _ uuid.UUID, _ string, _ []byte, conversations, _ int) error {
	f.soulprintConvs = conversations
	return nil
}

func (f *fakeImportTracker) ResetMemory(_ context.Context, _ uuid.UUID) error {
	f.resetCalled = true
	return nil
}

type vaultRow struct {
	chunk    models.ConversationChunk
	embedded bool
	rejected bool
}

type fakeVault struct {
	rows []*vaultRow
}

func (f *fakeVault) addChunk(conversationID string, index int, content string) uuid.UUID {
	id := uuid.Must(uuid.NewV7())
	f.rows = append(f.rows, &vaultRow{chunk: models.ConversationChunk{
		ID:             id,
		ConversationID: conversationID,
		ChunkIndex:     index,
		Content:        content,
	}})
	return id
}

func (f *fakeVault) find(chunkID uuid.UUID) *vaultRow {
	for _, row := range f.rows {
		if row.chunk.ID == chunkID {
			return row
		}
	}
	return nil
}

func (f *fakeVault) UpsertChunks(_ context.Context, userID uuid.UUID, chunks []importer.Chunk) (int64, error) {
	var inserted int64
	for _, c := range chunks {
		exists := false
		for _, row := range f.rows {
			if row.chunk.ConversationID == c.ConversationID && row.chunk.ChunkIndex == c.ChunkIndex {
				exists = true
				break
			}
		}
		if exists {
			continue
		}
		f.rows = append(f.rows, &vaultRow{chunk: models.ConversationChunk{
			ID:             uuid.Must(uuid.NewV7()),
			UserID:         userID,
			ConversationID: c.ConversationID,
			ChunkIndex:     c.ChunkIndex,
			Title:          c.Title,
			Content:        c.Content,
			IsRecent:       c.IsRecent,
		}})
		inserted++
	}
	return inserted, nil
}

func (f *fakeVault) AttachEmbedding(_ context.Context, _, chunkID uuid.UUID, _ []float32, model string) error {
	// A missing row means the chunk was deleted mid-flight; the write
	// is a silent no-op, mirroring the real store.
	if row := f.find(chunkID); row != nil {
		row.embedded = true
		row.chunk.EmbeddingModel = model
	}
	return nil
}

func (f *fakeVault) UnembeddedChunks(_ context.Context, _ uuid.UUID, limit int) ([]models.ConversationChunk, error) {
	var out []models.ConversationChunk
	for _, row := range f.rows {
		if row.embedded || row.rejected {
			continue
		}
		out = append(out, row.chunk)
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (f *fakeVault) MarkChunkRejected(_ context.Context, _, chunkID uuid.UUID) error {
	if row := f.find(chunkID); row != nil {
		row.rejected = true
	}
	return nil
}

func (f *fakeVault) MarkRecentConversations(_ context.Context, _ uuid.UUID, _ int) error {
	return nil
}

func (f *fakeVault) ChunkCounts(_ context.Context, _ uuid.UUID) (int64, int64, error) {
	var embedded int64
	for _, row := range f.rows {
		if row.embedded {
			embedded++
		}
	}
	return int64(len(f.rows)), embedded, nil
}

func (f *fakeVault) DeleteChunks(_ context.Context, _ uuid.UUID, chunkIDs []uuid.UUID) (int64, error) {
	if len(chunkIDs) == 0 {
		n := int64(len(f.rows))
		f.rows = nil
		return n, nil
	}
	var kept []*vaultRow
	var deleted int64
	for _, row := range f.rows {
		drop := false
		for _, id := range chunkIDs {
			if row.chunk.ID == id {
				drop = true
				break
			}
		}
		if drop {
			deleted++
		} else {
			kept = append(kept, row)
		}
	}
	f.rows = kept
	return deleted, nil
}

type fakePassEmbedder struct {
	poison      map[string]bool
	unavailable bool
}

func (f *fakePassEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	if f.unavailable {
		return nil, fmt.Errorf("%w: provider down", customerrors.ErrEmbeddingUnavailable)
	}
	for _, text := range texts {
		if f.poison[text] {
			return nil, fmt.Errorf("%w: input refused", customerrors.ErrEmbeddingRejected)
		}
	}
	vectors := make([][]float32, len(texts))
	for i := range vectors {
		vectors[i] = []float32{0.1, 0.2, 0.3}
	}
	return vectors, nil
}

func (f *fakePassEmbedder) EmbedOne(ctx context.Context, text string) ([]float32, error) {
	vectors, err := f.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

func (f *fakePassEmbedder) Model() string {
	return "text-embedding-3-small"
}

type fakeBlobStore struct {
	data    []byte
	deleted bool
}

func (f *fakeBlobStore) Save(_ context.Context, _ uuid.UUID, r io.Reader) (string, int64, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return "", 0, err
	}
	f.data = data
	return "blob", int64(len(data)), nil
}

func (f *fakeBlobStore) Open(_ uuid.UUID) (io.ReadCloser, error) {
	if f.data == nil {
		return nil, fs.ErrNotExist
	}
	return io.NopCloser(bytes.NewReader(f.data)), nil
}

func (f *fakeBlobStore) Delete(_ uuid.UUID) error {
	f.deleted = true
	return nil
}

type fakeSoulprinter struct {
	sampleSize int
}

func (f *fakeSoulprinter) GenerateSoulprint(_ context.Context, conversations []importer.Conversation) (*Soulprint, string) {
	f.sampleSize = len(conversations)
	return &Soulprint{}, "soulprint"
}

// exportConv builds one export-format conversation with a linear
// message chain, alternating user and assistant turns.
func exportConv(id, title string, when float64, contents ...string) map[string]any {
	mapping := map[string]any{
		"root": map[string]any{
			"id":       "root",
			"message":  nil,
			"parent":   nil,
			"children": []string{id + "-m0"},
		},
	}
	prev := "root"
	for i, content := range contents {
		nodeID := fmt.Sprintf("%s-m%d", id, i)
		role := "user"
		if i%2 == 1 {
			role = "assistant"
		}
		children := []string{}
		if i+1 < len(contents) {
			children = []string{fmt.Sprintf("%s-m%d", id, i+1)}
		}
		mapping[nodeID] = map[string]any{
			"id": nodeID,
			"message": map[string]any{
				"id":          nodeID,
				"author":      map[string]any{"role": role},
				"content":     map[string]any{"content_type": "text", "parts": []any{content}},
				"create_time": when,
			},
			"parent":   prev,
			"children": children,
		}
		prev = nodeID
	}
	return map[string]any{
		"id":           id,
		"title":        title,
		"create_time":  when,
		"update_time":  when,
		"mapping":      mapping,
		"current_node": prev,
	}
}

func exportJSON(t *testing.T, convs ...map[string]any) []byte {
	t.Helper()
	out, err := json.Marshal(convs)
	if err != nil {
		t.Fatalf("failed to build export fixture: %v", err)
	}
	return out
}

func testImporterConfig(t *testing.T) *config.ImporterConfig {
	t.Helper()
	cfg := &config.ImporterConfig{}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("config validation failed: %v", err)
	}
	return cfg
}

type pipelineFixture struct {
	service  *ImportService
	tracker  *fakeImportTracker
	vault    *fakeVault
	embedder *fakePassEmbedder
	blobs    *fakeBlobStore
	profiles *fakeSoulprinter
	userID   uuid.UUID
	jobID    uuid.UUID
}

func newPipelineFixture(t *testing.T, status models.ImportJobStatus) *pipelineFixture {
	t.Helper()

	userID := uuid.Must(uuid.NewV7())
	jobID := uuid.Must(uuid.NewV7())
	tracker := &fakeImportTracker{
		job: &models.ImportJob{ID: jobID, UserID: userID, Status: status},
	}
	vault := &fakeVault{}
	embedder := &fakePassEmbedder{}
	blobs := &fakeBlobStore{}
	profiles := &fakeSoulprinter{}

	embedCfg := &config.EmbeddingConfig{BatchSize: 2}
	service := NewImportService(tracker, vault, profiles, blobs, embedder, testImporterConfig(t), embedCfg)

	return &pipelineFixture{
		service:  service,
		tracker:  tracker,
		vault:    vault,
		embedder: embedder,
		blobs:    blobs,
		profiles: profiles,
		userID:   userID,
		jobID:    jobID,
	}
}

func TestQuickPassStoresOnlyRecentSubset(t *testing.T) {
	f := newPipelineFixture(t, models.ImportJobProcessing)
	f.service.cfg.RecentConversationCount = 2

	f.blobs.data = exportJSON(t,
		exportConv("old-1", "Old one", 1_600_000_000, "ancient question", "ancient answer"),
		exportConv("old-2", "Old two", 1_610_000_000, "stale question", "stale answer"),
		exportConv("new-1", "New one", 1_750_000_000, "fresh question", "fresh answer"),
		exportConv("new-2", "New two", 1_760_000_000, "newest question", "newest answer"),
	)

	if err := f.service.quickPass(context.Background(), f.userID, f.tracker.job); err != nil {
		t.Fatalf("quick pass failed: %v", err)
	}

	stored := make(map[string]bool)
	for _, row := range f.vault.rows {
		stored[row.chunk.ConversationID] = true
	}
	if !stored["new-1"] || !stored["new-2"] {
		t.Fatalf("recent conversations missing from store: %v", stored)
	}
	if stored["old-1"] || stored["old-2"] {
		t.Fatalf("quick pass must not chunk beyond the recent subset: %v", stored)
	}

	// Export-wide stats still cover every conversation seen.
	if f.tracker.soulprintConvs != 4 {
		t.Fatalf("expected 4 conversations in export stats, got %d", f.tracker.soulprintConvs)
	}
	if f.profiles.sampleSize != 4 {
		t.Fatalf("expected all 4 conversations sampled for the soulprint, got %d", f.profiles.sampleSize)
	}
	if f.tracker.totalChunks != len(f.vault.rows) {
		t.Fatalf("provisional total %d does not match stored rows %d", f.tracker.totalChunks, len(f.vault.rows))
	}
}

func TestQuickPassRejectsEmptyExport(t *testing.T) {
	f := newPipelineFixture(t, models.ImportJobProcessing)
	f.blobs.data = []byte("[]")

	err := f.service.quickPass(context.Background(), f.userID, f.tracker.job)
	if err == nil || !strings.Contains(err.Error(), "no readable conversations") {
		t.Fatalf("expected empty-export error, got %v", err)
	}
}

func TestFullPassIngestsWholeExportThenEmbeds(t *testing.T) {
	f := newPipelineFixture(t, models.ImportJobQuickReady)

	f.blobs.data = exportJSON(t,
		exportConv("c1", "First", 1_700_000_000, "question one", "answer one"),
		exportConv("c2", "Second", 1_710_000_000, "question two", "answer two"),
		exportConv("c3", "Third", 1_720_000_000, "question three", "answer three"),
	)

	if err := f.service.fullPass(context.Background(), f.userID, f.jobID); err != nil {
		t.Fatalf("full pass failed: %v", err)
	}

	if len(f.vault.rows) != 3 {
		t.Fatalf("expected 3 ingested chunks, got %d", len(f.vault.rows))
	}
	for _, row := range f.vault.rows {
		if !row.embedded {
			t.Fatalf("chunk %s left unembedded", row.chunk.ConversationID)
		}
		if row.chunk.EmbeddingModel != "text-embedding-3-small" {
			t.Fatalf("chunk missing model tag: %q", row.chunk.EmbeddingModel)
		}
	}
	if f.tracker.totalChunks != 3 {
		t.Fatalf("expected total chunks 3, got %d", f.tracker.totalChunks)
	}
	if f.tracker.job.Status != models.ImportJobComplete {
		t.Fatalf("expected job complete, got %s", f.tracker.job.Status)
	}
	if f.tracker.importStatus != models.ImportJobComplete {
		t.Fatalf("expected profile import status complete, got %s", f.tracker.importStatus)
	}
	if f.tracker.lastEmbedStatus != models.EmbeddingComplete {
		t.Fatalf("expected embedding complete, got %s", f.tracker.lastEmbedStatus)
	}
	if !f.blobs.deleted {
		t.Fatal("export blob must be deleted after completion")
	}
}

func TestFullPassSkipsRejectedChunkAndCompletes(t *testing.T) {
	f := newPipelineFixture(t, models.ImportJobQuickReady)

	var poisonID uuid.UUID
	for i := range 5 {
		content := fmt.Sprintf("chunk %d", i)
		id := f.vault.addChunk("c1", i, content)
		if i == 2 {
			poisonID = id
		}
	}
	f.embedder.poison = map[string]bool{"chunk 2": true}

	if err := f.service.fullPass(context.Background(), f.userID, f.jobID); err != nil {
		t.Fatalf("full pass failed: %v", err)
	}

	if f.tracker.processed != 4 {
		t.Fatalf("expected 4 processed chunks, got %d", f.tracker.processed)
	}
	if f.tracker.skipped != 1 {
		t.Fatalf("expected 1 skipped chunk, got %d", f.tracker.skipped)
	}
	poisoned := f.vault.find(poisonID)
	if poisoned == nil || !poisoned.rejected {
		t.Fatal("rejected chunk must be excluded from future passes")
	}
	if poisoned.embedded {
		t.Fatal("rejected chunk must not carry a vector")
	}
	if f.tracker.job.Status != models.ImportJobComplete {
		t.Fatalf("one poisonous chunk must not sink the import, job is %s", f.tracker.job.Status)
	}

	for i := 1; i < len(f.tracker.progress); i++ {
		if f.tracker.progress[i] < f.tracker.progress[i-1] {
			t.Fatalf("progress moved backwards: %v", f.tracker.progress)
		}
	}
}

func TestFullPassResumesFromStoredProgress(t *testing.T) {
	f := newPipelineFixture(t, models.ImportJobQuickReady)

	for i := range 6 {
		id := f.vault.addChunk("c1", i, fmt.Sprintf("chunk %d", i))
		if i < 3 {
			f.vault.find(id).embedded = true
		}
	}

	if err := f.service.fullPass(context.Background(), f.userID, f.jobID); err != nil {
		t.Fatalf("full pass failed: %v", err)
	}

	if f.tracker.processed != 3 {
		t.Fatalf("resume must only embed the remaining chunks, processed %d", f.tracker.processed)
	}
	for _, row := range f.vault.rows {
		if !row.embedded {
			t.Fatalf("chunk %d left unembedded after resume", row.chunk.ChunkIndex)
		}
	}
	if f.tracker.job.Status != models.ImportJobComplete {
		t.Fatalf("expected job complete, got %s", f.tracker.job.Status)
	}
}

func TestRunFullPassFailsJobWhenProviderUnavailable(t *testing.T) {
	f := newPipelineFixture(t, models.ImportJobQuickReady)

	embeddedID := f.vault.addChunk("c1", 0, "already embedded")
	f.vault.find(embeddedID).embedded = true
	f.vault.addChunk("c1", 1, "waiting")
	f.embedder.unavailable = true

	f.service.runFullPass(context.Background(), f.userID, f.jobID)

	if f.tracker.job.Status != models.ImportJobFailed {
		t.Fatalf("expected job failed, got %s", f.tracker.job.Status)
	}
	if f.tracker.job.Error == "" {
		t.Fatal("failed job must carry the cause")
	}
	if f.tracker.importStatus != models.ImportJobFailed {
		t.Fatalf("expected profile import status failed, got %s", f.tracker.importStatus)
	}
	if !f.vault.find(embeddedID).embedded {
		t.Fatal("chunks embedded before the failure must keep their vectors")
	}
}

func TestRunFullPassShutdownLeavesJobResumable(t *testing.T) {
	f := newPipelineFixture(t, models.ImportJobQuickReady)
	f.vault.addChunk("c1", 0, "waiting")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	f.service.runFullPass(ctx, f.userID, f.jobID)

	if f.tracker.job.Status != models.ImportJobQuickReady {
		t.Fatalf("shutdown must not fail the job, got %s", f.tracker.job.Status)
	}
	if f.tracker.importStatus == models.ImportJobFailed {
		t.Fatal("shutdown must not mark the profile failed")
	}
}

func TestDeleteMemoryFullWipeResetsProfile(t *testing.T) {
	f := newPipelineFixture(t, models.ImportJobComplete)
	f.vault.addChunk("c1", 0, "a")
	f.vault.addChunk("c1", 1, "b")

	deleted, err := f.service.DeleteMemory(context.Background(), f.userID, nil)
	if err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if deleted != 2 {
		t.Fatalf("expected 2 deleted chunks, got %d", deleted)
	}
	if !f.tracker.resetCalled {
		t.Fatal("full wipe must reset memory progress")
	}
}

func TestDeleteMemorySelectiveKeepsProfile(t *testing.T) {
	f := newPipelineFixture(t, models.ImportJobComplete)
	keep := f.vault.addChunk("c1", 0, "a")
	drop := f.vault.addChunk("c1", 1, "b")

	deleted, err := f.service.DeleteMemory(context.Background(), f.userID, []uuid.UUID{drop})
	if err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if deleted != 1 {
		t.Fatalf("expected 1 deleted chunk, got %d", deleted)
	}
	if f.tracker.resetCalled {
		t.Fatal("selective delete must not reset memory progress")
	}
	if f.vault.find(keep) == nil {
		t.Fatal("unrelated chunk deleted")
	}
}

func TestExportScanKeepsBoundedBuffers(t *testing.T) {
	scan := newExportScan(3)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := range 50 {
		scan.observe(conversationWithMessages(fmt.Sprintf("c%02d", i), base.Add(time.Duration(i)*time.Hour), i%7+1))
	}

	if scan.conversations != 50 {
		t.Fatalf("expected 50 observed conversations, got %d", scan.conversations)
	}
	if len(scan.newest) != 3 {
		t.Fatalf("newest buffer not bounded: %d", len(scan.newest))
	}

	recent := scan.recentSubset(2)
	if len(recent) != 2 {
		t.Fatalf("expected 2 recent conversations, got %d", len(recent))
	}
	if recent[0].ID != "c49" || recent[1].ID != "c48" {
		t.Fatalf("recent subset not newest-first: %s, %s", recent[0].ID, recent[1].ID)
	}

	// The union never repeats a conversation qualifying under more than
	// one criterion.
	seen := make(map[string]int)
	for _, conv := range scan.sample() {
		seen[conv.ID]++
		if seen[conv.ID] > 1 {
			t.Fatalf("conversation %s sampled twice", conv.ID)
		}
	}
}
