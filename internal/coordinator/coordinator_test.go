package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/raphaelgruber/memfed/internal/chunker"
	"github.com/raphaelgruber/memfed/internal/llm"
	"github.com/raphaelgruber/memfed/internal/loader"
	"github.com/raphaelgruber/memfed/internal/models"
	"github.com/raphaelgruber/memfed/internal/notify"
	"github.com/raphaelgruber/memfed/internal/queue"
	"github.com/raphaelgruber/memfed/internal/status"
)

type fakeQueue struct {
	mu       sync.Mutex
	enqueued []models.IngestionJob
	err      error
}

func (f *fakeQueue) Enqueue(ctx context.Context, job models.IngestionJob) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.enqueued = append(f.enqueued, job)
	return nil
}

func (f *fakeQueue) Receive(ctx context.Context) (*queue.Delivery, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func (f *fakeQueue) Close() error { return nil }

type fakeStatus struct {
	mu        sync.Mutex
	entries   []status.Entry
	completed map[string]bool
	released  []string
}

func newFakeStatus() *fakeStatus {
	return &fakeStatus{completed: make(map[string]bool)}
}

func (f *fakeStatus) Set(ctx context.Context, entry status.Entry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = append(f.entries, entry)
	return nil
}

func (f *fakeStatus) Get(ctx context.Context, batchID, fileID string) (*status.Entry, error) {
	return nil, nil
}

func (f *fakeStatus) Batch(ctx context.Context, batchID string) ([]status.Entry, error) {
	return nil, nil
}

func (f *fakeStatus) CompletedHash(ctx context.Context, hash string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.completed[hash], nil
}

func (f *fakeStatus) MarkHashCompleted(ctx context.Context, hash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if hash != "" {
		f.completed[hash] = true
	}
	return nil
}

func (f *fakeStatus) ReleaseHash(ctx context.Context, hash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if hash != "" {
		f.released = append(f.released, hash)
		delete(f.completed, hash)
	}
	return nil
}

func (f *fakeStatus) statuses() []models.JobStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]models.JobStatus, len(f.entries))
	for i, e := range f.entries {
		out[i] = e.Status
	}
	return out
}

type fakeNotifier struct {
	mu     sync.Mutex
	events []notify.Event
}

func (f *fakeNotifier) Publish(ctx context.Context, event notify.Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
}

type fakeDeadLetters struct {
	mu      sync.Mutex
	records []models.DeadLetterRecord
}

func (f *fakeDeadLetters) Record(ctx context.Context, record models.DeadLetterRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records = append(f.records, record)
	return nil
}

func (f *fakeDeadLetters) List(ctx context.Context, batchID string) ([]models.DeadLetterRecord, error) {
	return nil, nil
}

type fakeSummarizer struct{}

func (fakeSummarizer) SummarizeDocument(ctx context.Context, text string) (string, error) {
	return "summary", nil
}

type fakeVectorIndexer struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (f *fakeVectorIndexer) Index(ctx context.Context, source, docSummary string, chunks []models.Chunk) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.err
}

type fakeGraphIndexer struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (f *fakeGraphIndexer) Extract(ctx context.Context, chunks []models.Chunk) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.err
}

type harness struct {
	coord    *Coordinator
	queue    *fakeQueue
	status   *fakeStatus
	notifier *fakeNotifier
	dead     *fakeDeadLetters
	vec      *fakeVectorIndexer
	gr       *fakeGraphIndexer
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		queue:    &fakeQueue{},
		status:   newFakeStatus(),
		notifier: &fakeNotifier{},
		dead:     &fakeDeadLetters{},
		vec:      &fakeVectorIndexer{},
		gr:       &fakeGraphIndexer{},
	}
	cfg := Config{Workers: 1, MaxAttempts: 3, Chunking: chunker.Config{Size: 100, Overlap: 0}}
	h.coord = New(cfg, h.queue, h.status, h.notifier, h.dead, fakeSummarizer{}, h.vec, h.gr)
	h.coord.load = func(path string) (string, error) {
		return "document body for " + path, nil
	}
	return h
}

func delivery(job models.IngestionJob) (*queue.Delivery, *int) {
	acks := 0
	payload, _ := job.Encode()
	return &queue.Delivery{
		Job:     job,
		Payload: payload,
		Ack: func(ctx context.Context) error {
			acks++
			return nil
		},
	}, &acks
}

func job(file string) models.IngestionJob {
	return models.IngestionJob{
		BatchID:    "batch-1",
		FileID:     file,
		SourcePath: "/docs/" + file + ".md",
		Status:     models.StatusQueued,
	}
}

// statusIndex maps a status to its order of first appearance, -1 if absent.
func statusIndex(statuses []models.JobStatus, s models.JobStatus) int {
	for i, got := range statuses {
		if got == s {
			return i
		}
	}
	return -1
}

func TestHandle_HappyPathTransitions(t *testing.T) {
	h := newHarness(t)
	d, acks := delivery(job("file-1"))

	h.coord.Handle(context.Background(), d)

	statuses := h.status.statuses()
	want := []models.JobStatus{
		models.StatusProcessing,
		models.StatusChunking,
		models.StatusEmbedding,
		models.StatusGraphExtracting,
		models.StatusDone,
	}
	prev := -1
	for _, s := range want {
		idx := statusIndex(statuses, s)
		if idx < 0 {
			t.Fatalf("status %s never recorded; got %v", s, statuses)
		}
		if idx < prev {
			t.Errorf("status %s recorded out of order; got %v", s, statuses)
		}
		prev = idx
	}

	if *acks != 1 {
		t.Errorf("acks = %d, want 1", *acks)
	}
	if h.vec.calls != 1 || h.gr.calls != 1 {
		t.Errorf("indexer calls = %d vector, %d graph; want 1 each", h.vec.calls, h.gr.calls)
	}
	if len(h.dead.records) != 0 {
		t.Errorf("unexpected dead letters: %v", h.dead.records)
	}
}

func TestHandle_UnparsableFileFailsWithoutRetry(t *testing.T) {
	h := newHarness(t)
	h.coord.load = func(path string) (string, error) {
		return "", fmt.Errorf("%s: %w", path, loader.ErrUnparsable)
	}
	d, acks := delivery(job("file-1"))

	h.coord.Handle(context.Background(), d)

	if len(h.queue.enqueued) != 0 {
		t.Error("unparsable file must not be requeued")
	}
	if len(h.dead.records) != 1 {
		t.Fatalf("dead letters = %d, want 1", len(h.dead.records))
	}
	if h.dead.records[0].FailureStage != models.StatusProcessing {
		t.Errorf("failure stage = %s, want PROCESSING", h.dead.records[0].FailureStage)
	}
	if *acks != 1 {
		t.Errorf("acks = %d, want 1 (failed job must still commit)", *acks)
	}

	statuses := h.status.statuses()
	if statuses[len(statuses)-1] != models.StatusFailed {
		t.Errorf("final status = %s, want FAILED", statuses[len(statuses)-1])
	}
}

func TestHandle_TransientFailureRequeues(t *testing.T) {
	h := newHarness(t)
	h.vec.err = llm.Transient("embed", errors.New("connection refused"))
	d, acks := delivery(job("file-1"))

	h.coord.Handle(context.Background(), d)

	if len(h.queue.enqueued) != 1 {
		t.Fatalf("enqueued = %d, want 1 requeue", len(h.queue.enqueued))
	}
	requeued := h.queue.enqueued[0]
	if requeued.AttemptCount != 1 {
		t.Errorf("requeued attempt count = %d, want 1", requeued.AttemptCount)
	}
	if requeued.Status != models.StatusQueued {
		t.Errorf("requeued status = %s, want QUEUED", requeued.Status)
	}
	if len(h.dead.records) != 0 {
		t.Error("transient failure with budget left must not dead-letter")
	}
	if *acks != 1 {
		t.Errorf("acks = %d, want 1 (original message commits after requeue)", *acks)
	}
}

func TestHandle_ExhaustedRetriesDeadLetter(t *testing.T) {
	h := newHarness(t)
	h.gr.err = llm.Transient("extract", errors.New("connection refused"))

	j := job("file-1")
	j.AttemptCount = 2 // third delivery exhausts MaxAttempts=3
	d, _ := delivery(j)

	h.coord.Handle(context.Background(), d)

	if len(h.queue.enqueued) != 0 {
		t.Error("exhausted job must not requeue again")
	}
	if len(h.dead.records) != 1 {
		t.Fatalf("dead letters = %d, want 1", len(h.dead.records))
	}
	if h.dead.records[0].FailureStage != models.StatusGraphExtracting {
		t.Errorf("failure stage = %s, want GRAPH_EXTRACTING", h.dead.records[0].FailureStage)
	}
	if len(h.dead.records[0].PayloadSnapshot) == 0 {
		t.Error("dead letter lost its payload snapshot")
	}
}

func TestHandle_FatalModelErrorDeadLettersImmediately(t *testing.T) {
	h := newHarness(t)
	h.vec.err = llm.Fatal("embed", errors.New("invalid api key"))

	j := job("file-1")
	j.ContentHash = "abc123"
	d, _ := delivery(j)

	h.coord.Handle(context.Background(), d)

	if len(h.queue.enqueued) != 0 {
		t.Error("fatal failure must not requeue")
	}
	if len(h.dead.records) != 1 {
		t.Fatalf("dead letters = %d, want 1", len(h.dead.records))
	}
	if len(h.status.released) != 1 || h.status.released[0] != "abc123" {
		t.Errorf("released hashes = %v, want the job's hash", h.status.released)
	}
}

func TestHandle_CompletedHashSkips(t *testing.T) {
	h := newHarness(t)
	h.status.completed["abc123"] = true

	j := job("file-1")
	j.ContentHash = "abc123"
	d, acks := delivery(j)

	h.coord.Handle(context.Background(), d)

	if h.vec.calls != 0 || h.gr.calls != 0 {
		t.Error("skipped job must not run pipeline stages")
	}
	statuses := h.status.statuses()
	if len(statuses) != 1 || statuses[0] != models.StatusDone {
		t.Errorf("statuses = %v, want a single DONE", statuses)
	}
	if *acks != 1 {
		t.Errorf("acks = %d, want 1", *acks)
	}
}

func TestHandle_SuccessMarksHash(t *testing.T) {
	h := newHarness(t)
	j := job("file-1")
	j.ContentHash = "abc123"
	d, _ := delivery(j)

	h.coord.Handle(context.Background(), d)

	if !h.status.completed["abc123"] {
		t.Error("completed hash not recorded")
	}
}

func TestHandle_OneBadFileDoesNotStopOthers(t *testing.T) {
	h := newHarness(t)
	h.coord.load = func(path string) (string, error) {
		if path == "/docs/bad.md" {
			return "", fmt.Errorf("%s: %w", path, loader.ErrUnparsable)
		}
		return "fine document", nil
	}

	bad, _ := delivery(job("bad"))
	good, _ := delivery(job("good"))
	h.coord.Handle(context.Background(), bad)
	h.coord.Handle(context.Background(), good)

	if len(h.dead.records) != 1 {
		t.Fatalf("dead letters = %d, want 1", len(h.dead.records))
	}

	var goodDone bool
	for _, e := range h.status.entries {
		if e.FileID == "good" && e.Status == models.StatusDone {
			goodDone = true
		}
	}
	if !goodDone {
		t.Error("good file never reached DONE")
	}
}

func TestHandle_RequeueFailureLeavesMessageUncommitted(t *testing.T) {
	h := newHarness(t)
	h.vec.err = llm.Transient("embed", errors.New("connection refused"))
	h.queue.err = errors.New("kafka down")
	d, acks := delivery(job("file-1"))

	h.coord.Handle(context.Background(), d)

	if *acks != 0 {
		t.Errorf("acks = %d, want 0 so the broker redelivers", *acks)
	}
}
