package jobs

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/clipsight/clipsight-backend/internal/ingest"
	"github.com/clipsight/clipsight-backend/internal/logger"
)

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New("development")
	if err != nil {
		t.Fatalf("logger.New: %v", err)
	}
	return log
}

type fakeIngest struct {
	done  chan uuid.UUID
	panic bool
}

func (f *fakeIngest) Ingest(ctx context.Context, req ingest.Request) (*ingest.Result, error) {
	defer func() { f.done <- req.VideoID }()
	if f.panic {
		panic("boom")
	}
	return &ingest.Result{VideoID: req.VideoID}, nil
}

func TestWorkerRunsJobAndCleansTempDir(t *testing.T) {
	t.Setenv("INGEST_CONCURRENCY", "1")
	t.Setenv("INGEST_QUEUE_SIZE", "4")

	tempDir, err := os.MkdirTemp("", "worker-test-*")
	if err != nil {
		t.Fatalf("MkdirTemp: %v", err)
	}
	if err := os.WriteFile(filepath.Join(tempDir, "video.mp4"), []byte("x"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	svc := &fakeIngest{done: make(chan uuid.UUID, 1)}
	worker := NewIngestWorker(testLogger(t), svc)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	worker.Start(ctx)

	videoID := uuid.New()
	if err := worker.Enqueue(IngestJob{
		Request: ingest.Request{VideoID: videoID, OwnerID: uuid.New()},
		TempDir: tempDir,
	}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	select {
	case got := <-svc.done:
		if got != videoID {
			t.Fatalf("ran wrong job: %s", got)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("job never ran")
	}

	// Cleanup is deferred after the ingest call returns; poll briefly.
	deadline := time.Now().Add(5 * time.Second)
	for {
		if _, err := os.Stat(tempDir); os.IsNotExist(err) {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("temp dir %s was not removed", tempDir)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestWorkerSurvivesPanickingJob(t *testing.T) {
	t.Setenv("INGEST_CONCURRENCY", "1")
	t.Setenv("INGEST_QUEUE_SIZE", "4")

	svc := &fakeIngest{done: make(chan uuid.UUID, 2), panic: true}
	worker := NewIngestWorker(testLogger(t), svc)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	worker.Start(ctx)

	if err := worker.Enqueue(IngestJob{Request: ingest.Request{VideoID: uuid.New()}}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	select {
	case <-svc.done:
	case <-time.After(5 * time.Second):
		t.Fatalf("first job never ran")
	}

	// The pool must still accept and run work after a panic.
	svc.panic = false
	if err := worker.Enqueue(IngestJob{Request: ingest.Request{VideoID: uuid.New()}}); err != nil {
		t.Fatalf("Enqueue after panic: %v", err)
	}
	select {
	case <-svc.done:
	case <-time.After(5 * time.Second):
		t.Fatalf("worker died after panic")
	}
}

func TestEnqueueRejectsWhenQueueFull(t *testing.T) {
	t.Setenv("INGEST_CONCURRENCY", "1")
	t.Setenv("INGEST_QUEUE_SIZE", "1")

	svc := &fakeIngest{done: make(chan uuid.UUID, 4)}
	worker := NewIngestWorker(testLogger(t), svc)
	// Never started: nothing drains the queue.

	if err := worker.Enqueue(IngestJob{Request: ingest.Request{VideoID: uuid.New()}}); err != nil {
		t.Fatalf("first Enqueue should fit: %v", err)
	}
	if err := worker.Enqueue(IngestJob{Request: ingest.Request{VideoID: uuid.New()}}); err == nil {
		t.Fatalf("second Enqueue should be rejected")
	}
}
