package jobs

import (
	"context"
	"fmt"
	"os"

	"github.com/clipsight/clipsight-backend/internal/ingest"
	"github.com/clipsight/clipsight-backend/internal/logger"
	"github.com/clipsight/clipsight-backend/internal/utils"
)

// IngestJob is one queued ingestion run. TempDir, when set, is removed after
// the run regardless of outcome.
type IngestJob struct {
	Request ingest.Request
	TempDir string
}

// IngestWorker runs ingestion jobs on a fixed pool of goroutines. Upload
// handlers enqueue and return immediately; outcome is observable through the
// video status field.
type IngestWorker struct {
	log     *logger.Logger
	ingest  ingest.Service
	queue   chan IngestJob
	workers int
}

func NewIngestWorker(baseLog *logger.Logger, svc ingest.Service) *IngestWorker {
	workers := utils.GetEnvAsInt("INGEST_CONCURRENCY", 2, baseLog)
	if workers < 1 {
		workers = 1
	}
	queueSize := utils.GetEnvAsInt("INGEST_QUEUE_SIZE", 32, baseLog)
	if queueSize < 1 {
		queueSize = 1
	}
	return &IngestWorker{
		log:     baseLog.With("component", "IngestWorker"),
		ingest:  svc,
		queue:   make(chan IngestJob, queueSize),
		workers: workers,
	}
}

func (w *IngestWorker) Start(ctx context.Context) {
	w.log.Info("Starting ingest worker pool", "concurrency", w.workers, "queue_size", cap(w.queue))
	for i := 0; i < w.workers; i++ {
		workerID := i + 1
		go w.runLoop(ctx, workerID)
	}
}

// Enqueue hands a job to the pool without blocking; a full queue is an
// error so the upload handler can reject rather than hang.
func (w *IngestWorker) Enqueue(job IngestJob) error {
	select {
	case w.queue <- job:
		return nil
	default:
		return fmt.Errorf("ingest queue full (%d pending)", cap(w.queue))
	}
}

func (w *IngestWorker) runLoop(ctx context.Context, workerID int) {
	for {
		select {
		case <-ctx.Done():
			w.log.Info("Worker loop stopped", "worker_id", workerID)
			return
		case job := <-w.queue:
			w.runJob(ctx, workerID, job)
		}
	}
}

func (w *IngestWorker) runJob(ctx context.Context, workerID int, job IngestJob) {
	defer func() {
		if r := recover(); r != nil {
			w.log.Error("Ingest job panic",
				"worker_id", workerID,
				"video_id", job.Request.VideoID,
				"panic", r,
			)
		}
		if job.TempDir != "" {
			if err := os.RemoveAll(job.TempDir); err != nil {
				w.log.Warn("Failed to clean up temp dir", "dir", job.TempDir, "error", err)
			}
		}
	}()

	if _, err := w.ingest.Ingest(ctx, job.Request); err != nil {
		// The pipeline already recorded status=error on the video row.
		w.log.Warn("Ingestion failed",
			"worker_id", workerID,
			"video_id", job.Request.VideoID,
			"error", err,
		)
	}
}
