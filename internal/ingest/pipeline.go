package ingest

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"

	"github.com/clipsight/clipsight-backend/internal/logger"
	"github.com/clipsight/clipsight-backend/internal/media"
	"github.com/clipsight/clipsight-backend/internal/repos"
	"github.com/clipsight/clipsight-backend/internal/services"
	"github.com/clipsight/clipsight-backend/internal/types"
)

const (
	frameJPEGQuality     = 85
	thumbnailJPEGQuality = 90
	thumbnailMaxSize     = 320
)

type Request struct {
	VideoPath     string
	VideoID       uuid.UUID
	OwnerID       uuid.UUID
	SampleRateFPS float64
	BatchSize     int
	// UploadOriginal stores the source file in the videos bucket; otherwise
	// the record keeps a local placeholder reference.
	UploadOriginal bool
}

type Result struct {
	VideoID          uuid.UUID `json:"video_id"`
	DurationMs       int64     `json:"duration_ms"`
	FramesExtracted  int       `json:"frames_extracted"`
	SegmentsInserted int       `json:"segments_inserted"`
	Status           string    `json:"status"`
}

// Service turns a raw video file into embedded, captioned segments with a
// durable status lifecycle on the video row.
type Service interface {
	Ingest(ctx context.Context, req Request) (*Result, error)
}

type service struct {
	log      *logger.Logger
	probe    media.ProbeService
	bucket   services.BucketService
	embedder services.EmbedProviderService
	captions services.CaptionProviderService
	videos   repos.VideoRepo
	segments repos.SegmentRepo
}

func NewService(
	log *logger.Logger,
	probe media.ProbeService,
	bucket services.BucketService,
	embedder services.EmbedProviderService,
	captions services.CaptionProviderService,
	videos repos.VideoRepo,
	segments repos.SegmentRepo,
) Service {
	return &service{
		log:      log.With("service", "IngestService"),
		probe:    probe,
		bucket:   bucket,
		embedder: embedder,
		captions: captions,
		videos:   videos,
		segments: segments,
	}
}

func (s *service) Ingest(ctx context.Context, req Request) (*Result, error) {
	if req.SampleRateFPS <= 0 {
		req.SampleRateFPS = 1.0
	}
	if req.BatchSize <= 0 {
		req.BatchSize = 10
	}
	runLog := s.log.With("video_id", req.VideoID, "owner_id", req.OwnerID)
	runLog.Info("Starting ingestion", "path", req.VideoPath, "fps", req.SampleRateFPS, "batch_size", req.BatchSize)

	result, err := s.run(ctx, req, runLog)
	if err != nil {
		// Best-effort terminal status; the caller already has the primary
		// error, so a failed update is only logged.
		msg := err.Error()
		statusCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		if updErr := s.videos.UpdateStatus(statusCtx, nil, req.VideoID, types.VideoStatusError, &msg); updErr != nil {
			runLog.Warn("Failed to record error status", "error", updErr)
		}
		return nil, err
	}
	return result, nil
}

func (s *service) run(ctx context.Context, req Request, runLog *logger.Logger) (*Result, error) {
	// Step 1: container metadata. Fails fast when no video stream exists.
	info, err := s.probe.Probe(ctx, req.VideoPath)
	if err != nil {
		return nil, err
	}
	runLog.Info("Probed video", "duration_ms", info.DurationMs, "width", info.Width, "height", info.Height, "fps", info.FPS)

	// Step 2: optional original upload.
	videoRef := fmt.Sprintf("local://%s", req.VideoPath)
	if req.UploadOriginal {
		f, err := os.Open(req.VideoPath)
		if err != nil {
			return nil, fmt.Errorf("open source video: %w", err)
		}
		key := fmt.Sprintf("%s/%s/%s", req.OwnerID, req.VideoID, filepath.Base(req.VideoPath))
		ref, upErr := s.bucket.Upload(ctx, services.BucketCategoryVideos, key, f, "video/mp4")
		f.Close()
		if upErr != nil {
			return nil, upErr
		}
		videoRef = ref
		runLog.Info("Uploaded original video", "ref", ref)
	}

	// Step 3: video row enters the processing state. Upsert semantics make
	// re-ingestion under the same id a plain retry.
	video := &types.Video{
		ID:         req.VideoID,
		OwnerID:    req.OwnerID,
		URL:        videoRef,
		DurationMs: info.DurationMs,
		Status:     types.VideoStatusProcessing,
	}
	if info.Width > 0 {
		video.Width = &info.Width
	}
	if info.Height > 0 {
		video.Height = &info.Height
	}
	if err := s.videos.Upsert(ctx, nil, video); err != nil {
		return nil, err
	}

	// Steps 5-6: stream frames and process per batch.
	var (
		frameBuf         []frameItem
		framesExtracted  int
		segmentsInserted int
		thumbnailDone    bool
	)
	streamErr := s.probe.StreamFrames(ctx, req.VideoPath, req.SampleRateFPS, func(timestampMs int64, frame image.Image) error {
		if !thumbnailDone {
			// Synchronous on the first frame so clients can poll for a
			// thumbnail before ingestion completes. Failure degrades to a
			// missing thumbnail.
			if err := s.uploadThumbnail(ctx, req, frame); err != nil {
				runLog.Warn("Thumbnail upload failed, continuing without", "error", err)
			}
			thumbnailDone = true
		}

		jpegBytes, err := media.EncodeJPEG(frame, frameJPEGQuality)
		if err != nil {
			return fmt.Errorf("encode frame at %dms: %w", timestampMs, err)
		}
		frameBuf = append(frameBuf, frameItem{timestampMs: timestampMs, jpegBytes: jpegBytes})
		framesExtracted++

		if len(frameBuf) >= req.BatchSize {
			inserted, err := s.processBatch(ctx, req, frameBuf)
			segmentsInserted += inserted
			if err != nil {
				return err
			}
			frameBuf = frameBuf[:0]
		}
		return nil
	})
	if streamErr != nil {
		return nil, streamErr
	}
	if len(frameBuf) > 0 {
		inserted, err := s.processBatch(ctx, req, frameBuf)
		segmentsInserted += inserted
		if err != nil {
			return nil, err
		}
	}

	// Step 7: terminal ready state.
	if err := s.videos.UpdateStatus(ctx, nil, req.VideoID, types.VideoStatusReady, nil); err != nil {
		return nil, err
	}
	runLog.Info("Ingestion complete", "frames_extracted", framesExtracted, "segments_inserted", segmentsInserted)

	return &Result{
		VideoID:          req.VideoID,
		DurationMs:       info.DurationMs,
		FramesExtracted:  framesExtracted,
		SegmentsInserted: segmentsInserted,
		Status:           types.VideoStatusReady,
	}, nil
}

type frameItem struct {
	timestampMs int64
	jpegBytes   []byte
}

func (s *service) uploadThumbnail(ctx context.Context, req Request, frame image.Image) error {
	thumb := media.Thumbnail(frame, thumbnailMaxSize)
	jpegBytes, err := media.EncodeJPEG(thumb, thumbnailJPEGQuality)
	if err != nil {
		return err
	}
	key := fmt.Sprintf("%s/%s/thumbnail.jpg", req.OwnerID, req.VideoID)
	ref, err := s.bucket.Upload(ctx, services.BucketCategoryFrames, key, bytes.NewReader(jpegBytes), "image/jpeg")
	if err != nil {
		return err
	}
	return s.videos.SetThumbnail(ctx, nil, req.VideoID, ref)
}

// processBatch embeds and captions the whole batch in single provider calls,
// then uploads each frame and inserts its segment row. Upload precedes
// insert for every frame, so a mid-batch crash leaves orphaned blobs, never
// dangling segment references. Returns how many segments were committed
// even when it fails partway.
func (s *service) processBatch(ctx context.Context, req Request, batch []frameItem) (int, error) {
	jpegs := make([][]byte, 0, len(batch))
	for _, item := range batch {
		jpegs = append(jpegs, item.jpegBytes)
	}

	embeddings, err := s.embedder.EncodeImageBatch(ctx, jpegs)
	if err != nil {
		return 0, err
	}
	captions, err := s.captions.CaptionBatch(ctx, jpegs)
	if err != nil {
		return 0, err
	}

	inserted := 0
	for i, item := range batch {
		key := fmt.Sprintf("%s/%s/frame_%08d.jpg", req.OwnerID, req.VideoID, item.timestampMs)
		ref, err := s.bucket.Upload(ctx, services.BucketCategoryFrames, key, bytes.NewReader(item.jpegBytes), "image/jpeg")
		if err != nil {
			return inserted, err
		}
		segment := &types.Segment{
			VideoID:  req.VideoID,
			TStartMs: item.timestampMs,
			TEndMs:   item.timestampMs,
			Modality: types.ModalityVision,
			FrameURL: ref,
			Emb:      pgvector.NewVector(embeddings[i]),
			Caption:  types.MarshalCaption(&types.CaptionPayload{Text: captions[i]}),
		}
		if _, err := s.segments.Create(ctx, nil, segment); err != nil {
			return inserted, err
		}
		inserted++
	}
	return inserted, nil
}
