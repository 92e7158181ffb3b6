package ingest

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
	"gorm.io/gorm"

	"github.com/clipsight/clipsight-backend/internal/apperr"
	"github.com/clipsight/clipsight-backend/internal/logger"
	"github.com/clipsight/clipsight-backend/internal/media"
	"github.com/clipsight/clipsight-backend/internal/repos"
	"github.com/clipsight/clipsight-backend/internal/services"
	"github.com/clipsight/clipsight-backend/internal/types"
)

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New("development")
	if err != nil {
		t.Fatalf("logger.New: %v", err)
	}
	return log
}

type fakeProbe struct {
	info       *media.VideoInfo
	probeErr   error
	frameCount int
}

func (f *fakeProbe) Probe(ctx context.Context, path string) (*media.VideoInfo, error) {
	if f.probeErr != nil {
		return nil, f.probeErr
	}
	return f.info, nil
}

func (f *fakeProbe) StreamFrames(ctx context.Context, path string, fps float64, fn media.FrameFunc) error {
	frame := image.NewNRGBA(image.Rect(0, 0, 4, 4))
	for i := 0; i < f.frameCount; i++ {
		ts := int64(float64(i) / fps * 1000)
		if err := fn(ts, frame); err != nil {
			return err
		}
	}
	return nil
}

type fakeBucket struct {
	mu        sync.Mutex
	uploads   []string
	uploadErr map[string]error
}

func (f *fakeBucket) Upload(ctx context.Context, category services.BucketCategory, key string, data io.Reader, contentType string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.uploadErr[key]; ok {
		return "", err
	}
	f.uploads = append(f.uploads, string(category)+"/"+key)
	return string(category) + "/" + key, nil
}

func (f *fakeBucket) SignedURL(ctx context.Context, category services.BucketCategory, key string, expiresIn time.Duration) (string, error) {
	return "https://signed.example.com/" + key, nil
}

func (f *fakeBucket) Download(ctx context.Context, category services.BucketCategory, key string, destPath string) error {
	return nil
}

func (f *fakeBucket) StoredRef(category services.BucketCategory, key string) string {
	return string(category) + "/" + key
}

func (f *fakeBucket) KeyFromRef(category services.BucketCategory, ref string) string {
	return strings.TrimPrefix(ref, string(category)+"/")
}

type fakeEmbedder struct {
	mu         sync.Mutex
	batchSizes []int
	batchErr   error
}

func (f *fakeEmbedder) EncodeText(ctx context.Context, text string) ([]float32, error) {
	return []float32{1, 0, 0}, nil
}

func (f *fakeEmbedder) EncodeImage(ctx context.Context, jpegBytes []byte) ([]float32, error) {
	return []float32{1, 0, 0}, nil
}

func (f *fakeEmbedder) EncodeImageBatch(ctx context.Context, jpegBatches [][]byte) ([][]float32, error) {
	f.mu.Lock()
	f.batchSizes = append(f.batchSizes, len(jpegBatches))
	f.mu.Unlock()
	if f.batchErr != nil {
		return nil, f.batchErr
	}
	out := make([][]float32, len(jpegBatches))
	for i := range out {
		out[i] = []float32{1, 0, 0}
	}
	return out, nil
}

func (f *fakeEmbedder) Dim() int { return 3 }

type fakeCaptioner struct{}

func (f *fakeCaptioner) CaptionBatch(ctx context.Context, jpegBatches [][]byte) ([]string, error) {
	out := make([]string, len(jpegBatches))
	for i := range out {
		out[i] = fmt.Sprintf("caption %d", i)
	}
	return out, nil
}

type fakeVideoRepo struct {
	mu        sync.Mutex
	upserts   []*types.Video
	statuses  []string
	errorMsgs []*string
	thumbnail string
}

func (f *fakeVideoRepo) Upsert(ctx context.Context, tx *gorm.DB, video *types.Video) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.upserts = append(f.upserts, video)
	f.statuses = append(f.statuses, video.Status)
	f.errorMsgs = append(f.errorMsgs, video.ErrorMsg)
	return nil
}

func (f *fakeVideoRepo) GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.Video, error) {
	return nil, apperr.ErrNotFound
}

func (f *fakeVideoRepo) UpdateStatus(ctx context.Context, tx *gorm.DB, id uuid.UUID, status string, errorMsg *string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses = append(f.statuses, status)
	f.errorMsgs = append(f.errorMsgs, errorMsg)
	return nil
}

func (f *fakeVideoRepo) SetThumbnail(ctx context.Context, tx *gorm.DB, id uuid.UUID, thumbnailURL string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.thumbnail = thumbnailURL
	return nil
}

func (f *fakeVideoRepo) ListByOwner(ctx context.Context, tx *gorm.DB, ownerID uuid.UUID, limit int) ([]*types.Video, error) {
	return nil, nil
}

func (f *fakeVideoRepo) Delete(ctx context.Context, tx *gorm.DB, id uuid.UUID) error {
	return nil
}

func (f *fakeVideoRepo) lastStatus() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.statuses) == 0 {
		return ""
	}
	return f.statuses[len(f.statuses)-1]
}

type fakeSegmentRepo struct {
	mu       sync.Mutex
	segments []*types.Segment
}

func (f *fakeSegmentRepo) Create(ctx context.Context, tx *gorm.DB, segment *types.Segment) (*types.Segment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.segments = append(f.segments, segment)
	return segment, nil
}

func (f *fakeSegmentRepo) CreateBatch(ctx context.Context, tx *gorm.DB, segments []*types.Segment) ([]*types.Segment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.segments = append(f.segments, segments...)
	return segments, nil
}

func (f *fakeSegmentRepo) CountByVideo(ctx context.Context, tx *gorm.DB, videoID uuid.UUID) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return int64(len(f.segments)), nil
}

func (f *fakeSegmentRepo) Search(ctx context.Context, tx *gorm.DB, query pgvector.Vector, params repos.SegmentSearchParams) ([]repos.SegmentHit, error) {
	return nil, nil
}

type testDeps struct {
	probe    *fakeProbe
	bucket   *fakeBucket
	embedder *fakeEmbedder
	videos   *fakeVideoRepo
	segments *fakeSegmentRepo
}

func newTestService(t *testing.T, frameCount int) (Service, *testDeps) {
	t.Helper()
	deps := &testDeps{
		probe: &fakeProbe{
			info:       &media.VideoInfo{DurationMs: 10000, Width: 640, Height: 480, FPS: 30},
			frameCount: frameCount,
		},
		bucket:   &fakeBucket{},
		embedder: &fakeEmbedder{},
		videos:   &fakeVideoRepo{},
		segments: &fakeSegmentRepo{},
	}
	svc := NewService(testLogger(t), deps.probe, deps.bucket, deps.embedder, &fakeCaptioner{}, deps.videos, deps.segments)
	return svc, deps
}

func TestIngestHappyPathBatches(t *testing.T) {
	svc, deps := newTestService(t, 5)

	result, err := svc.Ingest(context.Background(), Request{
		VideoPath:     "/tmp/test.mp4",
		VideoID:       uuid.New(),
		OwnerID:       uuid.New(),
		SampleRateFPS: 1.0,
		BatchSize:     2,
	})
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if result.FramesExtracted != 5 {
		t.Fatalf("expected 5 frames extracted, got %d", result.FramesExtracted)
	}
	if result.SegmentsInserted != 5 {
		t.Fatalf("expected 5 segments inserted, got %d", result.SegmentsInserted)
	}
	if result.Status != types.VideoStatusReady {
		t.Fatalf("expected ready status, got %s", result.Status)
	}

	// Batch size 2 over 5 frames: two full batches plus the remainder.
	want := []int{2, 2, 1}
	if len(deps.embedder.batchSizes) != len(want) {
		t.Fatalf("expected %d embed batches, got %v", len(want), deps.embedder.batchSizes)
	}
	for i, size := range want {
		if deps.embedder.batchSizes[i] != size {
			t.Fatalf("batch %d: want size %d, got %v", i, size, deps.embedder.batchSizes)
		}
	}

	if deps.videos.lastStatus() != types.VideoStatusReady {
		t.Fatalf("video row should end ready, got %s", deps.videos.lastStatus())
	}
	if len(deps.segments.segments) != 5 {
		t.Fatalf("expected 5 segment rows, got %d", len(deps.segments.segments))
	}
}

func TestIngestFrameKeyFormat(t *testing.T) {
	svc, deps := newTestService(t, 1)
	ownerID := uuid.New()
	videoID := uuid.New()

	if _, err := svc.Ingest(context.Background(), Request{
		VideoPath: "/tmp/test.mp4",
		VideoID:   videoID,
		OwnerID:   ownerID,
	}); err != nil {
		t.Fatalf("Ingest: %v", err)
	}

	wantFrame := fmt.Sprintf("frames/%s/%s/frame_%08d.jpg", ownerID, videoID, 0)
	found := false
	for _, ref := range deps.bucket.uploads {
		if ref == wantFrame {
			found = true
		}
	}
	if !found {
		t.Fatalf("frame ref %q not uploaded; uploads: %v", wantFrame, deps.bucket.uploads)
	}
	if len(deps.segments.segments) != 1 {
		t.Fatalf("expected 1 segment, got %d", len(deps.segments.segments))
	}
	if deps.segments.segments[0].FrameURL != wantFrame {
		t.Fatalf("segment frame_url %q != %q", deps.segments.segments[0].FrameURL, wantFrame)
	}
}

func TestIngestFirstFrameThumbnail(t *testing.T) {
	svc, deps := newTestService(t, 3)
	ownerID := uuid.New()
	videoID := uuid.New()

	if _, err := svc.Ingest(context.Background(), Request{
		VideoPath: "/tmp/test.mp4",
		VideoID:   videoID,
		OwnerID:   ownerID,
	}); err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	wantThumb := fmt.Sprintf("frames/%s/%s/thumbnail.jpg", ownerID, videoID)
	if deps.videos.thumbnail != wantThumb {
		t.Fatalf("thumbnail ref %q != %q", deps.videos.thumbnail, wantThumb)
	}
}

func TestIngestThumbnailFailureDegrades(t *testing.T) {
	svc, deps := newTestService(t, 2)
	ownerID := uuid.New()
	videoID := uuid.New()
	thumbKey := fmt.Sprintf("%s/%s/thumbnail.jpg", ownerID, videoID)
	deps.bucket.uploadErr = map[string]error{
		thumbKey: fmt.Errorf("%w: bucket unavailable", apperr.ErrStorage),
	}

	result, err := svc.Ingest(context.Background(), Request{
		VideoPath: "/tmp/test.mp4",
		VideoID:   videoID,
		OwnerID:   ownerID,
	})
	if err != nil {
		t.Fatalf("thumbnail failure must not fail ingestion: %v", err)
	}
	if result.Status != types.VideoStatusReady {
		t.Fatalf("expected ready, got %s", result.Status)
	}
	if deps.videos.thumbnail != "" {
		t.Fatalf("thumbnail should be absent, got %q", deps.videos.thumbnail)
	}
}

func TestIngestProbeFailureRecordsErrorStatus(t *testing.T) {
	svc, deps := newTestService(t, 0)
	deps.probe.probeErr = fmt.Errorf("%w: no video stream found", apperr.ErrProbe)

	_, err := svc.Ingest(context.Background(), Request{
		VideoPath: "/tmp/not-a-video.txt",
		VideoID:   uuid.New(),
		OwnerID:   uuid.New(),
	})
	if !errors.Is(err, apperr.ErrProbe) {
		t.Fatalf("expected ErrProbe, got %v", err)
	}
	if deps.videos.lastStatus() != types.VideoStatusError {
		t.Fatalf("video row should be marked error, got %q", deps.videos.lastStatus())
	}
	last := deps.videos.errorMsgs[len(deps.videos.errorMsgs)-1]
	if last == nil || *last == "" {
		t.Fatalf("error status should carry a message")
	}
}

func TestIngestProviderFailureRecordsErrorStatus(t *testing.T) {
	svc, deps := newTestService(t, 3)
	deps.embedder.batchErr = fmt.Errorf("%w: sidecar down", apperr.ErrProvider)

	_, err := svc.Ingest(context.Background(), Request{
		VideoPath:     "/tmp/test.mp4",
		VideoID:       uuid.New(),
		OwnerID:       uuid.New(),
		SampleRateFPS: 1.0,
		BatchSize:     2,
	})
	if !errors.Is(err, apperr.ErrProvider) {
		t.Fatalf("expected ErrProvider, got %v", err)
	}
	if deps.videos.lastStatus() != types.VideoStatusError {
		t.Fatalf("video row should be marked error, got %q", deps.videos.lastStatus())
	}
	if len(deps.segments.segments) != 0 {
		t.Fatalf("no segments should commit when the first batch fails, got %d", len(deps.segments.segments))
	}
}

func TestIngestRetrySameIDAfterError(t *testing.T) {
	svc, deps := newTestService(t, 2)
	videoID := uuid.New()
	ownerID := uuid.New()
	req := Request{VideoPath: "/tmp/test.mp4", VideoID: videoID, OwnerID: ownerID}

	deps.embedder.batchErr = fmt.Errorf("%w: sidecar down", apperr.ErrProvider)
	if _, err := svc.Ingest(context.Background(), req); err == nil {
		t.Fatalf("first run should fail")
	}
	if deps.videos.lastStatus() != types.VideoStatusError {
		t.Fatalf("expected error status after first run, got %q", deps.videos.lastStatus())
	}

	// Same id retries through the upsert path, no manual cleanup needed.
	deps.embedder.batchErr = nil
	result, err := svc.Ingest(context.Background(), req)
	if err != nil {
		t.Fatalf("retry should succeed: %v", err)
	}
	if result.Status != types.VideoStatusReady {
		t.Fatalf("retry should end ready, got %s", result.Status)
	}
	if deps.videos.lastStatus() != types.VideoStatusReady {
		t.Fatalf("video row should end ready, got %q", deps.videos.lastStatus())
	}
	for _, status := range deps.videos.statuses {
		switch status {
		case types.VideoStatusProcessing, types.VideoStatusReady, types.VideoStatusError:
		default:
			t.Fatalf("observed invalid status %q", status)
		}
	}
}

func TestIngestTimestampsFollowSampleRate(t *testing.T) {
	svc, deps := newTestService(t, 4)

	if _, err := svc.Ingest(context.Background(), Request{
		VideoPath:     "/tmp/test.mp4",
		VideoID:       uuid.New(),
		OwnerID:       uuid.New(),
		SampleRateFPS: 2.0,
	}); err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	want := []int64{0, 500, 1000, 1500}
	if len(deps.segments.segments) != len(want) {
		t.Fatalf("expected %d segments, got %d", len(want), len(deps.segments.segments))
	}
	for i, ts := range want {
		if deps.segments.segments[i].TStartMs != ts {
			t.Fatalf("segment %d: want t_start_ms %d, got %d", i, ts, deps.segments.segments[i].TStartMs)
		}
	}
}
