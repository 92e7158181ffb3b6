package handlers

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/clipsight/clipsight-backend/internal/ingest"
	"github.com/clipsight/clipsight-backend/internal/jobs"
	"github.com/clipsight/clipsight-backend/internal/logger"
	"github.com/clipsight/clipsight-backend/internal/repos"
	"github.com/clipsight/clipsight-backend/internal/services"
	"github.com/clipsight/clipsight-backend/internal/types"
	"github.com/clipsight/clipsight-backend/internal/utils"
)

type VideoHandler struct {
	log           *logger.Logger
	videoRepo     repos.VideoRepo
	bucketService services.BucketService
	worker        *jobs.IngestWorker
	thumbTTL      time.Duration
	thumbFanout   int
}

func NewVideoHandler(log *logger.Logger, vrepo repos.VideoRepo, bsvc services.BucketService, worker *jobs.IngestWorker) *VideoHandler {
	return &VideoHandler{
		log:           log.With("handler", "VideoHandler"),
		videoRepo:     vrepo,
		bucketService: bsvc,
		worker:        worker,
		thumbTTL:      time.Duration(utils.GetEnvAsInt("THUMBNAIL_TTL_SECONDS", 3600, log)) * time.Second,
		thumbFanout:   utils.GetEnvAsInt("THUMBNAIL_URL_CONCURRENCY", 10, log),
	}
}

type UploadResponse struct {
	VideoID string `json:"video_id"`
	OwnerID string `json:"owner_id"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

type VideoResponse struct {
	ID           string  `json:"id"`
	OwnerID      string  `json:"owner_id"`
	URL          string  `json:"url"`
	DurationMs   int64   `json:"duration_ms"`
	Width        *int    `json:"width,omitempty"`
	Height       *int    `json:"height,omitempty"`
	Status       string  `json:"status"`
	ErrorMsg     *string `json:"error_msg,omitempty"`
	ThumbnailURL *string `json:"thumbnail_url,omitempty"`
	CreatedAt    string  `json:"created_at"`
}

func toVideoResponse(v *types.Video) VideoResponse {
	return VideoResponse{
		ID:           v.ID.String(),
		OwnerID:      v.OwnerID.String(),
		URL:          v.URL,
		DurationMs:   v.DurationMs,
		Width:        v.Width,
		Height:       v.Height,
		Status:       v.Status,
		ErrorMsg:     v.ErrorMsg,
		ThumbnailURL: v.ThumbnailURL,
		CreatedAt:    v.CreatedAt.UTC().Format(time.RFC3339),
	}
}

// POST /v1/videos/upload
// Multipart upload; ingestion runs on the worker pool and the caller polls
// the video status for the outcome.
func (h *VideoHandler) Upload(c *gin.Context) {
	ownerID, err := uuid.Parse(c.PostForm("owner_id"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "validation", fmt.Errorf("owner_id must be a valid uuid"))
		return
	}

	fileHeader, err := c.FormFile("file")
	if err != nil {
		RespondError(c, http.StatusBadRequest, "validation", fmt.Errorf("file is required: %v", err))
		return
	}
	contentType := fileHeader.Header.Get("Content-Type")
	if !strings.HasPrefix(contentType, "video/") {
		RespondError(c, http.StatusBadRequest, "validation", fmt.Errorf("file must be a video, got %q", contentType))
		return
	}

	sampleRate := 1.0
	if raw := c.PostForm("fps"); raw != "" {
		parsed, err := strconv.ParseFloat(raw, 64)
		if err != nil || parsed <= 0 {
			RespondError(c, http.StatusBadRequest, "validation", fmt.Errorf("fps must be a positive number"))
			return
		}
		sampleRate = parsed
	}

	videoID := uuid.New()

	tempDir, err := os.MkdirTemp("", "upload-*")
	if err != nil {
		RespondError(c, http.StatusInternalServerError, "internal", fmt.Errorf("create temp dir: %v", err))
		return
	}
	ext := filepath.Ext(fileHeader.Filename)
	if ext == "" {
		ext = ".mp4"
	}
	tempPath := filepath.Join(tempDir, fmt.Sprintf("video_%s%s", videoID, ext))
	if err := c.SaveUploadedFile(fileHeader, tempPath); err != nil {
		_ = os.RemoveAll(tempDir)
		RespondError(c, http.StatusInternalServerError, "internal", fmt.Errorf("save upload: %v", err))
		return
	}

	job := jobs.IngestJob{
		Request: ingest.Request{
			VideoPath:      tempPath,
			VideoID:        videoID,
			OwnerID:        ownerID,
			SampleRateFPS:  sampleRate,
			UploadOriginal: true,
		},
		TempDir: tempDir,
	}
	if err := h.worker.Enqueue(job); err != nil {
		_ = os.RemoveAll(tempDir)
		RespondError(c, http.StatusServiceUnavailable, "overloaded", err)
		return
	}

	h.log.Info("Accepted video upload", "video_id", videoID, "owner_id", ownerID, "filename", fileHeader.Filename, "size", fileHeader.Size)
	c.JSON(http.StatusAccepted, UploadResponse{
		VideoID: videoID.String(),
		OwnerID: ownerID.String(),
		Status:  types.VideoStatusProcessing,
		Message: "Video uploaded successfully. Processing in background.",
	})
}

// GET /v1/videos/:id
func (h *VideoHandler) Get(c *gin.Context) {
	videoID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "validation", fmt.Errorf("id must be a valid uuid"))
		return
	}
	ownerID, err := uuid.Parse(c.Query("owner_id"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "validation", fmt.Errorf("owner_id must be a valid uuid"))
		return
	}

	video, err := h.videoRepo.GetByID(c.Request.Context(), nil, videoID)
	if err != nil {
		RespondAppError(c, err)
		return
	}
	if video.OwnerID != ownerID {
		RespondError(c, http.StatusForbidden, "forbidden", fmt.Errorf("access denied"))
		return
	}
	RespondOK(c, toVideoResponse(video))
}

// GET /v1/videos
// Listing signs thumbnail URLs over a bounded fan-out; a signing failure
// leaves that row's thumbnail as the stored reference-free null.
func (h *VideoHandler) List(c *gin.Context) {
	ownerID, err := uuid.Parse(c.Query("owner_id"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "validation", fmt.Errorf("owner_id must be a valid uuid"))
		return
	}
	limit := 50
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			RespondError(c, http.StatusBadRequest, "validation", fmt.Errorf("limit must be a positive integer"))
			return
		}
		limit = parsed
	}

	videos, err := h.videoRepo.ListByOwner(c.Request.Context(), nil, ownerID, limit)
	if err != nil {
		RespondAppError(c, err)
		return
	}

	results := make([]VideoResponse, len(videos))
	g, gctx := errgroup.WithContext(c.Request.Context())
	g.SetLimit(h.thumbFanout)
	for i, v := range videos {
		i, v := i, v
		g.Go(func() error {
			row := toVideoResponse(v)
			if v.ThumbnailURL != nil {
				key := h.bucketService.KeyFromRef(services.BucketCategoryFrames, *v.ThumbnailURL)
				url, err := h.bucketService.SignedURL(gctx, services.BucketCategoryFrames, key, h.thumbTTL)
				if err != nil {
					h.log.Warn("Failed to sign thumbnail URL", "video_id", v.ID, "error", err)
					row.ThumbnailURL = nil
				} else {
					row.ThumbnailURL = &url
				}
			}
			results[i] = row
			return nil
		})
	}
	_ = g.Wait()

	RespondOK(c, results)
}

// DELETE /v1/videos/:id
// Segments go with the row through the catalog's cascade; frame blobs are
// left behind (no compensating storage cleanup).
func (h *VideoHandler) Delete(c *gin.Context) {
	videoID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "validation", fmt.Errorf("id must be a valid uuid"))
		return
	}
	ownerID, err := uuid.Parse(c.Query("owner_id"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "validation", fmt.Errorf("owner_id must be a valid uuid"))
		return
	}

	video, err := h.videoRepo.GetByID(c.Request.Context(), nil, videoID)
	if err != nil {
		RespondAppError(c, err)
		return
	}
	if video.OwnerID != ownerID {
		RespondError(c, http.StatusForbidden, "forbidden", fmt.Errorf("access denied"))
		return
	}
	if err := h.videoRepo.Delete(c.Request.Context(), nil, videoID); err != nil {
		RespondAppError(c, err)
		return
	}
	RespondOK(c, gin.H{"deleted": videoID.String()})
}
