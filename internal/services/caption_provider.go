package services

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"time"

	"github.com/clipsight/clipsight-backend/internal/apperr"
	"github.com/clipsight/clipsight-backend/internal/logger"
	"github.com/clipsight/clipsight-backend/internal/utils"
)

// CaptionProviderService turns frame images into short natural-language
// captions. Batching is part of the contract: one call per frame batch.
type CaptionProviderService interface {
	CaptionBatch(ctx context.Context, jpegBatches [][]byte) ([]string, error)
}

type captionProviderService struct {
	log        *logger.Logger
	baseURL    string
	httpClient *http.Client
	maxRetries int
}

func NewCaptionProviderService(log *logger.Logger) (CaptionProviderService, error) {
	serviceLog := log.With("service", "CaptionProviderService")

	baseURL := utils.GetEnv("INFERENCE_BASE_URL", "http://localhost:8091", log)
	timeoutSec := utils.GetEnvAsInt("INFERENCE_TIMEOUT_SECONDS", 120, log)
	maxRetries := utils.GetEnvAsInt("INFERENCE_MAX_RETRIES", 3, log)

	return &captionProviderService{
		log:        serviceLog,
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: time.Duration(timeoutSec) * time.Second},
		maxRetries: maxRetries,
	}, nil
}

type captionBatchRequest struct {
	ImagesB64 []string `json:"images_b64"`
}

type captionBatchResponse struct {
	Captions []string `json:"captions"`
}

func (s *captionProviderService) CaptionBatch(ctx context.Context, jpegBatches [][]byte) ([]string, error) {
	if len(jpegBatches) == 0 {
		return []string{}, nil
	}
	req := captionBatchRequest{ImagesB64: make([]string, 0, len(jpegBatches))}
	for _, b := range jpegBatches {
		req.ImagesB64 = append(req.ImagesB64, base64.StdEncoding.EncodeToString(b))
	}
	var out captionBatchResponse
	if err := postJSON(ctx, s.httpClient, s.maxRetries, s.baseURL+"/v1/captions", nil, req, &out); err != nil {
		return nil, fmt.Errorf("%w: caption batch: %v", apperr.ErrProvider, err)
	}
	if len(out.Captions) != len(jpegBatches) {
		return nil, fmt.Errorf("%w: caption count mismatch (got %d want %d)", apperr.ErrProvider, len(out.Captions), len(jpegBatches))
	}
	return out.Captions, nil
}
