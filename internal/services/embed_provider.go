package services

import (
	"context"
	"encoding/base64"
	"fmt"
	"math"
	"net/http"
	"time"

	"github.com/clipsight/clipsight-backend/internal/apperr"
	"github.com/clipsight/clipsight-backend/internal/logger"
	"github.com/clipsight/clipsight-backend/internal/utils"
)

// EmbedProviderService maps images and text into a shared embedding space.
// The backing model runs in an inference sidecar; vectors come back
// unit-L2-normalized at a fixed dimension.
type EmbedProviderService interface {
	EncodeText(ctx context.Context, text string) ([]float32, error)
	EncodeImage(ctx context.Context, jpegBytes []byte) ([]float32, error)
	EncodeImageBatch(ctx context.Context, jpegBatches [][]byte) ([][]float32, error)
	Dim() int
}

type embedProviderService struct {
	log        *logger.Logger
	baseURL    string
	dim        int
	httpClient *http.Client
	maxRetries int
}

func NewEmbedProviderService(log *logger.Logger) (EmbedProviderService, error) {
	serviceLog := log.With("service", "EmbedProviderService")

	baseURL := utils.GetEnv("INFERENCE_BASE_URL", "http://localhost:8091", log)
	dim := utils.GetEnvAsInt("EMB_DIM", 512, log)
	timeoutSec := utils.GetEnvAsInt("INFERENCE_TIMEOUT_SECONDS", 120, log)
	maxRetries := utils.GetEnvAsInt("INFERENCE_MAX_RETRIES", 3, log)

	return &embedProviderService{
		log:        serviceLog,
		baseURL:    baseURL,
		dim:        dim,
		httpClient: &http.Client{Timeout: time.Duration(timeoutSec) * time.Second},
		maxRetries: maxRetries,
	}, nil
}

func (s *embedProviderService) Dim() int { return s.dim }

type embedTextRequest struct {
	Text string `json:"text"`
}

type embedTextResponse struct {
	Embedding []float32 `json:"embedding"`
}

type embedImagesRequest struct {
	ImagesB64 []string `json:"images_b64"`
}

type embedImagesResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

func (s *embedProviderService) EncodeText(ctx context.Context, text string) ([]float32, error) {
	var out embedTextResponse
	if err := s.post(ctx, "/v1/embed/text", embedTextRequest{Text: text}, &out); err != nil {
		return nil, fmt.Errorf("%w: encode text: %v", apperr.ErrProvider, err)
	}
	vec, err := s.checkVector(out.Embedding)
	if err != nil {
		return nil, err
	}
	return vec, nil
}

func (s *embedProviderService) EncodeImage(ctx context.Context, jpegBytes []byte) ([]float32, error) {
	vecs, err := s.EncodeImageBatch(ctx, [][]byte{jpegBytes})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (s *embedProviderService) EncodeImageBatch(ctx context.Context, jpegBatches [][]byte) ([][]float32, error) {
	if len(jpegBatches) == 0 {
		return [][]float32{}, nil
	}
	req := embedImagesRequest{ImagesB64: make([]string, 0, len(jpegBatches))}
	for _, b := range jpegBatches {
		req.ImagesB64 = append(req.ImagesB64, base64.StdEncoding.EncodeToString(b))
	}
	var out embedImagesResponse
	if err := s.post(ctx, "/v1/embed/images", req, &out); err != nil {
		return nil, fmt.Errorf("%w: encode image batch: %v", apperr.ErrProvider, err)
	}
	if len(out.Embeddings) != len(jpegBatches) {
		return nil, fmt.Errorf("%w: embedding count mismatch (got %d want %d)", apperr.ErrProvider, len(out.Embeddings), len(jpegBatches))
	}
	vecs := make([][]float32, 0, len(out.Embeddings))
	for _, e := range out.Embeddings {
		v, err := s.checkVector(e)
		if err != nil {
			return nil, err
		}
		vecs = append(vecs, v)
	}
	return vecs, nil
}

// checkVector enforces the provider contract: fixed dimension, unit L2 norm.
// Mild drift is renormalized; a zero vector is an error.
func (s *embedProviderService) checkVector(vec []float32) ([]float32, error) {
	if len(vec) != s.dim {
		return nil, fmt.Errorf("%w: embedding dim mismatch (got %d want %d)", apperr.ErrProvider, len(vec), s.dim)
	}
	norm := l2Norm(vec)
	if norm == 0 {
		return nil, fmt.Errorf("%w: zero embedding vector", apperr.ErrProvider)
	}
	if math.Abs(norm-1.0) > 1e-2 {
		inv := float32(1.0 / norm)
		for i := range vec {
			vec[i] *= inv
		}
	}
	return vec, nil
}

func l2Norm(vec []float32) float64 {
	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	return math.Sqrt(sum)
}

func (s *embedProviderService) post(ctx context.Context, path string, payload interface{}, out interface{}) error {
	return postJSON(ctx, s.httpClient, s.maxRetries, s.baseURL+path, nil, payload, out)
}
