package search

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
	"golang.org/x/sync/errgroup"

	"github.com/clipsight/clipsight-backend/internal/apperr"
	"github.com/clipsight/clipsight-backend/internal/logger"
	"github.com/clipsight/clipsight-backend/internal/repos"
	"github.com/clipsight/clipsight-backend/internal/services"
	"github.com/clipsight/clipsight-backend/internal/types"
	"github.com/clipsight/clipsight-backend/internal/utils"
)

type Params struct {
	Query    string
	OwnerID  uuid.UUID
	TopK     int
	MinScore float64
	// VideoID scopes the search to one video when non-nil.
	VideoID *uuid.UUID
	// Rerank enables the optional caption-matching oracle stage.
	Rerank          bool
	RerankThreshold float64
}

// Moment is one deduplicated, presentable result: the best-scoring segment
// of a temporal cluster.
type Moment struct {
	VideoID     uuid.UUID `json:"video_id"`
	SegmentID   uuid.UUID `json:"segment_id"`
	TimestampMs int64     `json:"timestamp_ms"`
	Score       float64   `json:"score"`
	PreviewURL  *string   `json:"preview_url"`
	Caption     *string   `json:"caption,omitempty"`
}

type Response struct {
	Results []Moment `json:"results"`
	Query   string   `json:"query"`
	Count   int      `json:"count"`
}

type Service interface {
	Search(ctx context.Context, params Params) (*Response, error)
}

type service struct {
	log          *logger.Logger
	embedder     services.EmbedProviderService
	segments     repos.SegmentRepo
	bucket       services.BucketService
	rerank       services.RerankService
	gapMs        int64
	urlTTL       time.Duration
	urlFanout    int
	defaultTopK  int
	defaultScore float64
}

func NewService(
	log *logger.Logger,
	embedder services.EmbedProviderService,
	segments repos.SegmentRepo,
	bucket services.BucketService,
	rerank services.RerankService,
) Service {
	return &service{
		log:          log.With("service", "SearchService"),
		embedder:     embedder,
		segments:     segments,
		bucket:       bucket,
		rerank:       rerank,
		gapMs:        int64(utils.GetEnvAsInt("SEARCH_MOMENT_GAP_MS", 2000, log)),
		urlTTL:       time.Duration(utils.GetEnvAsInt("SEARCH_PREVIEW_TTL_SECONDS", 3600, log)) * time.Second,
		urlFanout:    utils.GetEnvAsInt("SEARCH_URL_CONCURRENCY", 10, log),
		defaultTopK:  utils.GetEnvAsInt("SEARCH_DEFAULT_TOP_K", 20, log),
		defaultScore: utils.GetEnvAsFloat("SEARCH_DEFAULT_MIN_SCORE", 0.5, log),
	}
}

func (s *service) Search(ctx context.Context, params Params) (*Response, error) {
	query := strings.TrimSpace(params.Query)
	if query == "" {
		return nil, fmt.Errorf("%w: query cannot be empty", apperr.ErrValidation)
	}
	if params.TopK <= 0 {
		params.TopK = s.defaultTopK
	}
	if params.MinScore < 0 {
		params.MinScore = s.defaultScore
	}

	// An encoding failure is a server-side failure, distinct from an empty
	// but valid result set.
	queryVec, err := s.embedder.EncodeText(ctx, query)
	if err != nil {
		return nil, err
	}

	hits, err := s.segments.Search(ctx, nil, pgvector.NewVector(queryVec), repos.SegmentSearchParams{
		OwnerID: params.OwnerID,
		VideoID: params.VideoID,
		Limit:   params.TopK,
	})
	if err != nil {
		return nil, err
	}

	// Inclusive boundary: a hit scoring exactly MinScore survives.
	filtered := hits[:0:0]
	for _, hit := range hits {
		if hit.Score >= params.MinScore {
			filtered = append(filtered, hit)
		}
	}

	moments := GroupIntoMoments(filtered, s.gapMs)
	if len(moments) > params.TopK {
		moments = moments[:params.TopK]
	}

	results := s.materialize(ctx, moments)

	if params.Rerank && s.rerank != nil {
		results = s.applyRerank(ctx, query, results, params.RerankThreshold)
	}

	s.log.Debug("Search complete", "query", query, "candidates", len(hits), "above_threshold", len(filtered), "moments", len(results))
	return &Response{Results: results, Query: query, Count: len(results)}, nil
}

// materialize builds the response rows and signs preview URLs over a bounded
// fan-out. Per-item signing failure degrades that item's preview to null;
// results keep the clustering order.
func (s *service) materialize(ctx context.Context, moments []repos.SegmentHit) []Moment {
	results := make([]Moment, len(moments))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.urlFanout)
	for i, m := range moments {
		i, m := i, m
		g.Go(func() error {
			row := Moment{
				VideoID:     m.VideoID,
				SegmentID:   m.SegmentID,
				TimestampMs: m.TimestampMs,
				Score:       m.Score,
			}
			if text, ok := types.CaptionText(m.Caption); ok {
				row.Caption = &text
			}
			key := s.bucket.KeyFromRef(services.BucketCategoryFrames, m.FrameURL)
			url, err := s.bucket.SignedURL(gctx, services.BucketCategoryFrames, key, s.urlTTL)
			if err != nil {
				s.log.Warn("Failed to sign preview URL", "frame_url", m.FrameURL, "error", err)
			} else {
				row.PreviewURL = &url
			}
			results[i] = row
			return nil
		})
	}
	// Workers write disjoint slots and never return errors.
	_ = g.Wait()
	return results
}

func (s *service) applyRerank(ctx context.Context, query string, results []Moment, threshold float64) []Moment {
	if threshold <= 0 {
		threshold = 0.7
	}
	captions := make([]string, len(results))
	for i, r := range results {
		if r.Caption != nil {
			captions[i] = *r.Caption
		}
	}
	keep := s.rerank.FilterByCaption(ctx, query, captions, threshold)
	out := results[:0:0]
	for i, r := range results {
		if keep[i] {
			out = append(out, r)
		}
	}
	return out
}
