package services

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/clipsight/clipsight-backend/internal/logger"
	"github.com/clipsight/clipsight-backend/internal/utils"
)

// RerankService re-scores search results against their captions with an
// external text-matching oracle. Each pair is independent, so scoring fans
// out over a bounded worker pool; the keep mask comes back in input order
// regardless of completion order.
type RerankService interface {
	// FilterByCaption returns keep[i] == true when captions[i] scores at or
	// above threshold. An empty caption is "no signal" and is dropped
	// without an oracle call. An oracle failure is a non-match for that
	// item only.
	FilterByCaption(ctx context.Context, query string, captions []string, threshold float64) []bool
}

type rerankService struct {
	log    *logger.Logger
	scorer MatchScorer
	width  int
}

func NewRerankService(log *logger.Logger, scorer MatchScorer) RerankService {
	width := utils.GetEnvAsInt("RERANK_CONCURRENCY", 10, log)
	if width < 1 {
		width = 1
	}
	return &rerankService{
		log:    log.With("service", "RerankService"),
		scorer: scorer,
		width:  width,
	}
}

func (s *rerankService) FilterByCaption(ctx context.Context, query string, captions []string, threshold float64) []bool {
	keep := make([]bool, len(captions))
	if len(captions) == 0 {
		return keep
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.width)

	for i, caption := range captions {
		if caption == "" {
			continue
		}
		i, caption := i, caption
		g.Go(func() error {
			score, err := s.scorer.ScoreMatch(gctx, query, caption)
			if err != nil {
				s.log.Warn("Match scoring failed, treating as non-match", "index", i, "error", err)
				return nil
			}
			keep[i] = score >= threshold
			return nil
		})
	}
	// Workers only write disjoint slots and never return errors.
	_ = g.Wait()
	return keep
}
