package search

import (
	"github.com/google/uuid"

	"github.com/clipsight/clipsight-backend/internal/repos"
)

// GroupIntoMoments collapses bursts of nearby same-video segments into one
// representative each, in a single forward pass.
//
// The input arrives in ANN score order, not time order, so adjacency is only
// ever checked against the row that most recently extended the cluster. That
// makes the clustering approximate and path-dependent; it is the intended
// behavior, not something to re-sort away.
func GroupIntoMoments(hits []repos.SegmentHit, thresholdMs int64) []repos.SegmentHit {
	if len(hits) == 0 {
		return []repos.SegmentHit{}
	}

	type cluster struct {
		videoID   uuid.UUID
		endMs     int64
		best      repos.SegmentHit
		bestScore float64
	}

	moments := make([]repos.SegmentHit, 0, len(hits))
	cur := cluster{
		videoID:   hits[0].VideoID,
		endMs:     hits[0].TimestampMs,
		best:      hits[0],
		bestScore: hits[0].Score,
	}

	for _, hit := range hits[1:] {
		sameVideo := hit.VideoID == cur.videoID
		closeInTime := hit.TimestampMs-cur.endMs <= thresholdMs
		if sameVideo && closeInTime {
			cur.endMs = hit.TimestampMs
			// Strictly greater: equal scores keep the earlier-seen segment.
			if hit.Score > cur.bestScore {
				cur.best = hit
				cur.bestScore = hit.Score
			}
			continue
		}
		moments = append(moments, cur.best)
		cur = cluster{
			videoID:   hit.VideoID,
			endMs:     hit.TimestampMs,
			best:      hit,
			bestScore: hit.Score,
		}
	}
	moments = append(moments, cur.best)
	return moments
}
