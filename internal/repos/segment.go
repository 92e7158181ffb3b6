package repos

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/clipsight/clipsight-backend/internal/apperr"
	"github.com/clipsight/clipsight-backend/internal/logger"
	"github.com/clipsight/clipsight-backend/internal/types"
)

// SegmentHit is one ANN candidate row: a segment joined to its ready video,
// scored by cosine similarity against the query vector.
type SegmentHit struct {
	SegmentID   uuid.UUID      `gorm:"column:segment_id"`
	VideoID     uuid.UUID      `gorm:"column:video_id"`
	TimestampMs int64          `gorm:"column:t_start_ms"`
	FrameURL    string         `gorm:"column:frame_url"`
	Score       float64        `gorm:"column:score"`
	Caption     datatypes.JSON `gorm:"column:caption"`
}

type SegmentSearchParams struct {
	OwnerID uuid.UUID
	// VideoID scopes the search to one video when non-nil.
	VideoID *uuid.UUID
	Limit   int
}

type SegmentRepo interface {
	Create(ctx context.Context, tx *gorm.DB, segment *types.Segment) (*types.Segment, error)
	CreateBatch(ctx context.Context, tx *gorm.DB, segments []*types.Segment) ([]*types.Segment, error)
	CountByVideo(ctx context.Context, tx *gorm.DB, videoID uuid.UUID) (int64, error)
	// Search returns up to Limit rows ordered by ascending vector distance
	// to the query embedding, filtered to ready videos of the owner.
	Search(ctx context.Context, tx *gorm.DB, query pgvector.Vector, params SegmentSearchParams) ([]SegmentHit, error)
}

type segmentRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewSegmentRepo(db *gorm.DB, baseLog *logger.Logger) SegmentRepo {
	repoLog := baseLog.With("repo", "SegmentRepo")
	return &segmentRepo{db: db, log: repoLog}
}

func (r *segmentRepo) Create(ctx context.Context, tx *gorm.DB, segment *types.Segment) (*types.Segment, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if err := transaction.WithContext(ctx).Create(segment).Error; err != nil {
		return nil, fmt.Errorf("%w: insert segment: %v", apperr.ErrCatalog, err)
	}
	return segment, nil
}

func (r *segmentRepo) CreateBatch(ctx context.Context, tx *gorm.DB, segments []*types.Segment) ([]*types.Segment, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if len(segments) == 0 {
		return []*types.Segment{}, nil
	}

	// Keep batches small because Emb is wide
	const batchSize = 100

	if err := transaction.WithContext(ctx).CreateInBatches(segments, batchSize).Error; err != nil {
		return nil, fmt.Errorf("%w: insert segments: %v", apperr.ErrCatalog, err)
	}
	return segments, nil
}

func (r *segmentRepo) CountByVideo(ctx context.Context, tx *gorm.DB, videoID uuid.UUID) (int64, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var count int64
	err := transaction.WithContext(ctx).Model(&types.Segment{}).
		Where("video_id = ?", videoID).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("%w: count segments for video %s: %v", apperr.ErrCatalog, videoID, err)
	}
	return count, nil
}

func (r *segmentRepo) Search(ctx context.Context, tx *gorm.DB, query pgvector.Vector, params SegmentSearchParams) ([]SegmentHit, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if params.Limit <= 0 {
		params.Limit = 20
	}

	q := transaction.WithContext(ctx).
		Table(`segment AS s`).
		Select(`s.id AS segment_id, s.video_id, s.t_start_ms, s.frame_url, 1 - (s.emb <=> ?) AS score, s.caption`, query).
		Joins(`JOIN video v ON v.id = s.video_id`).
		Where(`v.owner_id = ? AND v.status = ?`, params.OwnerID, types.VideoStatusReady)
	if params.VideoID != nil {
		q = q.Where(`s.video_id = ?`, *params.VideoID)
	}

	var hits []SegmentHit
	err := q.Clauses(clause.OrderBy{
		Expression: clause.Expr{SQL: `s.emb <=> ?`, Vars: []interface{}{query}},
	}).Limit(params.Limit).Scan(&hits).Error
	if err != nil {
		return nil, fmt.Errorf("%w: segment search: %v", apperr.ErrCatalog, err)
	}
	return hits, nil
}
