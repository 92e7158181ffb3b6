package repos

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/clipsight/clipsight-backend/internal/apperr"
	"github.com/clipsight/clipsight-backend/internal/logger"
	"github.com/clipsight/clipsight-backend/internal/types"
)

type VideoRepo interface {
	// Upsert inserts the video or, on id conflict, re-applies all mutable
	// fields. Re-ingesting under the same id goes through here.
	Upsert(ctx context.Context, tx *gorm.DB, video *types.Video) error
	GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.Video, error)
	UpdateStatus(ctx context.Context, tx *gorm.DB, id uuid.UUID, status string, errorMsg *string) error
	SetThumbnail(ctx context.Context, tx *gorm.DB, id uuid.UUID, thumbnailURL string) error
	ListByOwner(ctx context.Context, tx *gorm.DB, ownerID uuid.UUID, limit int) ([]*types.Video, error)
	// Delete removes the video row; segments cascade at the database level.
	Delete(ctx context.Context, tx *gorm.DB, id uuid.UUID) error
}

type videoRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewVideoRepo(db *gorm.DB, baseLog *logger.Logger) VideoRepo {
	repoLog := baseLog.With("repo", "VideoRepo")
	return &videoRepo{db: db, log: repoLog}
}

func (r *videoRepo) Upsert(ctx context.Context, tx *gorm.DB, video *types.Video) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if video == nil || video.ID == uuid.Nil {
		return fmt.Errorf("%w: video with id required", apperr.ErrValidation)
	}
	err := transaction.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"url", "duration_ms", "width", "height", "status", "error_msg", "thumbnail_url",
		}),
	}).Create(video).Error
	if err != nil {
		return fmt.Errorf("%w: upsert video %s: %v", apperr.ErrCatalog, video.ID, err)
	}
	return nil
}

func (r *videoRepo) GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.Video, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var video types.Video
	err := transaction.WithContext(ctx).Where("id = ?", id).First(&video).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: get video %s: %v", apperr.ErrCatalog, id, err)
	}
	return &video, nil
}

func (r *videoRepo) UpdateStatus(ctx context.Context, tx *gorm.DB, id uuid.UUID, status string, errorMsg *string) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	err := transaction.WithContext(ctx).Model(&types.Video{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{"status": status, "error_msg": errorMsg}).Error
	if err != nil {
		return fmt.Errorf("%w: update video %s status: %v", apperr.ErrCatalog, id, err)
	}
	return nil
}

func (r *videoRepo) SetThumbnail(ctx context.Context, tx *gorm.DB, id uuid.UUID, thumbnailURL string) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	err := transaction.WithContext(ctx).Model(&types.Video{}).
		Where("id = ?", id).
		Update("thumbnail_url", thumbnailURL).Error
	if err != nil {
		return fmt.Errorf("%w: set video %s thumbnail: %v", apperr.ErrCatalog, id, err)
	}
	return nil
}

func (r *videoRepo) ListByOwner(ctx context.Context, tx *gorm.DB, ownerID uuid.UUID, limit int) ([]*types.Video, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if limit <= 0 {
		limit = 50
	}
	var videos []*types.Video
	err := transaction.WithContext(ctx).
		Where("owner_id = ?", ownerID).
		Order("created_at DESC").
		Limit(limit).
		Find(&videos).Error
	if err != nil {
		return nil, fmt.Errorf("%w: list videos for owner %s: %v", apperr.ErrCatalog, ownerID, err)
	}
	return videos, nil
}

func (r *videoRepo) Delete(ctx context.Context, tx *gorm.DB, id uuid.UUID) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	err := transaction.WithContext(ctx).Where("id = ?", id).Delete(&types.Video{}).Error
	if err != nil {
		return fmt.Errorf("%w: delete video %s: %v", apperr.ErrCatalog, id, err)
	}
	return nil
}
