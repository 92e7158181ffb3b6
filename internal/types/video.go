package types

import (
	"time"

	"github.com/google/uuid"
)

// Video processing lifecycle. Transitions are processing -> ready or
// processing -> error only; a terminal row is replaced via upsert on
// re-ingestion.
const (
	VideoStatusProcessing = "processing"
	VideoStatusReady      = "ready"
	VideoStatusError      = "error"
)

type Video struct {
	ID           uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	OwnerID      uuid.UUID `gorm:"type:uuid;not null;index" json:"owner_id"`
	URL          string    `gorm:"column:url;not null" json:"url"`
	DurationMs   int64     `gorm:"column:duration_ms;not null;default:0" json:"duration_ms"`
	Width        *int      `gorm:"column:width" json:"width,omitempty"`
	Height       *int      `gorm:"column:height" json:"height,omitempty"`
	Status       string    `gorm:"column:status;not null;default:'processing';index" json:"status"`
	ErrorMsg     *string   `gorm:"column:error_msg" json:"error_msg,omitempty"`
	ThumbnailURL *string   `gorm:"column:thumbnail_url" json:"thumbnail_url,omitempty"`
	CreatedAt    time.Time `gorm:"not null;default:now()" json:"created_at"`
}

func (Video) TableName() string { return "video" }
