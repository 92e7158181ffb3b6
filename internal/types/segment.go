package types

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
	"gorm.io/datatypes"
)

const ModalityVision = "vision"

// EmbDim must match the dimension advertised by the embedding provider.
// The column type below is fixed at migration time.
const EmbDim = 512

type Segment struct {
	ID       uuid.UUID       `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	VideoID  uuid.UUID       `gorm:"type:uuid;not null;index" json:"video_id"`
	Video    *Video          `gorm:"constraint:OnDelete:CASCADE;foreignKey:VideoID;references:ID" json:"video,omitempty"`
	TStartMs int64           `gorm:"column:t_start_ms;not null" json:"t_start_ms"`
	TEndMs   int64           `gorm:"column:t_end_ms;not null" json:"t_end_ms"`
	Modality string          `gorm:"column:modality;not null;default:'vision';index" json:"modality"`
	FrameURL string          `gorm:"column:frame_url;not null" json:"frame_url"`
	Emb      pgvector.Vector `gorm:"type:vector(512)" json:"-"`
	Caption  datatypes.JSON  `gorm:"type:jsonb;column:caption" json:"caption,omitempty"`

	CreatedAt time.Time `gorm:"not null;default:now()" json:"created_at"`
}

func (Segment) TableName() string { return "segment" }

// CaptionPayload is the structured shape stored in the caption JSONB column.
type CaptionPayload struct {
	Text string `json:"text"`
}

func MarshalCaption(p *CaptionPayload) datatypes.JSON {
	if p == nil {
		return nil
	}
	b, err := json.Marshal(p)
	if err != nil {
		return nil
	}
	return datatypes.JSON(b)
}

// CaptionText extracts the text field from a caption column; ok is false
// when the segment has no caption.
func CaptionText(raw datatypes.JSON) (string, bool) {
	if len(raw) == 0 {
		return "", false
	}
	var p CaptionPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return "", false
	}
	if p.Text == "" {
		return "", false
	}
	return p.Text, true
}
