package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// TranscodingJob 一次转码尝试，重试会新建记录而不是修改旧记录
type TranscodingJob struct {
	ID           string     `gorm:"type:varchar(36);primaryKey" json:"id"`
	MediaAssetID string     `gorm:"type:varchar(36);not null;index" json:"media_asset_id"`
	Status       Status     `gorm:"size:20;not null;default:pending;index" json:"status"`
	Engine       string     `gorm:"size:64" json:"engine"` // libx264, h264_nvenc 等
	ErrorMessage *string    `gorm:"type:text" json:"error_message"`
	StartedAt    *time.Time `json:"started_at"`
	CompletedAt  *time.Time `json:"completed_at"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// TableName 指定表名
func (TranscodingJob) TableName() string {
	return "transcoding_jobs"
}

// BeforeCreate 使用时间有序的 UUIDv7，便于按主键取最新一次尝试
func (j *TranscodingJob) BeforeCreate(tx *gorm.DB) error {
	if j.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return err
		}
		j.ID = id.String()
	}
	return nil
}
