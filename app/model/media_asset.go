package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Status 资源与转码尝试共用的生命周期状态
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// IsActive 处理中或已完成的资源不允许再次触发
func (s Status) IsActive() bool {
	return s == StatusProcessing || s == StatusCompleted
}

// Track 音轨或字幕轨
type Track struct {
	Lang string `json:"lang"`
	URI  string `json:"uri,omitempty"`
}

// MediaAsset 一个源视频对应一条记录，以外部ID唯一标识
type MediaAsset struct {
	ID             string    `gorm:"type:varchar(36);primaryKey" json:"id"`
	ExternalID     string    `gorm:"size:191;not null;uniqueIndex" json:"external_id"`
	Status         Status    `gorm:"size:20;not null;default:pending;index" json:"status"`
	Disk           string    `gorm:"size:32;not null;default:hls" json:"disk"`
	Path           string    `gorm:"size:512" json:"path"` // master.m3u8 的相对路径
	MimeType       string    `gorm:"size:128" json:"mime_type"`
	Duration       float64   `gorm:"default:0" json:"duration"` // 秒
	Resolution     string    `gorm:"size:32" json:"resolution"`
	Bitrate        int64     `json:"bitrate"`
	AudioTracks    []Track   `gorm:"serializer:json;type:text" json:"audio_tracks"`
	SubtitleTracks []Track   `gorm:"serializer:json;type:text" json:"subtitle_tracks"`
	ErrorMessage   *string   `gorm:"type:text" json:"error_message"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`

	// 关联关系，按创建时间升序
	Jobs []TranscodingJob `gorm:"foreignKey:MediaAssetID;constraint:OnDelete:CASCADE" json:"jobs,omitempty"`
}

// TableName 指定表名
func (MediaAsset) TableName() string {
	return "media_assets"
}

// BeforeCreate 生成内部UUID
func (a *MediaAsset) BeforeCreate(tx *gorm.DB) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	return nil
}

// CurrentJob 最近一次尝试，需要先 Preload("Jobs") 并按创建时间升序
func (a *MediaAsset) CurrentJob() *TranscodingJob {
	if len(a.Jobs) == 0 {
		return nil
	}
	return &a.Jobs[len(a.Jobs)-1]
}

// OutputPath 资源的 master 清单相对路径
func OutputPath(externalID string) string {
	return externalID + "/master.m3u8"
}
