package model

import (
	"time"
)

// QueueTask 持久化队列中的一条任务
type QueueTask struct {
	ID          uint       `gorm:"primaryKey" json:"id"`
	Kind        string     `gorm:"size:64;not null;index" json:"kind"`
	Payload     string     `gorm:"type:text;not null" json:"payload"` // JSON
	Status      Status     `gorm:"size:20;not null;default:pending;index" json:"status"`
	Attempts    int        `gorm:"default:0" json:"attempts"`     // 已开始执行的次数
	MaxAttempts int        `gorm:"default:3" json:"max_attempts"` // 最大执行次数
	AvailableAt time.Time  `gorm:"index" json:"available_at"`     // 最早可执行时间
	LastError   string     `gorm:"type:text" json:"last_error"`
	StartedAt   *time.Time `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// TableName 指定表名
func (QueueTask) TableName() string {
	return "queue_tasks"
}

// CanRetry 检查是否还可以重试
func (t *QueueTask) CanRetry() bool {
	return t.Attempts < t.MaxAttempts && t.Status != StatusCompleted
}

// SetError 记录失败原因，可重试时回到等待状态并推迟到 retryAt
func (t *QueueTask) SetError(err error, retryAt time.Time) {
	t.LastError = err.Error()
	if !t.CanRetry() {
		t.Status = StatusFailed
		now := time.Now()
		t.CompletedAt = &now
		return
	}
	t.Status = StatusPending
	t.AvailableAt = retryAt
}

// SetCompleted 设置为已完成状态
func (t *QueueTask) SetCompleted() {
	now := time.Now()
	t.Status = StatusCompleted
	t.LastError = ""
	t.CompletedAt = &now
}
