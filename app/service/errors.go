package service

import (
	"errors"
	"fmt"
)

var (
	// ErrNoVideoStream 源文件中没有可解码的视频流
	ErrNoVideoStream = errors.New("file contains no valid video stream")
	// ErrTooShort 源文件时长低于下限
	ErrTooShort = errors.New("video is too short to process")
	// ErrAssetNotFound 找不到对应外部ID的资源
	ErrAssetNotFound = errors.New("media asset not found")
)

// ValidationError 触发请求不合法，不会创建任何状态
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// PreflightError 预检失败，资源已被标记为 failed
type PreflightError struct {
	Err error
}

func (e *PreflightError) Error() string {
	return e.Err.Error()
}

func (e *PreflightError) Unwrap() error {
	return e.Err
}

// 流水线步骤名称
const (
	StepProbe     = "probe"
	StepSubtitles = "subtitles"
	StepPlan      = "plan"
	StepExport    = "export"
	StepUpload    = "upload"
	StepManifest  = "manifest"
	StepFinalize  = "finalize"
)

// PipelineError 一次转码尝试中某个步骤的失败
type PipelineError struct {
	JobID   string
	VideoID string
	Step    string
	Err     error
}

func (e *PipelineError) Error() string {
	return fmt.Sprintf("attempt %s [%s] %s: %v", e.JobID, e.VideoID, e.Step, e.Err)
}

func (e *PipelineError) Unwrap() error {
	return e.Err
}
