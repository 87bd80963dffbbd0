package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"video-transcoder/app/media"
	"video-transcoder/app/model"
	"video-transcoder/app/progress"
	"video-transcoder/app/storage"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// TriggerRequest 触发转码的请求
type TriggerRequest struct {
	VideoID   string
	FilePath  string
	Subtitles []media.ExternalSubtitle
}

// TriggerResult 触发结果；Queued 为 false 表示资源已在处理或已完成，本次调用没有任何改动
type TriggerResult struct {
	Queued bool
	Status model.Status
	TaskID uint
}

// TranscodingService 转码触发入口与状态查询
type TranscodingService struct {
	Deps
}

// NewTranscodingService 创建转码服务
func NewTranscodingService(deps Deps) *TranscodingService {
	return &TranscodingService{Deps: deps}
}

// Validate 校验触发请求并规范化路径
func (s *TranscodingService) Validate(req *TriggerRequest) error {
	req.VideoID = strings.TrimSpace(req.VideoID)
	if req.VideoID == "" {
		return &ValidationError{Field: "video_id", Message: "is required"}
	}
	if strings.ContainsAny(req.VideoID, `/\`) || req.VideoID == "." || req.VideoID == ".." {
		return &ValidationError{Field: "video_id", Message: "must not contain path separators"}
	}
	p, err := storage.CleanKey(req.FilePath)
	if err != nil {
		return &ValidationError{Field: "file_path", Message: err.Error()}
	}
	req.FilePath = p
	for i := range req.Subtitles {
		sub := &req.Subtitles[i]
		field := fmt.Sprintf("subtitles.%d", i)
		p, err := storage.CleanKey(sub.Path)
		if err != nil {
			return &ValidationError{Field: field + ".path", Message: err.Error()}
		}
		sub.Path = p
		if strings.TrimSpace(sub.Lang) == "" {
			return &ValidationError{Field: field + ".lang", Message: "is required"}
		}
	}
	return nil
}

// Trigger 预检并入队一次转码。已完成或处理中的资源直接返回，不做任何修改；
// 检查与写入之间没有加锁，并发的重复触发可能产生两次执行
func (s *TranscodingService) Trigger(ctx context.Context, req TriggerRequest) (*TriggerResult, error) {
	if err := s.Validate(&req); err != nil {
		return nil, err
	}
	log := s.Log.With(zap.String("video_id", req.VideoID))

	var asset model.MediaAsset
	err := s.DB.WithContext(ctx).Where("external_id = ?", req.VideoID).First(&asset).Error
	switch {
	case err == nil:
		if asset.Status.IsActive() {
			log.Info("资源已在处理或已完成，跳过触发", zap.String("status", string(asset.Status)))
			return &TriggerResult{Queued: false, Status: asset.Status}, nil
		}
		if err := s.DB.WithContext(ctx).Model(&asset).Updates(map[string]any{
			"status":        model.StatusPending,
			"error_message": nil,
		}).Error; err != nil {
			return nil, fmt.Errorf("重置资源状态失败: %w", err)
		}
		asset.Status = model.StatusPending
		asset.ErrorMessage = nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		asset = model.MediaAsset{ExternalID: req.VideoID, Status: model.StatusPending}
		if err := s.DB.WithContext(ctx).Create(&asset).Error; err != nil {
			return nil, fmt.Errorf("创建资源失败: %w", err)
		}
	default:
		return nil, fmt.Errorf("查询资源失败: %w", err)
	}

	probe, err := s.preflight(ctx, req.FilePath)
	if err != nil {
		msg := "Pre-flight: " + err.Error()
		if uerr := s.DB.WithContext(ctx).Model(&asset).Updates(map[string]any{
			"status":        model.StatusFailed,
			"error_message": msg,
		}).Error; uerr != nil {
			log.Error("更新资源状态失败", zap.Error(uerr))
		}
		log.Warn("预检失败", zap.Error(err))
		return nil, &PreflightError{Err: err}
	}

	if err := s.DB.WithContext(ctx).Model(&asset).Updates(map[string]any{
		"status":     model.StatusProcessing,
		"duration":   probe.Duration(),
		"mime_type":  probe.MimeType(req.FilePath),
		"bitrate":    probe.BitRate(),
		"resolution": probe.Resolution(),
	}).Error; err != nil {
		return nil, fmt.Errorf("更新资源状态失败: %w", err)
	}

	task, err := s.Queue.Enqueue(ctx, TaskKindTranscode, TranscodePayload{
		MediaAssetID:      asset.ID,
		ExternalID:        asset.ExternalID,
		FilePath:          req.FilePath,
		ExternalSubtitles: req.Subtitles,
		CallbackURL:       s.Config.Callback.URL,
	})
	if err != nil {
		// 入队失败时资源不能停留在 processing，否则再也无法重新触发
		msg := "Queue: " + err.Error()
		if uerr := s.DB.WithContext(ctx).Model(&asset).Updates(map[string]any{
			"status":        model.StatusFailed,
			"error_message": msg,
		}).Error; uerr != nil {
			log.Error("更新资源状态失败", zap.Error(uerr))
		}
		return nil, fmt.Errorf("转码任务入队失败: %w", err)
	}

	log.Info("转码任务已入队", zap.Uint("task_id", task.ID))
	return &TriggerResult{Queued: true, Status: model.StatusProcessing, TaskID: task.ID}, nil
}

// preflight 快速探测：必须有视频流且时长不低于下限
func (s *TranscodingService) preflight(ctx context.Context, filePath string) (*media.ProbeResult, error) {
	source, err := s.Raw.SourceURL(ctx, filePath)
	if err != nil {
		return nil, err
	}
	probe, err := s.Prober.Probe(ctx, source)
	if err != nil {
		return nil, err
	}
	if probe.VideoStream() == nil {
		return nil, ErrNoVideoStream
	}
	if probe.Duration() < s.Config.Transcode.MinDuration.Seconds() {
		return nil, ErrTooShort
	}
	return probe, nil
}

// GetProgress 返回 progress.Absent(-1) 到 100；读到 100 后清除条目，之后再查询返回 -1
func (s *TranscodingService) GetProgress(ctx context.Context, videoID string) (int, error) {
	percent, ok, err := s.Tracker.Get(ctx, videoID)
	if err != nil {
		return 0, err
	}
	if !ok {
		return progress.Absent, nil
	}
	if percent >= 100 {
		if err := s.Tracker.Clear(ctx, videoID); err != nil {
			s.Log.Warn("清除进度失败", zap.String("video_id", videoID), zap.Error(err))
		}
		return 100, nil
	}
	return percent, nil
}

// GetAsset 按外部ID查询资源及全部尝试记录，尝试按创建时间升序
func (s *TranscodingService) GetAsset(ctx context.Context, videoID string) (*model.MediaAsset, error) {
	var asset model.MediaAsset
	err := s.DB.WithContext(ctx).
		Preload("Jobs", func(db *gorm.DB) *gorm.DB {
			return db.Order("created_at ASC, id ASC")
		}).
		Where("external_id = ?", videoID).
		First(&asset).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrAssetNotFound
	}
	if err != nil {
		return nil, err
	}
	return &asset, nil
}
