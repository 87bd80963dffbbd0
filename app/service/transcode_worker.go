package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"video-transcoder/app/config"
	"video-transcoder/app/logger"
	"video-transcoder/app/media"
	"video-transcoder/app/model"
	"video-transcoder/app/progress"
	"video-transcoder/app/storage"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// TaskKindTranscode 转码任务类型
const TaskKindTranscode = "transcode"

// TranscodePayload 入队的转码任务参数
type TranscodePayload struct {
	MediaAssetID      string                   `json:"media_asset_id"`
	ExternalID        string                   `json:"external_id"`
	FilePath          string                   `json:"file_path"`
	ExternalSubtitles []media.ExternalSubtitle `json:"external_subtitles"`
	CallbackURL       string                   `json:"callback_url"`
}

// Deps 转码服务与工作者共用的依赖
type Deps struct {
	DB       *gorm.DB
	Config   *config.Config
	Log      *logger.Logger
	Raw      storage.Disk
	HLS      storage.Disk
	Prober   media.Prober
	Engine   media.Engine
	Tracker  progress.Tracker
	Notifier Notifier
	Queue    Enqueuer
}

// TranscodeWorker 执行一次完整的转码流水线
type TranscodeWorker struct {
	Deps
	subtitles *media.SubtitleConverter
	now       func() time.Time
}

var _ TaskHandler = (*TranscodeWorker)(nil)

// NewTranscodeWorker 创建转码工作者
func NewTranscodeWorker(deps Deps) *TranscodeWorker {
	return &TranscodeWorker{
		Deps: deps,
		subtitles: &media.SubtitleConverter{
			Raw:     deps.Raw,
			HLS:     deps.HLS,
			Engine:  deps.Engine,
			WorkDir: deps.Config.Transcode.WorkDir,
		},
		now: time.Now,
	}
}

// pipelineResult 流水线成功时的最终元数据
type pipelineResult struct {
	probe     *media.ProbeResult
	subtitles []model.Track
}

// Handle 执行一次尝试：每次调用新建一条 TranscodingJob 记录
func (w *TranscodeWorker) Handle(ctx context.Context, raw []byte) error {
	var p TranscodePayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return fmt.Errorf("解析任务参数失败: %w", err)
	}
	log := w.Log.With(zap.String("video_id", p.ExternalID))

	started := w.now()
	job := &model.TranscodingJob{
		MediaAssetID: p.MediaAssetID,
		Status:       model.StatusProcessing,
		Engine:       w.Config.Transcode.Codec,
		StartedAt:    &started,
	}
	if err := w.DB.WithContext(ctx).Create(job).Error; err != nil {
		return fmt.Errorf("创建转码记录失败: %w", err)
	}
	log = log.With(zap.String("job_id", job.ID))
	log.Info("开始转码", zap.String("file_path", p.FilePath), zap.String("engine", job.Engine))

	result, perr := w.run(ctx, job, p, log)
	if perr == nil {
		perr = w.finalize(ctx, job, p, result)
	}
	if perr != nil {
		w.failJob(job, perr, log)
		return perr
	}

	elapsed := w.now().Sub(started)
	log.Info("转码完成", zap.Duration("elapsed", elapsed), zap.Int("subtitles", len(result.subtitles)))

	if w.Tracker != nil {
		if err := w.Tracker.Set(ctx, p.ExternalID, 100, w.Config.Progress.TTL); err != nil {
			log.Warn("写入进度失败", zap.Error(err))
		}
	}

	path := model.OutputPath(p.ExternalID)
	if err := w.Notifier.Notify(ctx, p.CallbackURL, Notification{
		VideoID: p.ExternalID,
		Status:  model.StatusCompleted,
		Path:    &path,
	}); err != nil {
		log.Error("发送完成通知失败", zap.Error(err))
	}
	return nil
}

// run 探测、字幕、规划、导出、上传、清单修补
func (w *TranscodeWorker) run(ctx context.Context, job *model.TranscodingJob, p TranscodePayload, log *logger.Logger) (*pipelineResult, *PipelineError) {
	fail := func(step string, err error) *PipelineError {
		return &PipelineError{JobID: job.ID, VideoID: p.ExternalID, Step: step, Err: err}
	}

	source, err := w.Raw.SourceURL(ctx, p.FilePath)
	if err != nil {
		return nil, fail(StepProbe, err)
	}
	probe, err := w.Prober.Probe(ctx, source)
	if err != nil {
		return nil, fail(StepProbe, err)
	}
	video := probe.VideoStream()
	if video == nil {
		return nil, fail(StepProbe, ErrNoVideoStream)
	}
	log.Debug("探测完成", zap.String("resolution", probe.Resolution()), zap.Float64("duration", probe.Duration()))

	// 外挂字幕在前，内嵌字幕按探测顺序在后
	subs := make([]model.Track, 0, len(p.ExternalSubtitles))
	for _, ext := range p.ExternalSubtitles {
		track, err := w.subtitles.ConvertExternal(ctx, p.ExternalID, ext)
		if err != nil {
			return nil, fail(StepSubtitles, err)
		}
		subs = append(subs, track)
	}
	for _, stream := range probe.StreamsOfType("subtitle") {
		track, err := w.subtitles.ExtractEmbedded(ctx, p.ExternalID, source, stream)
		if err != nil {
			return nil, fail(StepSubtitles, err)
		}
		subs = append(subs, track)
	}

	tc := w.Config.Transcode
	renditions := media.Plan(video.Height, tc.Ladder, tc.Codec, tc.CodecParams)
	if len(renditions) == 0 {
		return nil, fail(StepPlan, errors.New("码率阶梯为空"))
	}
	log.Info("输出档位已确定", zap.Int("renditions", len(renditions)), zap.Int("source_height", video.Height))

	if err := os.MkdirAll(tc.WorkDir, 0o755); err != nil {
		return nil, fail(StepExport, err)
	}
	scratch := filepath.Join(tc.WorkDir, uuid.NewString())
	defer func() {
		if err := os.RemoveAll(scratch); err != nil {
			log.Warn("清理临时目录失败", zap.String("dir", scratch), zap.Error(err))
		}
	}()

	req := media.ExportRequest{
		Source:     source,
		OutputDir:  scratch,
		Renditions: renditions,
		Duration:   probe.Duration(),
		HasAudio:   probe.HasAudio(),
	}
	if err := w.Engine.ExportHLS(ctx, req, w.progressFunc(ctx, p.ExternalID, log)); err != nil {
		return nil, fail(StepExport, err)
	}

	if err := w.HLS.UploadDir(ctx, scratch, p.ExternalID); err != nil {
		return nil, fail(StepUpload, err)
	}

	if err := media.PatchMaster(ctx, w.HLS, p.ExternalID, subs, probe.Duration()); err != nil {
		return nil, fail(StepManifest, err)
	}

	return &pipelineResult{probe: probe, subtitles: subs}, nil
}

// progressFunc 导出进度写入进度存储；100 留到收尾完成后再写
func (w *TranscodeWorker) progressFunc(ctx context.Context, videoID string, log *logger.Logger) media.ProgressFunc {
	return func(percent int) {
		if w.Tracker == nil {
			return
		}
		if percent > 99 {
			percent = 99
		}
		if err := w.Tracker.Set(ctx, videoID, percent, w.Config.Progress.TTL); err != nil {
			log.Warn("写入进度失败", zap.Error(err))
		}
	}
}

// finalize 在一个事务中将尝试与资源标记为完成
func (w *TranscodeWorker) finalize(ctx context.Context, job *model.TranscodingJob, p TranscodePayload, result *pipelineResult) *PipelineError {
	audio := make([]model.Track, 0)
	for _, s := range result.probe.StreamsOfType("audio") {
		audio = append(audio, model.Track{Lang: s.Language()})
	}

	now := w.now()
	err := w.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(job).Updates(map[string]any{
			"status":        model.StatusCompleted,
			"completed_at":  now,
			"error_message": nil,
		}).Error; err != nil {
			return err
		}

		var asset model.MediaAsset
		if err := tx.First(&asset, "id = ?", p.MediaAssetID).Error; err != nil {
			return err
		}
		asset.Status = model.StatusCompleted
		asset.Disk = w.HLS.Name()
		asset.Path = model.OutputPath(p.ExternalID)
		asset.Duration = result.probe.Duration()
		asset.Resolution = result.probe.Resolution()
		asset.Bitrate = result.probe.BitRate()
		asset.SubtitleTracks = result.subtitles
		asset.AudioTracks = audio
		asset.ErrorMessage = nil
		return tx.Omit("Jobs").Save(&asset).Error
	})
	if err != nil {
		return &PipelineError{JobID: job.ID, VideoID: p.ExternalID, Step: StepFinalize, Err: err}
	}
	job.Status = model.StatusCompleted
	job.CompletedAt = &now
	return nil
}

// failJob 将本次尝试标记为失败，资源状态保持不变以便重试
func (w *TranscodeWorker) failJob(job *model.TranscodingJob, perr *PipelineError, log *logger.Logger) {
	msg := perr.Error()
	now := w.now()
	// 尝试可能因超时被取消，这里不能复用原 ctx
	if err := w.DB.Model(job).Updates(map[string]any{
		"status":        model.StatusFailed,
		"error_message": msg,
		"completed_at":  now,
	}).Error; err != nil {
		log.Error("更新转码记录失败", zap.Error(err))
	}
	log.Warn("转码尝试失败", zap.String("step", perr.Step), zap.Error(perr.Err))
}

// Failed 重试耗尽：清理输出目录，标记资源失败并通知调用方
func (w *TranscodeWorker) Failed(ctx context.Context, raw []byte, cause error) {
	var p TranscodePayload
	if err := json.Unmarshal(raw, &p); err != nil {
		w.Log.Error("解析任务参数失败", zap.Error(err))
		return
	}
	log := w.Log.With(zap.String("video_id", p.ExternalID))

	if err := w.HLS.DeleteDirectory(ctx, p.ExternalID); err != nil {
		log.Error("清理输出目录失败", zap.Error(err))
	}

	msg := "Final Attempt Failed: " + cause.Error()
	if err := w.DB.WithContext(ctx).Model(&model.MediaAsset{}).
		Where("id = ?", p.MediaAssetID).
		Updates(map[string]any{"status": model.StatusFailed, "error_message": msg}).Error; err != nil {
		log.Error("更新资源状态失败", zap.Error(err))
	}

	if w.Tracker != nil {
		if err := w.Tracker.Clear(ctx, p.ExternalID); err != nil {
			log.Warn("清除进度失败", zap.Error(err))
		}
	}

	log.Error("转码最终失败", zap.String("error", msg))
	// 回调只携带原始错误，前缀只写入资源记录
	reason := cause.Error()
	if err := w.Notifier.Notify(ctx, p.CallbackURL, Notification{
		VideoID: p.ExternalID,
		Status:  model.StatusFailed,
		Error:   &reason,
	}); err != nil {
		log.Error("发送失败通知失败", zap.Error(err))
	}
}
