package handler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"video-transcoder/app/logger"
	"video-transcoder/app/media"
	"video-transcoder/app/model"
	"video-transcoder/app/service"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

// Transcoder 处理器依赖的转码服务
type Transcoder interface {
	Trigger(ctx context.Context, req service.TriggerRequest) (*service.TriggerResult, error)
	GetProgress(ctx context.Context, videoID string) (int, error)
	GetAsset(ctx context.Context, videoID string) (*model.MediaAsset, error)
}

// TranscodeHandler 转码相关接口
type TranscodeHandler struct {
	svc      Transcoder
	logger   *logger.Logger
	response *ResponseHelper
}

// NewTranscodeHandler 创建转码处理器
func NewTranscodeHandler(svc Transcoder, log *logger.Logger) *TranscodeHandler {
	return &TranscodeHandler{
		svc:      svc,
		logger:   log,
		response: NewResponseHelper(),
	}
}

// SubtitleInput 外挂字幕
type SubtitleInput struct {
	Path string `json:"path" binding:"required"`
	Lang string `json:"lang" binding:"required,max=16"`
}

// TriggerRequest 触发转码请求
type TriggerRequest struct {
	VideoID   string          `json:"video_id" binding:"required,max=191"`
	FilePath  string          `json:"file_path" binding:"required"`
	Subtitles []SubtitleInput `json:"subtitles" binding:"omitempty,dive"`
}

// Trigger POST /api/v1/transcode
func (h *TranscodeHandler) Trigger(c *gin.Context) {
	var req TriggerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.validationError(c, err)
		return
	}

	subs := make([]media.ExternalSubtitle, 0, len(req.Subtitles))
	for _, s := range req.Subtitles {
		subs = append(subs, media.ExternalSubtitle{Path: s.Path, Lang: s.Lang})
	}

	result, err := h.svc.Trigger(c.Request.Context(), service.TriggerRequest{
		VideoID:   req.VideoID,
		FilePath:  req.FilePath,
		Subtitles: subs,
	})

	var (
		validationErr *service.ValidationError
		preflightErr  *service.PreflightError
	)
	switch {
	case errors.As(err, &validationErr):
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"message": validationErr.Error(),
			"errors":  gin.H{validationErr.Field: []string{validationErr.Message}},
		})
		return
	case errors.As(err, &preflightErr):
		message(c, http.StatusUnprocessableEntity, "Pre-flight failed: "+preflightErr.Error())
		return
	case err != nil:
		h.logger.Error("触发转码失败", zap.String("video_id", req.VideoID), zap.Error(err))
		message(c, http.StatusInternalServerError, "Failed to queue video for transcoding.")
		return
	}

	if !result.Queued {
		c.JSON(http.StatusAccepted, gin.H{
			"message": fmt.Sprintf("Video is already %s.", result.Status),
			"status":  result.Status,
		})
		return
	}
	message(c, http.StatusAccepted, "Video is queued for transcoding.")
}

// Progress GET /api/v1/transcode/progress/:videoId
func (h *TranscodeHandler) Progress(c *gin.Context) {
	videoID := c.Param("videoId")
	percent, err := h.svc.GetProgress(c.Request.Context(), videoID)
	if err != nil {
		h.logger.Error("查询进度失败", zap.String("video_id", videoID), zap.Error(err))
		message(c, http.StatusInternalServerError, "Failed to read progress.")
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"video_id": videoID,
		"progress": percent,
	})
}

// AssetStatus 资源状态与尝试历史
type AssetStatus struct {
	Asset      *model.MediaAsset     `json:"asset"`
	CurrentJob *model.TranscodingJob `json:"current_job"`
}

// Status GET /api/v1/transcode/:videoId
func (h *TranscodeHandler) Status(c *gin.Context) {
	videoID := c.Param("videoId")
	asset, err := h.svc.GetAsset(c.Request.Context(), videoID)
	if errors.Is(err, service.ErrAssetNotFound) {
		c.JSON(http.StatusNotFound, h.response.Error(404, "Video not found."))
		return
	}
	if err != nil {
		h.logger.Error("查询资源失败", zap.String("video_id", videoID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, h.response.Error(500, "Failed to load video."))
		return
	}

	status := AssetStatus{Asset: asset, CurrentJob: asset.CurrentJob()}
	c.JSON(http.StatusOK, h.response.Success(status, "ok"))
}

// validationError 将绑定错误转换为按字段分组的 422 响应
func (h *TranscodeHandler) validationError(c *gin.Context, err error) {
	fields := gin.H{}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		for _, fe := range verrs {
			name := fieldName(fe.Namespace())
			fields[name] = []string{fmt.Sprintf("failed on the '%s' rule", fe.Tag())}
		}
	} else {
		fields["body"] = []string{err.Error()}
	}
	c.JSON(http.StatusUnprocessableEntity, gin.H{
		"message": "The given data was invalid.",
		"errors":  fields,
	})
}

// fieldName TriggerRequest.Subtitles[0].Lang -> subtitles.0.lang
func fieldName(ns string) string {
	ns = strings.TrimPrefix(ns, "TriggerRequest.")
	replacer := strings.NewReplacer(
		"VideoID", "video_id",
		"FilePath", "file_path",
		"Subtitles", "subtitles",
		"Path", "path",
		"Lang", "lang",
		"[", ".",
		"]", "",
	)
	return replacer.Replace(ns)
}
