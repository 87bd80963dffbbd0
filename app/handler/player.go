package handler

import (
	"embed"
	"errors"
	"html/template"
	"net/http"
	"path"

	"video-transcoder/app/logger"
	"video-transcoder/app/media"
	"video-transcoder/app/storage"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

//go:embed templates/*.html
var templateFS embed.FS

// Templates 页面模板
func Templates() *template.Template {
	return template.Must(template.ParseFS(templateFS, "templates/*.html"))
}

// PlayerHandler 播放页与 HLS 文件读取
type PlayerHandler struct {
	hls    storage.Disk
	logger *logger.Logger
}

func NewPlayerHandler(hls storage.Disk, log *logger.Logger) *PlayerHandler {
	return &PlayerHandler{hls: hls, logger: log}
}

// Page GET /?video_id=
func (h *PlayerHandler) Page(c *gin.Context) {
	videoID := c.Query("video_id")
	data := gin.H{"VideoID": videoID}
	if videoID != "" {
		data["Source"] = "/hls/" + path.Join(videoID, media.MasterPlaylist)
	}
	c.HTML(http.StatusOK, "player.html", data)
}

// File GET /hls/*filepath
func (h *PlayerHandler) File(c *gin.Context) {
	key, err := storage.CleanKey(c.Param("filepath"))
	if err != nil {
		c.Status(http.StatusNotFound)
		return
	}
	data, err := h.hls.Get(c.Request.Context(), key)
	if errors.Is(err, storage.ErrNotFound) {
		c.Status(http.StatusNotFound)
		return
	}
	if err != nil {
		h.logger.Error("读取 HLS 文件失败", zap.String("key", key), zap.Error(err))
		c.Status(http.StatusInternalServerError)
		return
	}
	c.Header("Access-Control-Allow-Origin", "*")
	c.Data(http.StatusOK, storage.ContentType(key), data)
}
