package server

import (
	"context"
	"net/http"

	"video-transcoder/app/auth"
	"video-transcoder/app/config"
	"video-transcoder/app/handler"
	"video-transcoder/app/logger"
	"video-transcoder/app/middleware"
	"video-transcoder/app/storage"

	"github.com/gin-gonic/gin"
)

// QueueStatus 健康检查展示的队列统计
type QueueStatus interface {
	GetQueueStatus() (map[string]int64, error)
}

// Server 表示 HTTP 服务器
type Server struct {
	Config *config.Config
	Logger *logger.Logger
	gin    *gin.Engine
	http   *http.Server
}

// New 创建一个新的 Server 实例
func New(cfg *config.Config, log *logger.Logger, transcoder handler.Transcoder, hls storage.Disk, queue QueueStatus) *Server {
	if cfg.Server.Mode != "" {
		gin.SetMode(cfg.Server.Mode)
	}
	router := gin.New()
	router.Use(gin.Recovery(), middleware.RequestLogger(log))
	router.SetHTMLTemplate(handler.Templates())

	s := &Server{
		gin: router,
		http: &http.Server{
			Addr:    ":" + cfg.Server.Port,
			Handler: router,
		},
		Config: cfg,
		Logger: log,
	}

	s.setupRoutes(transcoder, hls, queue)
	return s
}

// Handler 返回路由，测试中直接使用
func (s *Server) Handler() http.Handler {
	return s.gin
}

// Start 启动服务器，阻塞直到关闭
func (s *Server) Start() error {
	s.Logger.Infof("在端口 %s 启动服务器", s.http.Addr)
	return s.http.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

// setupRoutes 设置API路由
func (s *Server) setupRoutes(transcoder handler.Transcoder, hls storage.Disk, queue QueueStatus) {
	transcodeHandler := handler.NewTranscodeHandler(transcoder, s.Logger)
	playerHandler := handler.NewPlayerHandler(hls, s.Logger)
	jwtService := auth.NewJWTService(s.Config.JWT)

	s.gin.GET("/healthz", func(c *gin.Context) {
		if queue == nil {
			c.JSON(http.StatusOK, gin.H{"status": "ok"})
			return
		}
		counts, err := queue.GetQueueStatus()
		if err != nil {
			s.Logger.Errorf("读取队列状态失败: %v", err)
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "error"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok", "queue": counts})
	})
	s.gin.GET("/", playerHandler.Page)
	s.gin.GET("/hls/*filepath", playerHandler.File)

	// 需要主应用令牌的路由
	v1 := s.gin.Group("/api/v1")
	v1.Use(middleware.InternalJWTAuth(jwtService))
	{
		v1.POST("/transcode", transcodeHandler.Trigger)
		v1.GET("/transcode/progress/:videoId", transcodeHandler.Progress)
		v1.GET("/transcode/:videoId", transcodeHandler.Status)
	}
}
