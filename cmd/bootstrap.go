package cmd

import (
	"context"
	"fmt"
	"io"

	"video-transcoder/app/auth"
	"video-transcoder/app/config"
	"video-transcoder/app/database"
	"video-transcoder/app/logger"
	"video-transcoder/app/media"
	"video-transcoder/app/progress"
	"video-transcoder/app/service"
	"video-transcoder/app/storage"
)

// app 各子命令共用的组件
type app struct {
	cfg      *config.Config
	log      *logger.Logger
	queue    *service.TaskQueue
	service  *service.TranscodingService
	notifier *service.CallbackNotifier
	tracker  progress.Tracker
	hls      storage.Disk
}

// bootstrap 加载配置并按依赖顺序组装服务
func bootstrap(ctx context.Context) (*app, error) {
	cfg := config.Load()
	log := logger.New(cfg.Log)

	if err := database.Init(cfg, log); err != nil {
		return nil, fmt.Errorf("数据库初始化失败: %w", err)
	}

	raw, err := storage.New(ctx, "raw", cfg.Storage.Raw)
	if err != nil {
		return nil, fmt.Errorf("初始化原始存储失败: %w", err)
	}
	hls, err := storage.New(ctx, "hls", cfg.Storage.HLS)
	if err != nil {
		return nil, fmt.Errorf("初始化 HLS 存储失败: %w", err)
	}

	tracker, err := progress.New(cfg.Progress)
	if err != nil {
		return nil, err
	}

	jwtService := auth.NewJWTService(cfg.JWT)
	notifier := service.NewCallbackNotifier(cfg.Callback, jwtService, log)
	queue := service.NewTaskQueue(database.GetDB(), cfg.Queue, log)

	deps := service.Deps{
		DB:       database.GetDB(),
		Config:   cfg,
		Log:      log,
		Raw:      raw,
		HLS:      hls,
		Prober:   media.NewFFprobe(cfg.Transcode.FFprobePath),
		Engine:   media.NewFFmpegEngine(cfg.Transcode.FFmpegPath, cfg.Transcode.SegmentSeconds),
		Tracker:  tracker,
		Notifier: notifier,
		Queue:    queue,
	}
	queue.Register(service.TaskKindTranscode, service.NewTranscodeWorker(deps))

	log.Infof("转码编排服务已组装: codec=%s raw=%s hls=%s", cfg.Transcode.Codec, cfg.Storage.Raw.Driver, cfg.Storage.HLS.Driver)
	return &app{
		cfg:      cfg,
		log:      log,
		queue:    queue,
		service:  service.NewTranscodingService(deps),
		notifier: notifier,
		tracker:  tracker,
		hls:      hls,
	}, nil
}

// close 释放外部连接，队列与调度器由调用方先停止
func (a *app) close() {
	if err := a.notifier.Close(); err != nil {
		a.log.Warnf("关闭回调客户端失败: %v", err)
	}
	if c, ok := a.tracker.(io.Closer); ok {
		if err := c.Close(); err != nil {
			a.log.Warnf("关闭进度存储失败: %v", err)
		}
	}
	if err := database.Close(); err != nil {
		a.log.Warnf("关闭数据库失败: %v", err)
	}
	_ = a.log.Close()
}
