package service

import (
	"os"
	"path/filepath"
	"time"

	"video-transcoder/app/config"
	"video-transcoder/app/logger"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// MaintenanceScheduler 定时清理临时目录和已结束的队列任务
type MaintenanceScheduler struct {
	cron      *cron.Cron
	cfg       config.MaintenanceConfig
	workDir   string
	retention time.Duration
	queue     *TaskQueue
	log       *logger.Logger
}

// NewMaintenanceScheduler 创建定时维护任务
func NewMaintenanceScheduler(cfg *config.Config, queue *TaskQueue, log *logger.Logger) (*MaintenanceScheduler, error) {
	m := &MaintenanceScheduler{
		cron:      cron.New(),
		cfg:       cfg.Maintenance,
		workDir:   cfg.Transcode.WorkDir,
		retention: cfg.Queue.Retention,
		queue:     queue,
		log:       log,
	}

	if m.cfg.ScratchCron != "" {
		if _, err := m.cron.AddFunc(m.cfg.ScratchCron, func() { m.PurgeScratch(time.Now()) }); err != nil {
			return nil, err
		}
	}
	if m.cfg.QueueCron != "" && queue != nil && m.retention > 0 {
		if _, err := m.cron.AddFunc(m.cfg.QueueCron, func() {
			if _, err := m.queue.PurgeFinished(time.Now().Add(-m.retention)); err != nil {
				m.log.Error("清理队列任务失败", zap.Error(err))
			}
		}); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *MaintenanceScheduler) Start() {
	m.cron.Start()
	m.log.Info("定时维护任务已启动", zap.Int("jobs", len(m.cron.Entries())))
}

// Stop 停止调度并等待正在运行的任务结束
func (m *MaintenanceScheduler) Stop() {
	<-m.cron.Stop().Done()
}

// PurgeScratch 删除工作目录中超过 scratch_max_age 未修改的条目，返回删除数量
func (m *MaintenanceScheduler) PurgeScratch(now time.Time) int {
	if m.workDir == "" || m.cfg.ScratchMaxAge <= 0 {
		return 0
	}
	entries, err := os.ReadDir(m.workDir)
	if err != nil {
		if !os.IsNotExist(err) {
			m.log.Warn("读取工作目录失败", zap.String("dir", m.workDir), zap.Error(err))
		}
		return 0
	}

	cutoff := now.Add(-m.cfg.ScratchMaxAge)
	removed := 0
	for _, e := range entries {
		info, err := e.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		p := filepath.Join(m.workDir, e.Name())
		if err := os.RemoveAll(p); err != nil {
			m.log.Warn("删除过期临时目录失败", zap.String("path", p), zap.Error(err))
			continue
		}
		removed++
	}
	if removed > 0 {
		m.log.Infof("清理了 %d 个过期临时目录", removed)
	}
	return removed
}
