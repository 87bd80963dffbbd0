package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"video-transcoder/app/config"
	"video-transcoder/app/logger"
	"video-transcoder/app/model"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// TaskHandler 某一类任务的处理器
type TaskHandler interface {
	// Handle 执行一次尝试，返回错误时按退避策略重试
	Handle(ctx context.Context, payload []byte) error
	// Failed 重试次数用尽后调用一次
	Failed(ctx context.Context, payload []byte, err error)
}

// Enqueuer 投递任务
type Enqueuer interface {
	Enqueue(ctx context.Context, kind string, payload any) (*model.QueueTask, error)
}

// TaskQueue 基于数据库的持久化任务队列，支持有限次重试、退避和单次超时
type TaskQueue struct {
	db       *gorm.DB
	cfg      config.QueueConfig
	log      *logger.Logger
	handlers map[string]TaskHandler
	workers  chan struct{} // 控制并发数的信号量
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	running  bool
	mu       sync.RWMutex
	now      func() time.Time
}

var _ Enqueuer = (*TaskQueue)(nil)

// NewTaskQueue 创建任务队列
func NewTaskQueue(db *gorm.DB, cfg config.QueueConfig, log *logger.Logger) *TaskQueue {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.Tries <= 0 {
		cfg.Tries = 1
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &TaskQueue{
		db:       db,
		cfg:      cfg,
		log:      log,
		handlers: make(map[string]TaskHandler),
		workers:  make(chan struct{}, cfg.Workers),
		ctx:      ctx,
		cancel:   cancel,
		now:      time.Now,
	}
}

// Register 注册任务处理器
func (q *TaskQueue) Register(kind string, h TaskHandler) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.handlers[kind] = h
}

// Enqueue 添加任务，立即可被领取
func (q *TaskQueue) Enqueue(ctx context.Context, kind string, payload any) (*model.QueueTask, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("序列化任务参数失败: %w", err)
	}

	task := &model.QueueTask{
		Kind:        kind,
		Payload:     string(data),
		Status:      model.StatusPending,
		MaxAttempts: q.cfg.Tries,
		AvailableAt: q.now(),
	}
	if err := q.db.WithContext(ctx).Create(task).Error; err != nil {
		q.log.Errorf("添加任务失败: %v", err)
		return nil, err
	}

	q.log.Info("任务已添加到队列", zap.Uint("task_id", task.ID), zap.String("kind", kind))
	return task, nil
}

// Start 启动队列轮询；上次退出时处理中的任务回到待处理状态
func (q *TaskQueue) Start() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.running {
		q.log.Warn("任务队列已经在运行中")
		return
	}

	result := q.db.Model(&model.QueueTask{}).
		Where("status = ?", model.StatusProcessing).
		Updates(map[string]any{"status": model.StatusPending, "available_at": q.now()})
	if result.Error != nil {
		q.log.Errorf("重置处理中任务失败: %v", result.Error)
	} else if result.RowsAffected > 0 {
		q.log.Infof("已将 %d 个中断的任务重置为待处理", result.RowsAffected)
	}

	q.running = true
	q.wg.Add(1)
	go q.processQueue()

	q.log.Infof("任务队列已启动，最大并发数: %d", cap(q.workers))
}

// Stop 停止领取新任务并等待执行中的任务退出
func (q *TaskQueue) Stop() {
	q.mu.Lock()
	if !q.running {
		q.mu.Unlock()
		return
	}
	q.running = false
	q.mu.Unlock()

	q.log.Info("正在停止任务队列...")
	q.cancel()
	q.wg.Wait()
	q.log.Info("任务队列已停止")
}

// processQueue 轮询待处理任务，受信号量限制并发
func (q *TaskQueue) processQueue() {
	defer q.wg.Done()

	ticker := time.NewTicker(q.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-q.ctx.Done():
			return
		case <-ticker.C:
			q.dispatch()
		}
	}
}

func (q *TaskQueue) dispatch() {
	for {
		select {
		case q.workers <- struct{}{}:
		default:
			return // 没有空闲的工作者
		}

		task, err := q.claimNext()
		if err != nil || task == nil {
			<-q.workers
			if err != nil {
				q.log.Errorf("获取任务失败: %v", err)
			}
			return
		}

		q.wg.Add(1)
		go func() {
			defer q.wg.Done()
			defer func() { <-q.workers }()
			q.execute(q.ctx, task)
		}()
	}
}

// RunNext 同步领取并执行一个到期任务，没有任务时返回 false
func (q *TaskQueue) RunNext(ctx context.Context) (bool, error) {
	task, err := q.claimNext()
	if err != nil || task == nil {
		return false, err
	}
	q.execute(ctx, task)
	return true, nil
}

// claimNext 用条件更新领取最早的到期任务，多个实例并发领取时只有一个成功
func (q *TaskQueue) claimNext() (*model.QueueTask, error) {
	for {
		var task model.QueueTask
		err := q.db.Where("status = ? AND available_at <= ?", model.StatusPending, q.now()).
			Order("available_at ASC, id ASC").First(&task).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}

		now := q.now()
		result := q.db.Model(&model.QueueTask{}).
			Where("id = ? AND status = ?", task.ID, model.StatusPending).
			Updates(map[string]any{
				"status":     model.StatusProcessing,
				"attempts":   gorm.Expr("attempts + 1"),
				"started_at": now,
			})
		if result.Error != nil {
			return nil, result.Error
		}
		if result.RowsAffected == 0 {
			continue // 被其他工作者抢先领取
		}

		task.Status = model.StatusProcessing
		task.Attempts++
		task.StartedAt = &now
		return &task, nil
	}
}

// execute 执行一次尝试并根据结果推进任务状态
func (q *TaskQueue) execute(parent context.Context, task *model.QueueTask) {
	log := q.log.With(zap.Uint("task_id", task.ID), zap.String("kind", task.Kind), zap.Int("attempt", task.Attempts))

	q.mu.RLock()
	handler, ok := q.handlers[task.Kind]
	q.mu.RUnlock()
	if !ok {
		task.Attempts = task.MaxAttempts
		task.SetError(fmt.Errorf("未注册的任务类型: %s", task.Kind), q.now())
		q.save(task, log)
		log.Error("未注册的任务类型，任务直接失败")
		return
	}

	ctx := parent
	var cancel context.CancelFunc
	if q.cfg.Timeout > 0 {
		ctx, cancel = context.WithTimeout(parent, q.cfg.Timeout)
	} else {
		ctx, cancel = context.WithCancel(parent)
	}
	startTime := time.Now()
	err := q.safeHandle(ctx, handler, task)
	timedOut := parent.Err() == nil && errors.Is(ctx.Err(), context.DeadlineExceeded)
	cancel()
	executionTime := time.Since(startTime)

	if err == nil {
		task.SetCompleted()
		q.save(task, log)
		log.Info("任务完成", zap.Duration("elapsed", executionTime))
		return
	}

	// 进程退出导致的中断不计入尝试次数，处理器返回的错误可能不包含 context.Canceled
	if parent.Err() != nil {
		task.Attempts--
		task.Status = model.StatusPending
		task.AvailableAt = q.now()
		q.save(task, log)
		log.Warn("任务因停止被中断，稍后重新执行")
		return
	}

	if timedOut {
		err = fmt.Errorf("执行超时(%s): %w", q.cfg.Timeout, err)
	}

	retryAt := q.now().Add(q.backoff(task.Attempts))
	task.SetError(err, retryAt)
	q.save(task, log)

	if task.Status == model.StatusPending {
		log.Warn("任务执行失败，将重试",
			zap.Error(err), zap.Time("retry_at", retryAt), zap.Int("max_attempts", task.MaxAttempts))
		return
	}

	log.Error("任务失败(超过重试次数)", zap.Error(err))
	failCtx, failCancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer failCancel()
	handler.Failed(failCtx, []byte(task.Payload), err)
}

func (q *TaskQueue) safeHandle(ctx context.Context, handler TaskHandler, task *model.QueueTask) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("任务处理发生panic: %v", r)
		}
	}()
	return handler.Handle(ctx, []byte(task.Payload))
}

// backoff 第 n 次失败后的等待时间，超出配置长度时沿用最后一项
func (q *TaskQueue) backoff(attempts int) time.Duration {
	if len(q.cfg.Backoff) == 0 {
		return 0
	}
	i := attempts - 1
	if i < 0 {
		i = 0
	}
	if i >= len(q.cfg.Backoff) {
		i = len(q.cfg.Backoff) - 1
	}
	return q.cfg.Backoff[i]
}

func (q *TaskQueue) save(task *model.QueueTask, log *logger.Logger) {
	if err := q.db.Save(task).Error; err != nil {
		log.Error("更新任务状态失败", zap.Error(err))
	}
}

// GetQueueStatus 各状态的任务数量
func (q *TaskQueue) GetQueueStatus() (map[string]int64, error) {
	status := make(map[string]int64)
	for _, s := range []model.Status{model.StatusPending, model.StatusProcessing, model.StatusCompleted, model.StatusFailed} {
		var count int64
		if err := q.db.Model(&model.QueueTask{}).Where("status = ?", s).Count(&count).Error; err != nil {
			return nil, err
		}
		status[string(s)] = count
	}
	return status, nil
}

// PurgeFinished 删除早于 before 结束的任务
func (q *TaskQueue) PurgeFinished(before time.Time) (int64, error) {
	result := q.db.Where("status IN ? AND completed_at < ?",
		[]model.Status{model.StatusCompleted, model.StatusFailed}, before).Delete(&model.QueueTask{})
	if result.Error != nil {
		return 0, result.Error
	}
	if result.RowsAffected > 0 {
		q.log.Infof("清理了 %d 个已结束的队列任务", result.RowsAffected)
	}
	return result.RowsAffected, nil
}
