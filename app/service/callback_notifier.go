package service

import (
	"context"
	"fmt"
	"time"

	"video-transcoder/app/auth"
	"video-transcoder/app/config"
	"video-transcoder/app/logger"
	"video-transcoder/app/model"

	"go.uber.org/zap"
	"resty.dev/v3"
)

// Notification 回调请求体
type Notification struct {
	VideoID string       `json:"video_id"`
	Status  model.Status `json:"status"`
	Path    *string      `json:"path"`
	Error   *string      `json:"error"`
}

// Notifier 向调用方发送完成或失败通知
type Notifier interface {
	Notify(ctx context.Context, callbackURL string, n Notification) error
}

// CallbackNotifier 使用短期 JWT 作为 Bearer 凭证投递回调
type CallbackNotifier struct {
	client    *resty.Client
	jwt       *auth.JWTService
	retries   int
	retryWait time.Duration
	log       *logger.Logger
}

var _ Notifier = (*CallbackNotifier)(nil)

// NewCallbackNotifier 创建回调通知器
func NewCallbackNotifier(cfg config.CallbackConfig, jwtService *auth.JWTService, log *logger.Logger) *CallbackNotifier {
	client := resty.New()
	if cfg.Timeout > 0 {
		client.SetTimeout(cfg.Timeout)
	}
	client.SetHeader("Accept", "application/json")

	retries := cfg.Retries
	if retries < 1 {
		retries = 1
	}
	return &CallbackNotifier{
		client:    client,
		jwt:       jwtService,
		retries:   retries,
		retryWait: cfg.RetryWait,
		log:       log,
	}
}

// Notify 投递通知；callbackURL 为空时跳过。失败按固定间隔重试，最终错误返回给调用方记录
func (n *CallbackNotifier) Notify(ctx context.Context, callbackURL string, payload Notification) error {
	log := n.log.With(zap.String("video_id", payload.VideoID), zap.String("status", string(payload.Status)))
	if callbackURL == "" {
		log.Debug("未配置回调地址，跳过通知")
		return nil
	}

	token, err := n.jwt.SignCallbackToken(payload.VideoID)
	if err != nil {
		return fmt.Errorf("签发回调令牌失败: %w", err)
	}

	var lastErr error
	for attempt := 1; attempt <= n.retries; attempt++ {
		if attempt > 1 && n.retryWait > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(n.retryWait):
			}
		}

		resp, err := n.client.R().
			SetContext(ctx).
			SetAuthToken(token).
			SetHeader("Content-Type", "application/json").
			SetBody(payload).
			Post(callbackURL)
		if err != nil {
			lastErr = err
		} else if resp.StatusCode() >= 200 && resp.StatusCode() < 300 {
			log.Info("回调通知已送达", zap.Int("attempt", attempt))
			return nil
		} else {
			lastErr = fmt.Errorf("回调返回状态码 %d: %s", resp.StatusCode(), resp.String())
			if resp.StatusCode() < 500 && resp.StatusCode() != 429 {
				break // 客户端错误重试也不会成功
			}
		}
		log.Warn("回调通知失败", zap.Int("attempt", attempt), zap.Error(lastErr))
	}

	return fmt.Errorf("回调通知投递失败: %w", lastErr)
}

// Close 释放 HTTP 客户端
func (n *CallbackNotifier) Close() error {
	return n.client.Close()
}
