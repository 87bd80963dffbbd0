package auth

import (
	"errors"
	"time"

	"video-transcoder/app/config"

	"github.com/golang-jwt/jwt/v5"
)

// CallbackClaims 回调通知携带的声明
type CallbackClaims struct {
	VideoID string `json:"video_id"`
	jwt.RegisteredClaims
}

// JWTService JWT服务
type JWTService struct {
	config config.JWTConfig
	now    func() time.Time
}

// NewJWTService 创建JWT服务
func NewJWTService(cfg config.JWTConfig) *JWTService {
	if cfg.CallbackTTL <= 0 {
		cfg.CallbackTTL = 60 * time.Second
	}
	return &JWTService{
		config: cfg,
		now:    time.Now,
	}
}

// SignCallbackToken 为回调通知生成短期令牌
func (j *JWTService) SignCallbackToken(videoID string) (string, error) {
	now := j.now()
	claims := CallbackClaims{
		VideoID: videoID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    j.config.Issuer,
			Audience:  jwt.ClaimStrings{j.config.Audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(j.config.CallbackTTL)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(j.config.Secret))
}

// ValidateCallerToken 验证主应用发来的请求令牌，签发者必须是 caller_issuer
func (j *JWTService) ValidateCallerToken(tokenString string) (*jwt.RegisteredClaims, error) {
	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return []byte(j.config.Secret), nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(j.config.CallerIssuer),
		jwt.WithTimeFunc(j.now),
	)
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, errors.New("invalid token")
	}
	return claims, nil
}

// ParseCallbackToken 解析并校验回调令牌，主要用于测试与排查
func (j *JWTService) ParseCallbackToken(tokenString string) (*CallbackClaims, error) {
	claims := &CallbackClaims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return []byte(j.config.Secret), nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(j.config.Issuer),
		jwt.WithAudience(j.config.Audience),
		jwt.WithTimeFunc(j.now),
	)
	if err != nil {
		return nil, err
	}
	return claims, nil
}
