package config

import (
	"fmt"
	"log"
	"slices"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Log         LogConfig         `mapstructure:"log"`
	JWT         JWTConfig         `mapstructure:"jwt"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Storage     StorageConfig     `mapstructure:"storage"`
	Transcode   TranscodeConfig   `mapstructure:"transcode"`
	Queue       QueueConfig       `mapstructure:"queue"`
	Progress    ProgressConfig    `mapstructure:"progress"`
	Callback    CallbackConfig    `mapstructure:"callback"`
	Maintenance MaintenanceConfig `mapstructure:"maintenance"`
}

type ServerConfig struct {
	Port string `mapstructure:"port"`
	Mode string `mapstructure:"mode"` // gin 运行模式: debug, release, test
}

type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`      // json 或 text
	Output     string `mapstructure:"output"`      // stdout 或 file
	File       string `mapstructure:"file"`        // output=file 时的日志文件路径
	MaxSize    int    `mapstructure:"max_size"`    // 兆字节
	MaxBackups int    `mapstructure:"max_backups"` // 备份数量
	MaxAge     int    `mapstructure:"max_age"`     // 天数
	Compress   bool   `mapstructure:"compress"`    // 是否压缩旧文件
}

type JWTConfig struct {
	Secret       string        `mapstructure:"secret"`        // 与主应用共享的密钥
	Issuer       string        `mapstructure:"issuer"`        // 回调令牌的签发者（本服务）
	Audience     string        `mapstructure:"audience"`      // 回调令牌的接收方（主应用）
	CallerIssuer string        `mapstructure:"caller_issuer"` // 入站请求令牌要求的签发者
	CallbackTTL  time.Duration `mapstructure:"callback_ttl"`  // 回调令牌有效期
}

type DatabaseConfig struct {
	Driver string `mapstructure:"driver"` // sqlite 或 postgres
	DSN    string `mapstructure:"dsn"`
}

type StorageConfig struct {
	Raw DiskConfig `mapstructure:"raw"` // 原始视频与外挂字幕
	HLS DiskConfig `mapstructure:"hls"` // HLS 输出
}

type DiskConfig struct {
	Driver       string        `mapstructure:"driver"` // local 或 s3
	Root         string        `mapstructure:"root"`
	Bucket       string        `mapstructure:"bucket"`
	Region       string        `mapstructure:"region"`
	Endpoint     string        `mapstructure:"endpoint"`
	AccessKey    string        `mapstructure:"access_key"`
	SecretKey    string        `mapstructure:"secret_key"`
	UsePathStyle bool          `mapstructure:"use_path_style"`
	PresignTTL   time.Duration `mapstructure:"presign_ttl"`
}

// Rung 码率阶梯中的一档
type Rung struct {
	Height  int `mapstructure:"height" json:"height"`
	Width   int `mapstructure:"width" json:"width"`
	Bitrate int `mapstructure:"bitrate" json:"bitrate"` // kbps
}

// CodecParams 按编码器名称子串匹配的附加参数
type CodecParams struct {
	Match       string `mapstructure:"match"`
	PixelFormat string `mapstructure:"pixel_format"`
	HWDevice    string `mapstructure:"hw_device"`
	Filter      string `mapstructure:"filter"`
	Preset      string `mapstructure:"preset"`
}

type TranscodeConfig struct {
	Codec          string        `mapstructure:"codec"`
	AllowedCodecs  []string      `mapstructure:"allowed_codecs"`
	Ladder         []Rung        `mapstructure:"ladder"`
	CodecParams    []CodecParams `mapstructure:"codec_params"`
	SegmentSeconds int           `mapstructure:"segment_seconds"`
	WorkDir        string        `mapstructure:"work_dir"`
	FFmpegPath     string        `mapstructure:"ffmpeg_path"`
	FFprobePath    string        `mapstructure:"ffprobe_path"`
	MinDuration    time.Duration `mapstructure:"min_duration"`
}

type QueueConfig struct {
	Workers      int             `mapstructure:"workers"`
	Tries        int             `mapstructure:"tries"`
	Backoff      []time.Duration `mapstructure:"backoff"`
	Timeout      time.Duration   `mapstructure:"timeout"`
	PollInterval time.Duration   `mapstructure:"poll_interval"`
	Retention    time.Duration   `mapstructure:"retention"` // 已结束队列任务的保留时间
}

type ProgressConfig struct {
	Driver        string        `mapstructure:"driver"` // memory 或 redis
	TTL           time.Duration `mapstructure:"ttl"`
	RedisAddr     string        `mapstructure:"redis_addr"`
	RedisPassword string        `mapstructure:"redis_password"`
	RedisDB       int           `mapstructure:"redis_db"`
}

type CallbackConfig struct {
	URL       string        `mapstructure:"url"` // 为空时不发送回调
	Timeout   time.Duration `mapstructure:"timeout"`
	Retries   int           `mapstructure:"retries"`
	RetryWait time.Duration `mapstructure:"retry_wait"`
}

type MaintenanceConfig struct {
	ScratchCron   string        `mapstructure:"scratch_cron"`
	ScratchMaxAge time.Duration `mapstructure:"scratch_max_age"`
	QueueCron     string        `mapstructure:"queue_cron"`
}

func Load() *Config {
	cfg, err := Parse(viper.GetViper())
	if err != nil {
		log.Fatalf("配置加载失败: %v", err)
	}
	return cfg
}

// Parse 从给定的 viper 实例解析并校验配置
func Parse(v *viper.Viper) (*Config, error) {
	SetDefaults(v)

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("无法解码配置: %w", err)
	}

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("配置验证失败: %w", err)
	}

	return &config, nil
}

// SetDefaults 设置默认配置
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8000")
	v.SetDefault("server.mode", "release")

	// 日志默认配置
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("log.output", "stdout")
	v.SetDefault("log.file", "data/logs/video-transcoder.log")
	v.SetDefault("log.max_size", 100)
	v.SetDefault("log.max_backups", 3)
	v.SetDefault("log.max_age", 28)
	v.SetDefault("log.compress", true)

	// JWT默认配置；secret 必须由配置文件或 JWT_SECRET 提供，这里登记键名以便环境变量生效
	v.SetDefault("jwt.secret", "")
	v.SetDefault("jwt.issuer", "video-transcoder")
	v.SetDefault("jwt.audience", "main-app")
	v.SetDefault("jwt.caller_issuer", "main-app")
	v.SetDefault("jwt.callback_ttl", 60*time.Second)

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "data/video-transcoder.db")

	for disk, root := range map[string]string{"raw": "data/raw", "hls": "data/hls"} {
		prefix := "storage." + disk + "."
		v.SetDefault(prefix+"driver", "local")
		v.SetDefault(prefix+"root", root)
		v.SetDefault(prefix+"bucket", "")
		v.SetDefault(prefix+"region", "us-east-1")
		v.SetDefault(prefix+"endpoint", "")
		v.SetDefault(prefix+"access_key", "")
		v.SetDefault(prefix+"secret_key", "")
		v.SetDefault(prefix+"use_path_style", false)
		v.SetDefault(prefix+"presign_ttl", time.Hour)
	}

	v.SetDefault("transcode.codec", "libx264")
	v.SetDefault("transcode.allowed_codecs", []string{"libx264", "h264_qsv", "h264_nvenc", "h264_amf", "h264_vaapi"})
	v.SetDefault("transcode.ladder", DefaultLadder())
	v.SetDefault("transcode.codec_params", DefaultCodecParams())
	v.SetDefault("transcode.segment_seconds", 10)
	v.SetDefault("transcode.work_dir", "data/work")
	v.SetDefault("transcode.ffmpeg_path", "ffmpeg")
	v.SetDefault("transcode.ffprobe_path", "ffprobe")
	v.SetDefault("transcode.min_duration", time.Second)

	v.SetDefault("queue.workers", 2)
	v.SetDefault("queue.tries", 3)
	v.SetDefault("queue.backoff", []time.Duration{60 * time.Second, 300 * time.Second})
	v.SetDefault("queue.timeout", 2*time.Hour)
	v.SetDefault("queue.poll_interval", time.Second)
	v.SetDefault("queue.retention", 7*24*time.Hour)

	v.SetDefault("progress.driver", "memory")
	v.SetDefault("progress.ttl", 2*time.Hour)
	v.SetDefault("progress.redis_addr", "127.0.0.1:6379")
	v.SetDefault("progress.redis_password", "")
	v.SetDefault("progress.redis_db", 0)

	v.SetDefault("callback.url", "")

	v.SetDefault("callback.timeout", 10*time.Second)
	v.SetDefault("callback.retries", 3)
	v.SetDefault("callback.retry_wait", 100*time.Millisecond)

	v.SetDefault("maintenance.scratch_cron", "@every 30m")
	v.SetDefault("maintenance.scratch_max_age", 6*time.Hour)
	v.SetDefault("maintenance.queue_cron", "@hourly")
}

// DefaultLadder 默认码率阶梯，按高度升序
func DefaultLadder() []Rung {
	return []Rung{
		{Height: 360, Width: 640, Bitrate: 500},
		{Height: 720, Width: 1280, Bitrate: 1500},
		{Height: 1080, Width: 1920, Bitrate: 3000},
		{Height: 2160, Width: 3840, Bitrate: 12000},
	}
}

// DefaultCodecParams 硬件编码器的默认附加参数
func DefaultCodecParams() []CodecParams {
	return []CodecParams{
		{Match: "qsv", PixelFormat: "nv12"},
		{Match: "vaapi", HWDevice: "/dev/dri/renderD128", Filter: "format=nv12,hwupload"},
		{Match: "nvenc", Preset: "p4"},
	}
}

// validateConfig 验证配置的有效性
func validateConfig(config *Config) error {
	if config.Server.Port == "" {
		return fmt.Errorf("服务器端口未设置")
	}
	if config.JWT.Secret == "" {
		return fmt.Errorf("JWT密钥未设置")
	}
	if !slices.Contains(config.Transcode.AllowedCodecs, config.Transcode.Codec) {
		return fmt.Errorf("编码器 %s 不在允许列表 %v 中", config.Transcode.Codec, config.Transcode.AllowedCodecs)
	}
	if len(config.Transcode.Ladder) == 0 {
		return fmt.Errorf("码率阶梯不能为空")
	}
	if config.Queue.Tries < 1 {
		return fmt.Errorf("queue.tries 至少为 1")
	}
	for name, disk := range map[string]DiskConfig{"raw": config.Storage.Raw, "hls": config.Storage.HLS} {
		switch strings.ToLower(disk.Driver) {
		case "local":
			if disk.Root == "" {
				return fmt.Errorf("存储 %s 未设置 root", name)
			}
		case "s3":
			if disk.Bucket == "" {
				return fmt.Errorf("存储 %s 未设置 bucket", name)
			}
		default:
			return fmt.Errorf("存储 %s 的驱动 %q 不受支持", name, disk.Driver)
		}
	}
	switch config.Database.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("数据库驱动 %q 不受支持", config.Database.Driver)
	}
	switch config.Progress.Driver {
	case "memory", "redis":
	default:
		return fmt.Errorf("进度存储驱动 %q 不受支持", config.Progress.Driver)
	}
	return nil
}
