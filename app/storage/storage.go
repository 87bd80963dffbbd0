package storage

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"

	"video-transcoder/app/config"
)

// ErrNotFound 对象不存在
var ErrNotFound = errors.New("object not found")

// Disk 对象存储抽象，路径统一使用 / 分隔的相对路径
type Disk interface {
	// Name 磁盘名称，写入 media_assets.disk
	Name() string
	Get(ctx context.Context, p string) ([]byte, error)
	Put(ctx context.Context, p string, data []byte) error
	Exists(ctx context.Context, p string) (bool, error)
	// DeleteDirectory 删除目录前缀下的全部对象，目录不存在时不报错
	DeleteDirectory(ctx context.Context, dir string) error
	// UploadDir 将本地目录中的文件上传到 prefix 下
	UploadDir(ctx context.Context, localDir, prefix string) error
	// SourceURL 返回 ffmpeg/ffprobe 可直接读取的地址
	SourceURL(ctx context.Context, p string) (string, error)
}

// New 根据配置创建磁盘
func New(ctx context.Context, name string, cfg config.DiskConfig) (Disk, error) {
	switch strings.ToLower(cfg.Driver) {
	case "local":
		return NewLocalDisk(name, cfg.Root)
	case "s3":
		return NewS3Disk(ctx, name, cfg)
	default:
		return nil, fmt.Errorf("不支持的存储驱动: %s", cfg.Driver)
	}
}

// CleanKey 规范化对象路径，拒绝越出根目录的路径
func CleanKey(p string) (string, error) {
	p = strings.ReplaceAll(strings.TrimSpace(p), "\\", "/")
	if p == "" {
		return "", fmt.Errorf("路径不能为空")
	}
	cleaned := path.Clean("/" + p)
	if cleaned == "/" {
		return "", fmt.Errorf("非法路径: %s", p)
	}
	for _, seg := range strings.Split(p, "/") {
		if seg == ".." {
			return "", fmt.Errorf("非法路径: %s", p)
		}
	}
	return strings.TrimPrefix(cleaned, "/"), nil
}

// ContentType 按扩展名推断 HLS 相关文件的 Content-Type
func ContentType(p string) string {
	switch strings.ToLower(path.Ext(p)) {
	case ".m3u8":
		return "application/vnd.apple.mpegurl"
	case ".ts":
		return "video/mp2t"
	case ".m4s":
		return "video/iso.segment"
	case ".mp4":
		return "video/mp4"
	case ".vtt":
		return "text/vtt"
	case ".srt":
		return "application/x-subrip"
	default:
		return "application/octet-stream"
	}
}
