package media

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"video-transcoder/app/model"
	"video-transcoder/app/storage"

	"github.com/asticode/go-astisub"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// ExternalSubtitle 调用方随触发请求提供的外挂字幕
type ExternalSubtitle struct {
	Path string `json:"path"`
	Lang string `json:"lang"`
}

// ConvertSRT 将 SRT 字幕转换为 WebVTT，兼容带 BOM 的 UTF-8/UTF-16 文件
func ConvertSRT(raw []byte) ([]byte, error) {
	decoder := unicode.BOMOverride(unicode.UTF8.NewDecoder())
	reader := transform.NewReader(bytes.NewReader(raw), decoder)

	subs, err := astisub.ReadFromSRT(reader)
	if err != nil {
		return nil, fmt.Errorf("解析 SRT 失败: %w", err)
	}

	var buf bytes.Buffer
	if err := subs.WriteToWebVTT(&buf); err != nil {
		return nil, fmt.Errorf("写入 WebVTT 失败: %w", err)
	}
	return buf.Bytes(), nil
}

// SanitizeLang 语言标签只保留字母数字和连字符，避免拼出非法路径
func SanitizeLang(lang string) string {
	var b strings.Builder
	for _, r := range strings.TrimSpace(lang) {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return "und"
	}
	return b.String()
}

// ExternalSubtitleName 外挂字幕输出文件名
func ExternalSubtitleName(lang string) string {
	return fmt.Sprintf("sub_%s.vtt", SanitizeLang(lang))
}

// EmbeddedSubtitleName 内嵌字幕输出文件名，带流索引区分同语言轨道
func EmbeddedSubtitleName(lang string, streamIndex int) string {
	return fmt.Sprintf("sub_%s_%d.vtt", SanitizeLang(lang), streamIndex)
}

// SubtitleConverter 将字幕转换为 WebVTT 并写入 HLS 存储
type SubtitleConverter struct {
	Raw     storage.Disk
	HLS     storage.Disk
	Engine  Engine
	WorkDir string // 内嵌字幕抽取时的临时目录
}

// ConvertExternal 读取原始存储中的 SRT，转换后写入 {videoID}/sub_{lang}.vtt
func (c *SubtitleConverter) ConvertExternal(ctx context.Context, videoID string, sub ExternalSubtitle) (model.Track, error) {
	raw, err := c.Raw.Get(ctx, sub.Path)
	if err != nil {
		return model.Track{}, fmt.Errorf("读取字幕 %s 失败: %w", sub.Path, err)
	}
	vtt, err := ConvertSRT(raw)
	if err != nil {
		return model.Track{}, fmt.Errorf("转换字幕 %s 失败: %w", sub.Path, err)
	}

	name := ExternalSubtitleName(sub.Lang)
	if err := c.HLS.Put(ctx, path.Join(videoID, name), vtt); err != nil {
		return model.Track{}, fmt.Errorf("写入字幕 %s 失败: %w", name, err)
	}
	return model.Track{Lang: SanitizeLang(sub.Lang), URI: name}, nil
}

// ExtractEmbedded 按流索引抽取内嵌字幕并写入 {videoID}/sub_{lang}_{index}.vtt
func (c *SubtitleConverter) ExtractEmbedded(ctx context.Context, videoID, source string, stream Stream) (model.Track, error) {
	lang := SanitizeLang(stream.Language())
	name := EmbeddedSubtitleName(lang, stream.Index)

	if c.WorkDir != "" {
		if err := os.MkdirAll(c.WorkDir, 0o755); err != nil {
			return model.Track{}, err
		}
	}
	tmp, err := os.MkdirTemp(c.WorkDir, "sub-")
	if err != nil {
		return model.Track{}, err
	}
	defer os.RemoveAll(tmp)

	dest := filepath.Join(tmp, name)
	if err := c.Engine.ExtractSubtitle(ctx, source, stream.Index, dest); err != nil {
		return model.Track{}, fmt.Errorf("抽取字幕流 %d 失败: %w", stream.Index, err)
	}

	f, err := os.Open(dest)
	if err != nil {
		return model.Track{}, err
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return model.Track{}, err
	}

	if err := c.HLS.Put(ctx, path.Join(videoID, name), data); err != nil {
		return model.Track{}, fmt.Errorf("写入字幕 %s 失败: %w", name, err)
	}
	return model.Track{Lang: lang, URI: name}, nil
}
