package media

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime"
	"os/exec"
	"path"
	"strconv"
	"strings"
)

// Stream ffprobe 输出的单条流信息
type Stream struct {
	Index       int               `json:"index"`
	CodecType   string            `json:"codec_type"`
	CodecName   string            `json:"codec_name"`
	Width       int               `json:"width"`
	Height      int               `json:"height"`
	Tags        map[string]string `json:"tags"`
	Disposition map[string]int    `json:"disposition"`
}

// Language 流的语言标签，缺失时为 und
func (s Stream) Language() string {
	if lang := strings.TrimSpace(s.Tags["language"]); lang != "" {
		return lang
	}
	return "und"
}

// Format ffprobe 输出的容器信息
type Format struct {
	FormatName string `json:"format_name"`
	Duration   string `json:"duration"`
	BitRate    string `json:"bit_rate"`
}

// ProbeResult 媒体探测结果
type ProbeResult struct {
	Streams []Stream `json:"streams"`
	Format  Format   `json:"format"`
}

// VideoStream 第一条可解码的视频流，封面图不算
func (r *ProbeResult) VideoStream() *Stream {
	for i := range r.Streams {
		s := &r.Streams[i]
		if s.CodecType == "video" && s.Disposition["attached_pic"] == 0 {
			return s
		}
	}
	return nil
}

// StreamsOfType 按探测顺序返回指定类型的流
func (r *ProbeResult) StreamsOfType(codecType string) []Stream {
	var out []Stream
	for _, s := range r.Streams {
		if s.CodecType == codecType {
			out = append(out, s)
		}
	}
	return out
}

// HasAudio 是否包含音频流
func (r *ProbeResult) HasAudio() bool {
	return len(r.StreamsOfType("audio")) > 0
}

// Duration 时长（秒），无法解析时为 0
func (r *ProbeResult) Duration() float64 {
	d, err := strconv.ParseFloat(strings.TrimSpace(r.Format.Duration), 64)
	if err != nil {
		return 0
	}
	return d
}

// BitRate 总码率（bit/s），无法解析时为 0
func (r *ProbeResult) BitRate() int64 {
	b, err := strconv.ParseInt(strings.TrimSpace(r.Format.BitRate), 10, 64)
	if err != nil {
		return 0
	}
	return b
}

// Resolution 视频流分辨率，格式 宽x高
func (r *ProbeResult) Resolution() string {
	v := r.VideoStream()
	if v == nil {
		return ""
	}
	return fmt.Sprintf("%dx%d", v.Width, v.Height)
}

// MimeType 根据容器格式推断 MIME 类型，未知格式时按文件扩展名推断
func (r *ProbeResult) MimeType(filename string) string {
	formats := strings.Split(r.Format.FormatName, ",")
	switch {
	case contains(formats, "mp4"), contains(formats, "mov"):
		if strings.EqualFold(path.Ext(filename), ".mov") {
			return "video/quicktime"
		}
		return "video/mp4"
	case contains(formats, "matroska"):
		if strings.EqualFold(path.Ext(filename), ".webm") {
			return "video/webm"
		}
		return "video/x-matroska"
	case contains(formats, "avi"):
		return "video/x-msvideo"
	case contains(formats, "mpegts"):
		return "video/mp2t"
	case contains(formats, "flv"):
		return "video/x-flv"
	}
	if t := mime.TypeByExtension(path.Ext(filename)); t != "" {
		return t
	}
	return "application/octet-stream"
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if strings.TrimSpace(v) == s {
			return true
		}
	}
	return false
}

// Prober 探测媒体文件
type Prober interface {
	Probe(ctx context.Context, source string) (*ProbeResult, error)
}

// FFprobe 调用 ffprobe 命令实现 Prober
type FFprobe struct {
	Path string
}

func NewFFprobe(path string) *FFprobe {
	if path == "" {
		path = "ffprobe"
	}
	return &FFprobe{Path: path}
}

func (p *FFprobe) Probe(ctx context.Context, source string) (*ProbeResult, error) {
	args := []string{
		"-v", "error",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		source,
	}
	cmd := exec.CommandContext(ctx, p.Path, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("ffprobe failed: %w: %s", err, strings.TrimSpace(stderr.String()))
	}
	return ParseProbeOutput(out)
}

// ParseProbeOutput 解析 ffprobe 的 JSON 输出
func ParseProbeOutput(data []byte) (*ProbeResult, error) {
	var result ProbeResult
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("解析 ffprobe 输出失败: %w", err)
	}
	return &result, nil
}
