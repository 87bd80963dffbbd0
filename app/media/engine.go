package media

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
)

// MasterPlaylist 主清单文件名
const MasterPlaylist = "master.m3u8"

// ProgressFunc 导出过程中的百分比回调（0-100）
type ProgressFunc func(percent int)

// ExportRequest 一次 HLS 导出的参数
type ExportRequest struct {
	Source     string
	OutputDir  string
	Renditions []Rendition
	Duration   float64 // 秒，用于计算进度
	HasAudio   bool
}

// Engine 编码引擎
type Engine interface {
	// ExportHLS 一次调用输出全部档位的播放列表与 master 清单
	ExportHLS(ctx context.Context, req ExportRequest, onProgress ProgressFunc) error
	// ExtractSubtitle 按流索引抽取内嵌字幕为 WebVTT
	ExtractSubtitle(ctx context.Context, source string, streamIndex int, dest string) error
}

// FFmpegEngine 基于 ffmpeg 命令行的编码引擎
type FFmpegEngine struct {
	Path           string
	SegmentSeconds int
}

var _ Engine = (*FFmpegEngine)(nil)

func NewFFmpegEngine(path string, segmentSeconds int) *FFmpegEngine {
	if path == "" {
		path = "ffmpeg"
	}
	if segmentSeconds <= 0 {
		segmentSeconds = 10
	}
	return &FFmpegEngine{Path: path, SegmentSeconds: segmentSeconds}
}

func (e *FFmpegEngine) ExportHLS(ctx context.Context, req ExportRequest, onProgress ProgressFunc) error {
	if len(req.Renditions) == 0 {
		return fmt.Errorf("没有可导出的档位")
	}
	if err := os.MkdirAll(req.OutputDir, 0o755); err != nil {
		return err
	}

	args := BuildHLSArgs(req, e.SegmentSeconds)
	cmd := exec.CommandContext(ctx, e.Path, args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return err
	}
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return err
	}

	ParseProgress(stdout, req.Duration, onProgress)

	if err := cmd.Wait(); err != nil {
		return processError(ctx, "ffmpeg", err, stderr.String())
	}

	if onProgress != nil {
		onProgress(100)
	}
	return nil
}

// BuildHLSArgs 构造多档位 HLS 导出的 ffmpeg 参数
func BuildHLSArgs(req ExportRequest, segmentSeconds int) []string {
	gop := segmentSeconds * 30
	params := req.Renditions[0].Params

	args := []string{"-y"}
	if params.HWDevice != "" {
		args = append(args, "-vaapi_device", params.HWDevice)
	}
	args = append(args, "-i", req.Source, "-progress", "pipe:1", "-nostats")

	for range req.Renditions {
		args = append(args, "-map", "0:v:0")
		if req.HasAudio {
			args = append(args, "-map", "0:a:0")
		}
	}

	streamMap := make([]string, 0, len(req.Renditions))
	for i, r := range req.Renditions {
		v := strconv.Itoa(i)
		filter := fmt.Sprintf("scale=%d:%d", r.Width, r.Height)
		if r.Params.Filter != "" {
			filter += "," + r.Params.Filter
		}
		args = append(args,
			"-c:v:"+v, r.Params.Codec,
			"-b:v:"+v, fmt.Sprintf("%dk", r.Bitrate),
			"-maxrate:v:"+v, fmt.Sprintf("%dk", r.Bitrate*107/100),
			"-bufsize:v:"+v, fmt.Sprintf("%dk", r.Bitrate*2),
			"-filter:v:"+v, filter,
		)
		if r.Params.PixelFormat != "" {
			args = append(args, "-pix_fmt:v:"+v, r.Params.PixelFormat)
		}
		if r.Params.Preset != "" {
			args = append(args, "-preset:v:"+v, r.Params.Preset)
		}
		if req.HasAudio {
			streamMap = append(streamMap, fmt.Sprintf("v:%d,a:%d", i, i))
		} else {
			streamMap = append(streamMap, fmt.Sprintf("v:%d", i))
		}
	}

	if req.HasAudio {
		args = append(args, "-c:a", "aac", "-b:a", "128k", "-ac", "2", "-ar", "48000")
	}

	args = append(args,
		"-g", strconv.Itoa(gop),
		"-keyint_min", strconv.Itoa(gop),
		"-sc_threshold", "0",
		"-force_key_frames", fmt.Sprintf("expr:gte(t,n_forced*%d)", segmentSeconds),
		"-f", "hls",
		"-hls_time", strconv.Itoa(segmentSeconds),
		"-hls_playlist_type", "vod",
		"-hls_list_size", "0",
		"-hls_flags", "independent_segments",
		"-hls_segment_filename", filepath.Join(req.OutputDir, "stream_%v_%05d.ts"),
		"-master_pl_name", MasterPlaylist,
		"-var_stream_map", strings.Join(streamMap, " "),
		filepath.Join(req.OutputDir, "stream_%v.m3u8"),
	)
	return args
}

// ParseProgress 读取 -progress 输出并换算为百分比，结束前最多报告 99
func ParseProgress(r io.Reader, totalSeconds float64, onProgress ProgressFunc) {
	totalUs := int64(totalSeconds * 1_000_000)
	scanner := bufio.NewScanner(r)
	lastProgress := -1
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		key, value, ok := strings.Cut(line, "=")
		if !ok || totalUs <= 0 || onProgress == nil {
			continue
		}
		// out_time_ms 实际单位也是微秒
		if key != "out_time_us" && key != "out_time_ms" {
			continue
		}
		us, err := strconv.ParseInt(value, 10, 64)
		if err != nil || us < 0 {
			continue
		}
		percent := int(float64(us) / float64(totalUs) * 100)
		if percent > 99 {
			percent = 99
		}
		if percent > lastProgress {
			lastProgress = percent
			onProgress(percent)
		}
	}
}

func (e *FFmpegEngine) ExtractSubtitle(ctx context.Context, source string, streamIndex int, dest string) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return err
	}
	args := []string{
		"-y",
		"-i", source,
		"-map", fmt.Sprintf("0:%d", streamIndex),
		"-vn", "-an",
		"-c:s", "webvtt",
		"-f", "webvtt",
		dest,
	}
	return run(ctx, e.Path, args...)
}

func run(ctx context.Context, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	cmd.Stdout = &stderr
	if err := cmd.Run(); err != nil {
		return processError(ctx, name, err, stderr.String())
	}
	return nil
}

// processError 进程被上下文杀死时 Wait 只返回 signal: killed，这里带上 ctx.Err() 以便调用方识别取消和超时
func processError(ctx context.Context, name string, err error, output string) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("%s failed: %w (%v)", name, ctxErr, err)
	}
	return fmt.Errorf("%s failed: %w: %s", name, err, tail(output, 2048))
}

// tail 只保留输出末尾，ffmpeg 的错误原因在最后几行
func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
