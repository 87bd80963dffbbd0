package cmd

import (
	"errors"
	"fmt"
	"strings"

	"video-transcoder/app/media"
	"video-transcoder/app/service"

	"github.com/spf13/cobra"
)

var (
	triggerVideoID   string
	triggerFile      string
	triggerSubtitles []string
)

// transcodeCmd 不经过 HTTP 直接触发一次转码，任务写入数据库队列，由 server 进程执行
var transcodeCmd = &cobra.Command{
	Use:   "transcode",
	Short: "预检并将视频加入转码队列",
	Example: `  video-transcoder transcode --video-id v1 --file uploads/v1.mp4
  video-transcoder transcode --video-id v1 --file uploads/v1.mp4 --sub subs/v1.en.srt:en --sub subs/v1.fr.srt:fr`,
	RunE: func(cmd *cobra.Command, args []string) error {
		subs, err := parseSubtitleFlags(triggerSubtitles)
		if err != nil {
			return err
		}

		a, err := bootstrap(cmd.Context())
		if err != nil {
			return err
		}
		defer a.close()

		result, err := a.service.Trigger(cmd.Context(), service.TriggerRequest{
			VideoID:   triggerVideoID,
			FilePath:  triggerFile,
			Subtitles: subs,
		})
		if err != nil {
			var verr *service.ValidationError
			var perr *service.PreflightError
			switch {
			case errors.As(err, &verr):
				return fmt.Errorf("参数错误: %w", err)
			case errors.As(err, &perr):
				return fmt.Errorf("预检失败: %w", perr.Err)
			}
			return err
		}

		if !result.Queued {
			fmt.Fprintf(cmd.OutOrStdout(), "Video is already %s.\n", result.Status)
			return nil
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Video is queued for transcoding. (task %d)\n", result.TaskID)
		return nil
	},
}

// parseSubtitleFlags 解析 path:lang 形式的字幕参数，按最后一个冒号切分
func parseSubtitleFlags(values []string) ([]media.ExternalSubtitle, error) {
	subs := make([]media.ExternalSubtitle, 0, len(values))
	for _, v := range values {
		i := strings.LastIndex(v, ":")
		if i <= 0 || i == len(v)-1 {
			return nil, fmt.Errorf("字幕参数 %q 格式应为 path:lang", v)
		}
		subs = append(subs, media.ExternalSubtitle{Path: v[:i], Lang: v[i+1:]})
	}
	return subs, nil
}

func init() {
	transcodeCmd.Flags().StringVar(&triggerVideoID, "video-id", "", "主应用中的视频ID")
	transcodeCmd.Flags().StringVar(&triggerFile, "file", "", "原始存储中的视频路径")
	transcodeCmd.Flags().StringArrayVar(&triggerSubtitles, "sub", nil, "外挂 SRT 字幕，格式 path:lang，可重复")
	_ = transcodeCmd.MarkFlagRequired("video-id")
	_ = transcodeCmd.MarkFlagRequired("file")
	rootCmd.AddCommand(transcodeCmd)
}
