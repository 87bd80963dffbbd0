package media

import (
	"sort"
	"strings"

	"video-transcoder/app/config"
)

// EncoderParams 单个输出档位的编码参数
type EncoderParams struct {
	Codec       string
	PixelFormat string
	HWDevice    string
	Filter      string
	Preset      string
}

// Rendition 规划出的一个输出档位
type Rendition struct {
	Width   int
	Height  int
	Bitrate int // kbps
	Params  EncoderParams
}

// Plan 根据源视频高度从码率阶梯中选择输出档位，不做放大；
// 没有任何档位满足时退回最低档，保证 HLS 输出不为空
func Plan(sourceHeight int, ladder []config.Rung, codec string, table []config.CodecParams) []Rendition {
	if len(ladder) == 0 {
		return nil
	}

	rungs := make([]config.Rung, len(ladder))
	copy(rungs, ladder)
	sort.SliceStable(rungs, func(i, j int) bool { return rungs[i].Height < rungs[j].Height })

	params := CodecParamsFor(codec, table)

	var out []Rendition
	for _, rung := range rungs {
		if sourceHeight >= rung.Height {
			out = append(out, Rendition{Width: rung.Width, Height: rung.Height, Bitrate: rung.Bitrate, Params: params})
		}
	}
	if len(out) == 0 {
		lowest := rungs[0]
		out = append(out, Rendition{Width: lowest.Width, Height: lowest.Height, Bitrate: lowest.Bitrate, Params: params})
	}
	return out
}

// CodecParamsFor 按编码器名称子串匹配参数表，多条命中时后者覆盖前者
func CodecParamsFor(codec string, table []config.CodecParams) EncoderParams {
	params := EncoderParams{Codec: codec}
	for _, row := range table {
		if row.Match == "" || !strings.Contains(codec, row.Match) {
			continue
		}
		params = EncoderParams{
			Codec:       codec,
			PixelFormat: row.PixelFormat,
			HWDevice:    row.HWDevice,
			Filter:      row.Filter,
			Preset:      row.Preset,
		}
	}
	return params
}
