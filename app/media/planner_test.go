package media

import (
	"testing"

	"video-transcoder/app/config"
)

func TestPlanNeverUpscales(t *testing.T) {
	ladder := config.DefaultLadder()
	for h := 0; h <= 4320; h += 10 {
		got := Plan(h, ladder, "libx264", nil)
		if len(got) == 0 || len(got) > len(ladder) {
			t.Fatalf("height %d: got %d renditions", h, len(got))
		}

		var want []config.Rung
		for _, r := range ladder {
			if r.Height <= h {
				want = append(want, r)
			}
		}
		if len(want) == 0 {
			want = ladder[:1]
		}
		if len(got) != len(want) {
			t.Fatalf("height %d: got %d renditions, want %d", h, len(got), len(want))
		}
		for i := range want {
			if got[i].Height != want[i].Height || got[i].Width != want[i].Width || got[i].Bitrate != want[i].Bitrate {
				t.Errorf("height %d: rendition %d = %+v, want %+v", h, i, got[i], want[i])
			}
		}
	}
}

func TestPlan1080(t *testing.T) {
	got := Plan(1080, config.DefaultLadder(), "libx264", nil)
	heights := []int{360, 720, 1080}
	if len(got) != len(heights) {
		t.Fatalf("got %d renditions, want %d", len(got), len(heights))
	}
	for i, h := range heights {
		if got[i].Height != h {
			t.Errorf("rendition %d height = %d, want %d", i, got[i].Height, h)
		}
	}
}

func TestPlanUnsortedLadder(t *testing.T) {
	ladder := []config.Rung{
		{Height: 720, Width: 1280, Bitrate: 1500},
		{Height: 360, Width: 640, Bitrate: 500},
	}
	got := Plan(240, ladder, "libx264", nil)
	if len(got) != 1 || got[0].Height != 360 {
		t.Fatalf("fallback = %+v, want single 360p rung", got)
	}
	if ladder[0].Height != 720 {
		t.Error("Plan must not reorder the caller's ladder")
	}
}

func TestPlanEmptyLadder(t *testing.T) {
	if got := Plan(1080, nil, "libx264", nil); got != nil {
		t.Errorf("Plan with empty ladder = %+v, want nil", got)
	}
}

func TestCodecParamsFor(t *testing.T) {
	table := config.DefaultCodecParams()
	tests := []struct {
		codec string
		want  EncoderParams
	}{
		{"libx264", EncoderParams{Codec: "libx264"}},
		{"h264_qsv", EncoderParams{Codec: "h264_qsv", PixelFormat: "nv12"}},
		{"h264_vaapi", EncoderParams{Codec: "h264_vaapi", HWDevice: "/dev/dri/renderD128", Filter: "format=nv12,hwupload"}},
		{"h264_nvenc", EncoderParams{Codec: "h264_nvenc", Preset: "p4"}},
		{"hevc_qsv_nvenc", EncoderParams{Codec: "hevc_qsv_nvenc", Preset: "p4"}},
	}
	for _, tt := range tests {
		if got := CodecParamsFor(tt.codec, table); got != tt.want {
			t.Errorf("CodecParamsFor(%q) = %+v, want %+v", tt.codec, got, tt.want)
		}
	}
}
