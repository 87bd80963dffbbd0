package media

import (
	"context"
	"os"
	"strings"
	"testing"

	"video-transcoder/app/storage"
)

const sampleSRT = "1\r\n00:00:01,000 --> 00:00:02,500\r\nHello\r\n\r\n2\r\n00:00:03,000 --> 00:00:04,000\r\nWorld\r\n"

func TestConvertSRT(t *testing.T) {
	for name, raw := range map[string][]byte{
		"plain": []byte(sampleSRT),
		"bom":   append([]byte("\xEF\xBB\xBF"), sampleSRT...),
	} {
		vtt, err := ConvertSRT(raw)
		if err != nil {
			t.Fatalf("%s: %v", name, err)
		}
		s := string(vtt)
		if !strings.HasPrefix(s, "WEBVTT") {
			t.Errorf("%s: missing WEBVTT header:\n%s", name, s)
		}
		if !strings.Contains(s, "00:00:01.000 --> 00:00:02.500") || !strings.Contains(s, "World") {
			t.Errorf("%s: cues not converted:\n%s", name, s)
		}
	}
}

func TestSanitizeLang(t *testing.T) {
	cases := map[string]string{
		"en":     "en",
		"pt-BR":  "pt-BR",
		"../etc": "etc",
		"":       "und",
		" / ":    "und",
	}
	for in, want := range cases {
		if got := SanitizeLang(in); got != want {
			t.Errorf("SanitizeLang(%q) = %q, want %q", in, got, want)
		}
	}
}

type fakeExtractor struct {
	Engine
	indexes []int
}

func (f *fakeExtractor) ExtractSubtitle(ctx context.Context, source string, streamIndex int, dest string) error {
	f.indexes = append(f.indexes, streamIndex)
	return os.WriteFile(dest, []byte("WEBVTT\n"), 0o644)
}

func TestSubtitleConverter(t *testing.T) {
	ctx := context.Background()
	raw, err := storage.NewLocalDisk("raw", t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	hls, err := storage.NewLocalDisk("hls", t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if err := raw.Put(ctx, "subs/en.srt", []byte(sampleSRT)); err != nil {
		t.Fatal(err)
	}

	engine := &fakeExtractor{}
	c := &SubtitleConverter{Raw: raw, HLS: hls, Engine: engine, WorkDir: t.TempDir()}

	track, err := c.ConvertExternal(ctx, "v1", ExternalSubtitle{Path: "subs/en.srt", Lang: "en"})
	if err != nil {
		t.Fatalf("ConvertExternal: %v", err)
	}
	if track.URI != "sub_en.vtt" {
		t.Errorf("external uri = %q", track.URI)
	}

	stream := Stream{Index: 5, CodecType: "subtitle", Tags: map[string]string{"language": "fre"}}
	track, err = c.ExtractEmbedded(ctx, "v1", "/raw/a.mkv", stream)
	if err != nil {
		t.Fatalf("ExtractEmbedded: %v", err)
	}
	if track.URI != "sub_fre_5.vtt" || track.Lang != "fre" {
		t.Errorf("embedded track = %+v", track)
	}
	if len(engine.indexes) != 1 || engine.indexes[0] != 5 {
		t.Errorf("extracted stream indexes = %v, want [5]", engine.indexes)
	}

	for _, p := range []string{"v1/sub_en.vtt", "v1/sub_fre_5.vtt"} {
		if ok, _ := hls.Exists(ctx, p); !ok {
			t.Errorf("%s not written", p)
		}
	}

	if _, err := c.ConvertExternal(ctx, "v1", ExternalSubtitle{Path: "missing.srt", Lang: "de"}); err == nil {
		t.Error("expected error for missing subtitle file")
	}
}
