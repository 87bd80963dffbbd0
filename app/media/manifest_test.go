package media

import (
	"context"
	"strings"
	"testing"

	"video-transcoder/app/model"
	"video-transcoder/app/storage"
)

const ffmpegMaster = `#EXTM3U
#EXT-X-VERSION:3
#EXT-X-STREAM-INF:BANDWIDTH=628000,RESOLUTION=640x360,CODECS="avc1.64001e,mp4a.40.2"
stream_0.m3u8

#EXT-X-STREAM-INF:BANDWIDTH=1728000,RESOLUTION=1280x720,CODECS="avc1.64001f,mp4a.40.2"
stream_1.m3u8
`

func testSubs() []model.Track {
	return []model.Track{
		{Lang: "en", URI: "sub_en.vtt"},
		{Lang: "fr", URI: "sub_fr_3.vtt"},
	}
}

func TestPatchNoSubtitles(t *testing.T) {
	got, playlists := Patch(ffmpegMaster, nil, 120)
	if got != ffmpegMaster {
		t.Errorf("Patch without subtitles changed manifest:\n%s", got)
	}
	if len(playlists) != 0 {
		t.Errorf("got %d playlists, want 0", len(playlists))
	}
}

func TestPatchInjectsSubtitleGroup(t *testing.T) {
	got, playlists := Patch(ffmpegMaster, testSubs(), 120)

	if strings.Count(got, "#EXT-X-VERSION:") != 1 || !strings.Contains(got, "#EXT-X-VERSION:4") {
		t.Errorf("version directive not bumped to 4:\n%s", got)
	}
	if strings.Count(got, `SUBTITLES="subs"`) != 2 {
		t.Errorf("every stream-inf must join the subtitle group:\n%s", got)
	}
	if !strings.Contains(got, `CODECS="avc1.64001e,mp4a.40.2",SUBTITLES="subs"`) {
		t.Errorf("quoted attribute was split:\n%s", got)
	}
	if strings.Count(got, "DEFAULT=YES") != 1 {
		t.Errorf("exactly one default subtitle expected:\n%s", got)
	}
	want := `#EXT-X-MEDIA:TYPE=SUBTITLES,GROUP-ID="subs",NAME="en",DEFAULT=YES,AUTOSELECT=YES,FORCED=NO,LANGUAGE="en",URI="playlist_sub_en_0.m3u8"`
	if !strings.Contains(got, want) {
		t.Errorf("missing media line %q in:\n%s", want, got)
	}
	if strings.Index(got, "#EXT-X-MEDIA:") > strings.Index(got, "#EXT-X-STREAM-INF:") {
		t.Errorf("media lines must precede stream-inf lines:\n%s", got)
	}
	if !strings.HasSuffix(got, "\n") {
		t.Error("trailing newline lost")
	}

	if len(playlists) != 2 {
		t.Fatalf("got %d playlists, want 2", len(playlists))
	}
	if playlists[1].Name != "playlist_sub_fr_1.m3u8" {
		t.Errorf("playlist name = %q", playlists[1].Name)
	}
	if !strings.Contains(playlists[1].Content, "\nsub_fr_3.vtt\n") || !strings.Contains(playlists[1].Content, "#EXTINF:120.000,") {
		t.Errorf("unexpected playlist content:\n%s", playlists[1].Content)
	}
}

func TestPatchIdempotent(t *testing.T) {
	once, _ := Patch(ffmpegMaster, testSubs(), 120)
	twice, _ := Patch(once, testSubs(), 120)
	if once != twice {
		t.Errorf("second patch changed manifest:\nonce:\n%s\ntwice:\n%s", once, twice)
	}
}

func TestPatchInsertsMissingVersion(t *testing.T) {
	master := "#EXTM3U\n#EXT-X-STREAM-INF:BANDWIDTH=1\nstream_0.m3u8\n"
	got, _ := Patch(master, testSubs()[:1], 0)
	lines := strings.Split(got, "\n")
	if lines[0] != "#EXTM3U" || lines[1] != "#EXT-X-VERSION:4" {
		t.Errorf("version directive not inserted after header:\n%s", got)
	}
}

func TestPatchKeepsHigherVersion(t *testing.T) {
	master := "#EXTM3U\n#EXT-X-VERSION:6\n#EXT-X-STREAM-INF:BANDWIDTH=1\nstream_0.m3u8\n"
	got, _ := Patch(master, testSubs()[:1], 0)
	if !strings.Contains(got, "#EXT-X-VERSION:6") {
		t.Errorf("higher version was lowered:\n%s", got)
	}
}

func TestPatchMaster(t *testing.T) {
	ctx := context.Background()
	disk, err := storage.NewLocalDisk("hls", t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	// 清单不存在时不报错
	if err := PatchMaster(ctx, disk, "v1", testSubs(), 60); err != nil {
		t.Fatalf("missing manifest: %v", err)
	}

	if err := disk.Put(ctx, "v1/master.m3u8", []byte(ffmpegMaster)); err != nil {
		t.Fatal(err)
	}
	if err := PatchMaster(ctx, disk, "v1", testSubs(), 60); err != nil {
		t.Fatalf("PatchMaster: %v", err)
	}

	data, err := disk.Get(ctx, "v1/master.m3u8")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), `GROUP-ID="subs"`) {
		t.Errorf("manifest not patched:\n%s", data)
	}
	for _, name := range []string{"v1/playlist_sub_en_0.m3u8", "v1/playlist_sub_fr_1.m3u8"} {
		ok, err := disk.Exists(ctx, name)
		if err != nil || !ok {
			t.Errorf("%s not written (err=%v)", name, err)
		}
	}
}
