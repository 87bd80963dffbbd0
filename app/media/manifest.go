package media

import (
	"context"
	"errors"
	"fmt"
	"math"
	"path"
	"strconv"
	"strings"

	"video-transcoder/app/model"
	"video-transcoder/app/storage"
)

const (
	// SubtitleGroup master 清单中字幕组的 GROUP-ID
	SubtitleGroup = "subs"

	subtitleVersion = 4

	tagHeader    = "#EXTM3U"
	tagVersion   = "#EXT-X-VERSION:"
	tagStreamInf = "#EXT-X-STREAM-INF:"
	tagMedia     = "#EXT-X-MEDIA:"
)

type lineKind int

const (
	lineOther lineKind = iota
	lineHeader
	lineVersion
	lineStreamInf
	lineMedia
)

type manifestLine struct {
	kind lineKind
	text string
}

func classify(text string) lineKind {
	switch {
	case text == tagHeader:
		return lineHeader
	case strings.HasPrefix(text, tagVersion):
		return lineVersion
	case strings.HasPrefix(text, tagStreamInf):
		return lineStreamInf
	case strings.HasPrefix(text, tagMedia):
		return lineMedia
	default:
		return lineOther
	}
}

// SubtitlePlaylist 为单条字幕生成的子播放列表
type SubtitlePlaylist struct {
	Name    string
	Content string
}

// SubtitlePlaylistName 子播放列表文件名，index 为字幕在列表中的位置
func SubtitlePlaylistName(lang string, index int) string {
	return fmt.Sprintf("playlist_sub_%s_%d.m3u8", SanitizeLang(lang), index)
}

// Patch 向 master 清单注入字幕组；subs 为空时原样返回。
// 已存在的字幕组条目会先移除再重建，对同一输入重复执行结果不变
func Patch(master string, subs []model.Track, duration float64) (string, []SubtitlePlaylist) {
	if len(subs) == 0 {
		return master, nil
	}

	trailingNewline := strings.HasSuffix(master, "\n")
	raw := strings.Split(strings.TrimRight(master, "\n"), "\n")

	lines := make([]manifestLine, 0, len(raw)+len(subs)+1)
	hasVersion := false
	for _, text := range raw {
		text = strings.TrimRight(text, "\r")
		l := manifestLine{kind: classify(text), text: text}
		switch l.kind {
		case lineMedia:
			if isSubtitleGroupMedia(l.text) {
				continue
			}
		case lineVersion:
			hasVersion = true
			l.text = bumpVersion(l.text)
		case lineStreamInf:
			l.text = tagStreamInf + setAttribute(strings.TrimPrefix(l.text, tagStreamInf), "SUBTITLES", strconv.Quote(SubtitleGroup))
		}
		lines = append(lines, l)
	}

	if !hasVersion {
		v := manifestLine{kind: lineVersion, text: tagVersion + strconv.Itoa(subtitleVersion)}
		at := 0
		if len(lines) > 0 && lines[0].kind == lineHeader {
			at = 1
		}
		lines = insertLines(lines, at, v)
	}

	playlists := make([]SubtitlePlaylist, 0, len(subs))
	media := make([]manifestLine, 0, len(subs))
	for i, sub := range subs {
		lang := SanitizeLang(sub.Lang)
		name := SubtitlePlaylistName(lang, i)
		playlists = append(playlists, SubtitlePlaylist{Name: name, Content: subtitlePlaylist(sub.URI, duration)})
		media = append(media, manifestLine{kind: lineMedia, text: mediaLine(lang, name, i == 0)})
	}

	at := len(lines)
	for i, l := range lines {
		if l.kind == lineStreamInf {
			at = i
			break
		}
	}
	lines = insertLines(lines, at, media...)

	var b strings.Builder
	for i, l := range lines {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(l.text)
	}
	if trailingNewline {
		b.WriteByte('\n')
	}
	return b.String(), playlists
}

// PatchMaster 读取 {videoID}/master.m3u8，写入子播放列表后回写清单；清单不存在或无字幕时不做任何事
func PatchMaster(ctx context.Context, disk storage.Disk, videoID string, subs []model.Track, duration float64) error {
	if len(subs) == 0 {
		return nil
	}
	masterPath := path.Join(videoID, MasterPlaylist)
	data, err := disk.Get(ctx, masterPath)
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("读取 master 清单失败: %w", err)
	}

	patched, playlists := Patch(string(data), subs, duration)
	for _, pl := range playlists {
		if err := disk.Put(ctx, path.Join(videoID, pl.Name), []byte(pl.Content)); err != nil {
			return fmt.Errorf("写入字幕播放列表 %s 失败: %w", pl.Name, err)
		}
	}
	if err := disk.Put(ctx, masterPath, []byte(patched)); err != nil {
		return fmt.Errorf("写入 master 清单失败: %w", err)
	}
	return nil
}

func insertLines(lines []manifestLine, at int, add ...manifestLine) []manifestLine {
	out := make([]manifestLine, 0, len(lines)+len(add))
	out = append(out, lines[:at]...)
	out = append(out, add...)
	return append(out, lines[at:]...)
}

func bumpVersion(text string) string {
	v, err := strconv.Atoi(strings.TrimSpace(strings.TrimPrefix(text, tagVersion)))
	if err != nil || v < subtitleVersion {
		return tagVersion + strconv.Itoa(subtitleVersion)
	}
	return text
}

func isSubtitleGroupMedia(text string) bool {
	attrs := parseAttributes(strings.TrimPrefix(text, tagMedia))
	var typ, group string
	for _, a := range attrs {
		switch a.key {
		case "TYPE":
			typ = a.value
		case "GROUP-ID":
			group = strings.Trim(a.value, `"`)
		}
	}
	return typ == "SUBTITLES" && group == SubtitleGroup
}

func mediaLine(lang, playlist string, isDefault bool) string {
	def := "NO"
	if isDefault {
		def = "YES"
	}
	return fmt.Sprintf(`%sTYPE=SUBTITLES,GROUP-ID="%s",NAME="%s",DEFAULT=%s,AUTOSELECT=YES,FORCED=NO,LANGUAGE="%s",URI="%s"`,
		tagMedia, SubtitleGroup, lang, def, lang, playlist)
}

// subtitlePlaylist 只有一个分片的字幕播放列表，分片时长取视频总时长
func subtitlePlaylist(uri string, duration float64) string {
	target := 10
	extinf := "10.0"
	if duration > 0 {
		target = int(math.Ceil(duration))
		extinf = strconv.FormatFloat(duration, 'f', 3, 64)
	}
	var b strings.Builder
	b.WriteString("#EXTM3U\n")
	b.WriteString("#EXT-X-VERSION:4\n")
	fmt.Fprintf(&b, "#EXT-X-TARGETDURATION:%d\n", target)
	b.WriteString("#EXT-X-MEDIA-SEQUENCE:0\n")
	b.WriteString("#EXT-X-PLAYLIST-TYPE:VOD\n")
	fmt.Fprintf(&b, "#EXTINF:%s,\n", extinf)
	b.WriteString(uri + "\n")
	b.WriteString("#EXT-X-ENDLIST\n")
	return b.String()
}

type attribute struct {
	key   string
	value string // 保留原始引号
}

// parseAttributes 解析 KEY=VALUE 列表，引号内的逗号不作为分隔符
func parseAttributes(s string) []attribute {
	var (
		attrs   []attribute
		start   int
		inQuote bool
	)
	flush := func(part string) {
		part = strings.TrimSpace(part)
		if part == "" {
			return
		}
		key, value, _ := strings.Cut(part, "=")
		attrs = append(attrs, attribute{key: strings.TrimSpace(key), value: strings.TrimSpace(value)})
	}
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '"':
			inQuote = !inQuote
		case ',':
			if !inQuote {
				flush(s[start:i])
				start = i + 1
			}
		}
	}
	flush(s[start:])
	return attrs
}

func setAttribute(s, key, value string) string {
	attrs := parseAttributes(s)
	found := false
	for i := range attrs {
		if attrs[i].key == key {
			attrs[i].value = value
			found = true
		}
	}
	if !found {
		attrs = append(attrs, attribute{key: key, value: value})
	}
	parts := make([]string, len(attrs))
	for i, a := range attrs {
		parts[i] = a.key + "=" + a.value
	}
	return strings.Join(parts, ",")
}
