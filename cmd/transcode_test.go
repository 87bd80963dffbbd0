package cmd

import "testing"

func TestParseSubtitleFlags(t *testing.T) {
	subs, err := parseSubtitleFlags([]string{"subs/a.en.srt:en", `C:\subs\b.srt:pt-BR`})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(subs) != 2 {
		t.Fatalf("expected 2 subtitles, got %d", len(subs))
	}
	if subs[0].Path != "subs/a.en.srt" || subs[0].Lang != "en" {
		t.Errorf("unexpected first subtitle: %+v", subs[0])
	}
	if subs[1].Path != `C:\subs\b.srt` || subs[1].Lang != "pt-BR" {
		t.Errorf("unexpected second subtitle: %+v", subs[1])
	}

	for _, bad := range []string{"no-lang", ":en", "path:"} {
		if _, err := parseSubtitleFlags([]string{bad}); err == nil {
			t.Errorf("expected error for %q", bad)
		}
	}
}
