package config

import (
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
)

func TestParseDefaults(t *testing.T) {
	v := viper.New()
	v.Set("jwt.secret", "s3cret")

	cfg, err := Parse(v)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Transcode.Codec != "libx264" {
		t.Errorf("codec = %q", cfg.Transcode.Codec)
	}
	if len(cfg.Transcode.Ladder) != 4 || cfg.Transcode.Ladder[2].Height != 1080 {
		t.Errorf("ladder = %+v", cfg.Transcode.Ladder)
	}
	if cfg.Queue.Tries != 3 {
		t.Errorf("tries = %d", cfg.Queue.Tries)
	}
	if len(cfg.Queue.Backoff) != 2 || cfg.Queue.Backoff[0] != time.Minute || cfg.Queue.Backoff[1] != 5*time.Minute {
		t.Errorf("backoff = %v", cfg.Queue.Backoff)
	}
	if cfg.Storage.HLS.Driver != "local" || cfg.Storage.HLS.Root != "data/hls" {
		t.Errorf("hls disk = %+v", cfg.Storage.HLS)
	}
	if cfg.JWT.CallbackTTL != time.Minute {
		t.Errorf("callback ttl = %v", cfg.JWT.CallbackTTL)
	}
}

func TestParseValidation(t *testing.T) {
	tests := []struct {
		name string
		set  map[string]any
		want string
	}{
		{"missing secret", map[string]any{}, "JWT"},
		{"codec not allowed", map[string]any{"jwt.secret": "x", "transcode.codec": "libx265"}, "libx265"},
		{"zero tries", map[string]any{"jwt.secret": "x", "queue.tries": 0}, "queue.tries"},
		{"s3 without bucket", map[string]any{"jwt.secret": "x", "storage.raw.driver": "s3"}, "bucket"},
		{"unknown progress driver", map[string]any{"jwt.secret": "x", "progress.driver": "memcached"}, "memcached"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := viper.New()
			for k, val := range tt.set {
				v.Set(k, val)
			}
			_, err := Parse(v)
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not mention %q", err, tt.want)
			}
		})
	}
}

func TestCodecParamsDefaultsCoverHardwareEncoders(t *testing.T) {
	matches := map[string]bool{}
	for _, p := range DefaultCodecParams() {
		matches[p.Match] = true
	}
	for _, m := range []string{"qsv", "vaapi", "nvenc"} {
		if !matches[m] {
			t.Errorf("missing codec params for %s", m)
		}
	}
}
