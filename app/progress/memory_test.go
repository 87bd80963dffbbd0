package progress

import (
	"context"
	"testing"
	"time"

	"video-transcoder/app/config"
)

func TestMemoryTrackerAbsentIsNotZero(t *testing.T) {
	ctx := context.Background()
	tr := NewMemoryTracker(time.Hour)

	if _, ok, err := tr.Get(ctx, "v1"); ok || err != nil {
		t.Fatalf("unset key: ok=%v err=%v", ok, err)
	}

	if err := tr.Set(ctx, "v1", 0, time.Minute); err != nil {
		t.Fatal(err)
	}
	got, ok, err := tr.Get(ctx, "v1")
	if err != nil || !ok || got != 0 {
		t.Fatalf("Get = %d, %v, %v; want 0, true, nil", got, ok, err)
	}
}

func TestMemoryTrackerSetGetClear(t *testing.T) {
	ctx := context.Background()
	tr := NewMemoryTracker(time.Hour)

	for _, p := range []int{10, 55, 100} {
		if err := tr.Set(ctx, "v1", p, time.Minute); err != nil {
			t.Fatal(err)
		}
		if got, ok, _ := tr.Get(ctx, "v1"); !ok || got != p {
			t.Errorf("Get = %d, %v; want %d", got, ok, p)
		}
	}

	if err := tr.Clear(ctx, "v1"); err != nil {
		t.Fatal(err)
	}
	if _, ok, _ := tr.Get(ctx, "v1"); ok {
		t.Error("entry still present after Clear")
	}
}

func TestMemoryTrackerExpiry(t *testing.T) {
	ctx := context.Background()
	tr := NewMemoryTracker(time.Hour)

	if err := tr.Set(ctx, "v1", 42, 20*time.Millisecond); err != nil {
		t.Fatal(err)
	}
	time.Sleep(50 * time.Millisecond)
	if _, ok, _ := tr.Get(ctx, "v1"); ok {
		t.Error("entry survived its ttl")
	}
}

func TestNew(t *testing.T) {
	tr, err := New(config.ProgressConfig{Driver: "memory", TTL: time.Hour})
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := tr.(*MemoryTracker); !ok {
		t.Errorf("New(memory) = %T", tr)
	}
	if _, err := New(config.ProgressConfig{Driver: "etcd"}); err == nil {
		t.Error("expected error for unknown driver")
	}
}

func TestKey(t *testing.T) {
	if got := Key("abc"); got != "video_progress_abc" {
		t.Errorf("Key = %q", got)
	}
}
