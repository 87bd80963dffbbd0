package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"video-transcoder/app/config"
	"video-transcoder/app/database"
	"video-transcoder/app/logger"
	"video-transcoder/app/media"
	"video-transcoder/app/progress"
	"video-transcoder/app/storage"

	"gorm.io/gorm"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := database.Open(config.DatabaseConfig{
		Driver: "sqlite",
		DSN:    fmt.Sprintf("file:%s?mode=memory&cache=shared", name),
	})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := database.AutoMigrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return db
}

func testConfig(t *testing.T) *config.Config {
	return &config.Config{
		Transcode: config.TranscodeConfig{
			Codec:          "libx264",
			AllowedCodecs:  []string{"libx264"},
			Ladder:         config.DefaultLadder(),
			CodecParams:    config.DefaultCodecParams(),
			SegmentSeconds: 10,
			WorkDir:        filepath.Join(t.TempDir(), "work"),
			MinDuration:    time.Second,
		},
		Queue: config.QueueConfig{
			Workers:      1,
			Tries:        3,
			Backoff:      []time.Duration{60 * time.Second, 300 * time.Second},
			Timeout:      time.Minute,
			PollInterval: 10 * time.Millisecond,
		},
		Progress: config.ProgressConfig{Driver: "memory", TTL: time.Hour},
		Callback: config.CallbackConfig{URL: "http://main-app.test/callback"},
	}
}

// fakeProber 对任何输入返回同一份探测结果
type fakeProber struct {
	mu     sync.Mutex
	result *media.ProbeResult
	err    error
	calls  int
}

func (p *fakeProber) Probe(ctx context.Context, source string) (*media.ProbeResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if p.err != nil {
		return nil, p.err
	}
	return p.result, nil
}

func probeResult(height int, duration string, extra ...media.Stream) *media.ProbeResult {
	streams := []media.Stream{
		{Index: 0, CodecType: "video", CodecName: "h264", Width: height * 16 / 9, Height: height},
		{Index: 1, CodecType: "audio", CodecName: "aac", Tags: map[string]string{"language": "eng"}},
	}
	return &media.ProbeResult{
		Streams: append(streams, extra...),
		Format:  media.Format{FormatName: "matroska,webm", Duration: duration, BitRate: "4000000"},
	}
}

// fakeEngine 写出最小的 HLS 结构；failures 次之前的调用都返回错误
type fakeEngine struct {
	mu         sync.Mutex
	failures   int
	calls      int
	renditions [][]media.Rendition
	extracted  []int
}

func (e *fakeEngine) ExportHLS(ctx context.Context, req media.ExportRequest, onProgress media.ProgressFunc) error {
	e.mu.Lock()
	e.calls++
	e.renditions = append(e.renditions, req.Renditions)
	fail := e.calls <= e.failures
	e.mu.Unlock()

	onProgress(40)
	if fail {
		return errors.New("encoder exited with status 1")
	}

	if err := os.MkdirAll(req.OutputDir, 0o755); err != nil {
		return err
	}
	var master strings.Builder
	master.WriteString("#EXTM3U\n#EXT-X-VERSION:3\n")
	for i, r := range req.Renditions {
		fmt.Fprintf(&master, "#EXT-X-STREAM-INF:BANDWIDTH=%d,RESOLUTION=%dx%d\nstream_%d.m3u8\n", r.Bitrate*1000, r.Width, r.Height, i)
		if err := os.WriteFile(filepath.Join(req.OutputDir, fmt.Sprintf("stream_%d.m3u8", i)), []byte("#EXTM3U\n"), 0o644); err != nil {
			return err
		}
	}
	if err := os.WriteFile(filepath.Join(req.OutputDir, media.MasterPlaylist), []byte(master.String()), 0o644); err != nil {
		return err
	}
	onProgress(100)
	return nil
}

func (e *fakeEngine) ExtractSubtitle(ctx context.Context, source string, streamIndex int, dest string) error {
	e.mu.Lock()
	e.extracted = append(e.extracted, streamIndex)
	e.mu.Unlock()
	return os.WriteFile(dest, []byte("WEBVTT\n"), 0o644)
}

type sentNotification struct {
	URL string
	Notification
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent []sentNotification
	err  error
}

func (n *fakeNotifier) Notify(ctx context.Context, callbackURL string, payload Notification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, sentNotification{URL: callbackURL, Notification: payload})
	return n.err
}

// env 一套完整的内存测试环境
type env struct {
	cfg      *config.Config
	db       *gorm.DB
	raw      *storage.LocalDisk
	hls      *storage.LocalDisk
	prober   *fakeProber
	engine   *fakeEngine
	notifier *fakeNotifier
	tracker  *progress.MemoryTracker
	queue    *TaskQueue
	worker   *TranscodeWorker
	svc      *TranscodingService
	clock    time.Time
}

func newEnv(t *testing.T) *env {
	t.Helper()
	e := &env{
		cfg:      testConfig(t),
		db:       newTestDB(t),
		prober:   &fakeProber{result: probeResult(1080, "120.0")},
		engine:   &fakeEngine{},
		notifier: &fakeNotifier{},
		tracker:  progress.NewMemoryTracker(time.Hour),
		clock:    time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}

	var err error
	if e.raw, err = storage.NewLocalDisk("raw", t.TempDir()); err != nil {
		t.Fatal(err)
	}
	if e.hls, err = storage.NewLocalDisk("hls", t.TempDir()); err != nil {
		t.Fatal(err)
	}
	if err := e.raw.Put(context.Background(), "raw/a.mkv", []byte("not really a video")); err != nil {
		t.Fatal(err)
	}

	log := logger.NewNop()
	e.queue = NewTaskQueue(e.db, e.cfg.Queue, log)
	e.queue.now = func() time.Time { return e.clock }

	deps := Deps{
		DB:       e.db,
		Config:   e.cfg,
		Log:      log,
		Raw:      e.raw,
		HLS:      e.hls,
		Prober:   e.prober,
		Engine:   e.engine,
		Tracker:  e.tracker,
		Notifier: e.notifier,
		Queue:    e.queue,
	}
	e.worker = NewTranscodeWorker(deps)
	e.svc = NewTranscodingService(deps)
	e.queue.Register(TaskKindTranscode, e.worker)
	return e
}

func (e *env) advance(d time.Duration) {
	e.clock = e.clock.Add(d)
}

// runNext 同步执行一个到期任务
func (e *env) runNext(t *testing.T) bool {
	t.Helper()
	ran, err := e.queue.RunNext(context.Background())
	if err != nil {
		t.Fatalf("RunNext: %v", err)
	}
	return ran
}
