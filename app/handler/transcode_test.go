package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"video-transcoder/app/logger"
	"video-transcoder/app/model"
	"video-transcoder/app/service"

	"github.com/gin-gonic/gin"
)

type fakeTranscoder struct {
	result   *service.TriggerResult
	err      error
	got      service.TriggerRequest
	progress int
	asset    *model.MediaAsset
}

func (f *fakeTranscoder) Trigger(ctx context.Context, req service.TriggerRequest) (*service.TriggerResult, error) {
	f.got = req
	return f.result, f.err
}

func (f *fakeTranscoder) GetProgress(ctx context.Context, videoID string) (int, error) {
	return f.progress, nil
}

func (f *fakeTranscoder) GetAsset(ctx context.Context, videoID string) (*model.MediaAsset, error) {
	if f.asset == nil {
		return nil, service.ErrAssetNotFound
	}
	return f.asset, nil
}

func newTestRouter(svc Transcoder) *gin.Engine {
	gin.SetMode(gin.TestMode)
	h := NewTranscodeHandler(svc, logger.NewNop())
	r := gin.New()
	r.POST("/transcode", h.Trigger)
	r.GET("/transcode/progress/:videoId", h.Progress)
	r.GET("/transcode/:videoId", h.Status)
	return r
}

func doJSON(r http.Handler, method, target string, body any) (*httptest.ResponseRecorder, map[string]any) {
	var buf bytes.Buffer
	if body != nil {
		json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, target, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	var out map[string]any
	json.Unmarshal(w.Body.Bytes(), &out)
	return w, out
}

func TestTriggerQueued(t *testing.T) {
	svc := &fakeTranscoder{result: &service.TriggerResult{Queued: true, Status: model.StatusProcessing}}
	r := newTestRouter(svc)

	w, body := doJSON(r, http.MethodPost, "/transcode", gin.H{
		"video_id":  "v1",
		"file_path": "raw/a.mkv",
		"subtitles": []gin.H{{"path": "raw/en.srt", "lang": "en"}},
	})
	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body)
	}
	if body["message"] != "Video is queued for transcoding." {
		t.Errorf("message = %v", body["message"])
	}
	if svc.got.VideoID != "v1" || len(svc.got.Subtitles) != 1 || svc.got.Subtitles[0].Lang != "en" {
		t.Errorf("service got %+v", svc.got)
	}
}

func TestTriggerAlreadyActive(t *testing.T) {
	r := newTestRouter(&fakeTranscoder{result: &service.TriggerResult{Queued: false, Status: model.StatusCompleted}})
	w, body := doJSON(r, http.MethodPost, "/transcode", gin.H{"video_id": "v1", "file_path": "raw/a.mkv"})
	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d", w.Code)
	}
	if body["status"] != "completed" || body["message"] != "Video is already completed." {
		t.Errorf("body = %v", body)
	}
}

func TestTriggerValidation(t *testing.T) {
	svc := &fakeTranscoder{}
	r := newTestRouter(svc)

	tests := []struct {
		body  any
		field string
	}{
		{gin.H{"file_path": "raw/a.mkv"}, "video_id"},
		{gin.H{"video_id": "v1"}, "file_path"},
		{gin.H{"video_id": "v1", "file_path": "a", "subtitles": []gin.H{{"path": "x.srt"}}}, "subtitles.0.lang"},
	}
	for _, tt := range tests {
		w, body := doJSON(r, http.MethodPost, "/transcode", tt.body)
		if w.Code != http.StatusUnprocessableEntity {
			t.Errorf("%v: status = %d", tt.body, w.Code)
			continue
		}
		errs, _ := body["errors"].(map[string]any)
		if _, ok := errs[tt.field]; !ok {
			t.Errorf("%v: errors = %v, want key %s", tt.body, errs, tt.field)
		}
	}
	if svc.got.VideoID != "" {
		t.Error("service called for an invalid request")
	}
}

func TestTriggerErrors(t *testing.T) {
	tests := []struct {
		err  error
		code int
	}{
		{&service.PreflightError{Err: service.ErrTooShort}, http.StatusUnprocessableEntity},
		{&service.ValidationError{Field: "file_path", Message: "bad"}, http.StatusUnprocessableEntity},
		{errors.New("db down"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		r := newTestRouter(&fakeTranscoder{err: tt.err})
		w, body := doJSON(r, http.MethodPost, "/transcode", gin.H{"video_id": "v1", "file_path": "raw/a.mkv"})
		if w.Code != tt.code {
			t.Errorf("%v: status = %d, want %d", tt.err, w.Code, tt.code)
		}
		if body["message"] == nil {
			t.Errorf("%v: no message", tt.err)
		}
	}
}

func TestProgress(t *testing.T) {
	r := newTestRouter(&fakeTranscoder{progress: -1})
	w, body := doJSON(r, http.MethodGet, "/transcode/progress/v1", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if body["video_id"] != "v1" || body["progress"] != float64(-1) {
		t.Errorf("body = %v", body)
	}
}

func TestStatus(t *testing.T) {
	asset := &model.MediaAsset{
		ExternalID: "v1",
		Status:     model.StatusCompleted,
		Jobs: []model.TranscodingJob{
			{ID: "a", Status: model.StatusFailed},
			{ID: "b", Status: model.StatusCompleted},
		},
	}
	r := newTestRouter(&fakeTranscoder{asset: asset})

	w, body := doJSON(r, http.MethodGet, "/transcode/v1", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	data, _ := body["data"].(map[string]any)
	job, _ := data["current_job"].(map[string]any)
	if job["id"] != "b" {
		t.Errorf("current_job = %v", job)
	}

	r = newTestRouter(&fakeTranscoder{})
	w, _ = doJSON(r, http.MethodGet, "/transcode/missing", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("missing asset status = %d", w.Code)
	}
}
