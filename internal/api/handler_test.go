package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/motionmanjevin/inspectre/internal/capture"
	"github.com/motionmanjevin/inspectre/internal/events"
	"github.com/motionmanjevin/inspectre/internal/pipeline"
	"github.com/motionmanjevin/inspectre/internal/query"
	"github.com/motionmanjevin/inspectre/internal/store"
)

type stubStore struct {
	recs     []store.StoredRecord
	hits     []store.Evidence
	cleared  bool
	clearErr error
}

func (s *stubStore) Store(_ context.Context, rec store.Record) (string, error) {
	id := rec.ID()
	s.recs = append(s.recs, store.StoredRecord{ID: id, Record: rec})
	return id, nil
}

func (s *stubStore) Search(context.Context, string, int, float64) ([]store.Evidence, error) {
	return s.hits, nil
}

func (s *stubStore) GetAll(context.Context) ([]store.StoredRecord, error) {
	return s.recs, nil
}

func (s *stubStore) Delete(context.Context, string) error { return nil }

func (s *stubStore) Clear(context.Context) error {
	s.cleared = true
	s.recs = nil
	return s.clearErr
}

func (s *stubStore) Count(context.Context) (int, error) { return len(s.recs), nil }

type stubAnswer struct{ reply string }

func (s *stubAnswer) Ask(context.Context, string) (string, error) { return s.reply, nil }

type nopAnalyzer struct{}

func (nopAnalyzer) Analyze(context.Context, string, string) (string, error) {
	return "nothing happened", nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError + 1}))
}

type testEnv struct {
	handler *Handler
	store   *stubStore
	worker  *pipeline.Worker
	clipDir string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	log := testLogger()
	bus := events.NewBroadcaster()
	t.Cleanup(bus.Close)

	st := &stubStore{}
	queue := pipeline.NewQueue()
	worker := pipeline.NewWorker(queue, nopAnalyzer{}, st, bus, log, nil, "prompt", time.Minute)
	manager := capture.NewManager(capture.StreamConfig{}, log, bus, queue, nil)
	correlator := query.NewCorrelator(st, &stubAnswer{reply: "FOUND: something"}, log, 5, 0.5)
	clipDir := t.TempDir()

	return &testEnv{
		handler: NewHandler(manager, worker, st, correlator, bus, log, clipDir),
		store:   st,
		worker:  worker,
		clipDir: clipDir,
	}
}

func (e *testEnv) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rec := httptest.NewRecorder()
	e.handler.Routes().ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(rec.Body).Decode(&v); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	return v
}

func TestStartStream_rejects_ambiguous_source(t *testing.T) {
	e := newTestEnv(t)

	cases := []struct {
		name string
		body string
	}{
		{"neither", `{}`},
		{"both", `{"camera_index": 0, "stream_url": "rtsp://cam/live"}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := e.do(t, http.MethodPost, "/api/stream/start", tc.body)
			if rec.Code != http.StatusBadRequest {
				t.Errorf("status %d, want 400", rec.Code)
			}
		})
	}
}

func TestStartStream_rejects_invalid_json(t *testing.T) {
	e := newTestEnv(t)
	rec := e.do(t, http.MethodPost, "/api/stream/start", `{"camera_index": `)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status %d, want 400", rec.Code)
	}
}

func TestStopStream_without_stream_is_ok(t *testing.T) {
	e := newTestEnv(t)
	rec := e.do(t, http.MethodPost, "/api/stream/stop", "")
	if rec.Code != http.StatusOK {
		t.Errorf("status %d, want 200", rec.Code)
	}
}

func TestStreamStatus_idle(t *testing.T) {
	e := newTestEnv(t)
	rec := e.do(t, http.MethodGet, "/api/stream/status", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d, want 200", rec.Code)
	}
	status := decode[capture.Status](t, rec)
	if status.Streaming || status.Recording {
		t.Errorf("idle status reported activity: %+v", status)
	}
}

func TestProgress_initial_state(t *testing.T) {
	e := newTestEnv(t)
	rec := e.do(t, http.MethodGet, "/api/progress", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d, want 200", rec.Code)
	}
	p := decode[pipeline.Progress](t, rec)
	if p.ClipsProcessed != 0 || p.SecondsProcessed != 0 || p.Processing {
		t.Errorf("unexpected initial progress %+v", p)
	}
}

func TestQuery_rejects_empty_query(t *testing.T) {
	e := newTestEnv(t)
	rec := e.do(t, http.MethodPost, "/api/query", `{"query": "   "}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status %d, want 400", rec.Code)
	}
}

func TestQuery_empty_store_returns_no_evidence(t *testing.T) {
	e := newTestEnv(t)
	rec := e.do(t, http.MethodPost, "/api/query", `{"query": "any cats?"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d, want 200", rec.Code)
	}
	res := decode[query.Result](t, rec)
	if res.Answer != query.NoEvidenceAnswer {
		t.Errorf("answer %q, want no-evidence answer", res.Answer)
	}
}

func TestQuery_with_evidence(t *testing.T) {
	e := newTestEnv(t)
	start := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	e.store.hits = []store.Evidence{{
		ID:         "recordings/a.avi_2024-05-01T12:00:00Z",
		ClipPath:   "recordings/a.avi",
		StartTime:  start,
		EndTime:    start.Add(16 * time.Second),
		Analysis:   "a cat walks in",
		Similarity: 0.9,
	}}

	rec := e.do(t, http.MethodPost, "/api/query", `{"query": "any cats?"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d, want 200", rec.Code)
	}
	res := decode[query.Result](t, rec)
	if res.Answer != "something" {
		t.Errorf("answer %q, want %q", res.Answer, "something")
	}
	if len(res.Clips) != 1 || res.Clips[0].ClipPath != "recordings/a.avi" {
		t.Errorf("unexpected evidence %+v", res.Clips)
	}
}

func TestClear_resets_store_and_progress(t *testing.T) {
	e := newTestEnv(t)
	rec := e.do(t, http.MethodPost, "/api/clear", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d, want 200", rec.Code)
	}
	if !e.store.cleared {
		t.Error("store was not cleared")
	}
	if p := e.worker.Progress(); p.ClipsProcessed != 0 {
		t.Errorf("progress not reset: %+v", p)
	}
}

func TestListClips_empty(t *testing.T) {
	e := newTestEnv(t)
	rec := e.do(t, http.MethodGet, "/api/clips", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d, want 200", rec.Code)
	}
	body := decode[map[string]any](t, rec)
	if body["count"].(float64) != 0 {
		t.Errorf("count %v, want 0", body["count"])
	}
}

func TestServeVideo_serves_existing_clip(t *testing.T) {
	e := newTestEnv(t)
	content := []byte("not really a video")
	if err := os.WriteFile(filepath.Join(e.clipDir, "clip.avi"), content, 0o644); err != nil {
		t.Fatal(err)
	}

	rec := e.do(t, http.MethodGet, "/api/video/clip.avi", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d, want 200", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "video/x-msvideo" {
		t.Errorf("content type %q", ct)
	}
	if rec.Body.String() != string(content) {
		t.Error("body does not match file content")
	}
}

func TestServeVideo_missing_clip_is_404(t *testing.T) {
	e := newTestEnv(t)
	rec := e.do(t, http.MethodGet, "/api/video/ghost.avi", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("status %d, want 404", rec.Code)
	}
}

func TestServeVideo_rejects_unknown_extension(t *testing.T) {
	e := newTestEnv(t)
	if err := os.WriteFile(filepath.Join(e.clipDir, "notes.txt"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	rec := e.do(t, http.MethodGet, "/api/video/notes.txt", "")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status %d, want 400", rec.Code)
	}
}

func TestServeVideo_strips_path_components(t *testing.T) {
	e := newTestEnv(t)
	// An encoded traversal attempt must collapse to its base name and
	// miss, never escape the clip directory.
	rec := e.do(t, http.MethodGet, "/api/video/..%2F..%2Fetc%2Fpasswd.avi", "")
	if rec.Code == http.StatusOK {
		t.Errorf("traversal attempt served with status %d", rec.Code)
	}
}

func TestHealth(t *testing.T) {
	e := newTestEnv(t)
	rec := e.do(t, http.MethodGet, "/healthz", "")
	if rec.Code != http.StatusOK {
		t.Errorf("status %d, want 200", rec.Code)
	}
}
