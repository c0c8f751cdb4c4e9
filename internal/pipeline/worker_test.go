package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/motionmanjevin/inspectre/internal/capture"
	"github.com/motionmanjevin/inspectre/internal/events"
	"github.com/motionmanjevin/inspectre/internal/store"
)

type fakeAnalyzer struct {
	mu       sync.Mutex
	order    []string
	failFor  map[string]error
	delay    time.Duration
	inflight atomic.Int32
	maxSeen  atomic.Int32
}

func (f *fakeAnalyzer) Analyze(_ context.Context, clipPath, _ string) (string, error) {
	n := f.inflight.Add(1)
	defer f.inflight.Add(-1)
	for {
		max := f.maxSeen.Load()
		if n <= max || f.maxSeen.CompareAndSwap(max, n) {
			break
		}
	}
	if f.delay > 0 {
		time.Sleep(f.delay)
	}

	f.mu.Lock()
	f.order = append(f.order, clipPath)
	f.mu.Unlock()

	if err := f.failFor[clipPath]; err != nil {
		return "", err
	}
	return "analysis of " + clipPath, nil
}

func (f *fakeAnalyzer) seen() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.order...)
}

type fakeStore struct {
	mu   sync.Mutex
	recs []store.Record
	err  error
}

func (s *fakeStore) Store(_ context.Context, rec store.Record) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return "", s.err
	}
	if rec.Analysis == "" {
		return "", store.ErrEmptyAnalysis
	}
	s.recs = append(s.recs, rec)
	return rec.ID(), nil
}

func (s *fakeStore) Search(context.Context, string, int, float64) ([]store.Evidence, error) {
	return nil, nil
}

func (s *fakeStore) GetAll(context.Context) ([]store.StoredRecord, error) { return nil, nil }
func (s *fakeStore) Delete(context.Context, string) error                 { return nil }
func (s *fakeStore) Clear(context.Context) error                          { return nil }

func (s *fakeStore) Count(context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.recs), nil
}

func (s *fakeStore) stored() []store.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]store.Record(nil), s.recs...)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError + 1}))
}

func clipAt(path string, start time.Time, d time.Duration) capture.Clip {
	return capture.Clip{Path: path, StartedAt: start, EndedAt: start.Add(d), SizeBytes: 4096}
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestWorker_processes_fifo_single_concurrency(t *testing.T) {
	q := NewQueue()
	analyzer := &fakeAnalyzer{delay: 10 * time.Millisecond}
	st := &fakeStore{}
	bus := events.NewBroadcaster()
	defer bus.Close()

	w := NewWorker(q, analyzer, st, bus, testLogger(), nil, "what happened?", time.Minute)
	w.Start()
	defer w.Stop()

	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	paths := []string{"recordings/a.avi", "recordings/b.avi", "recordings/c.avi"}
	for i, p := range paths {
		q.Enqueue(clipAt(p, base.Add(time.Duration(i)*time.Minute), 16*time.Second))
	}

	waitFor(t, 2*time.Second, func() bool { return len(st.stored()) == 3 })

	if got := analyzer.seen(); len(got) != 3 ||
		got[0] != paths[0] || got[1] != paths[1] || got[2] != paths[2] {
		t.Errorf("clips not processed in arrival order: %v", got)
	}
	if max := analyzer.maxSeen.Load(); max != 1 {
		t.Errorf("analysis concurrency %d, want 1", max)
	}

	recs := st.stored()
	for i, rec := range recs {
		if rec.ClipIndex != i {
			t.Errorf("record %d has clip index %d", i, rec.ClipIndex)
		}
	}
}

func TestWorker_failed_clip_skipped_not_retried(t *testing.T) {
	q := NewQueue()
	analyzer := &fakeAnalyzer{failFor: map[string]error{"recordings/bad.avi": errors.New("model crashed")}}
	st := &fakeStore{}
	bus := events.NewBroadcaster()
	defer bus.Close()
	ch, cancel := bus.Subscribe()
	defer cancel()

	w := NewWorker(q, analyzer, st, bus, testLogger(), nil, "what happened?", time.Minute)
	w.Start()
	defer w.Stop()

	base := time.Now()
	q.Enqueue(clipAt("recordings/bad.avi", base, 16*time.Second))
	q.Enqueue(clipAt("recordings/good.avi", base.Add(time.Minute), 16*time.Second))

	waitFor(t, 2*time.Second, func() bool { return len(st.stored()) == 1 })

	if st.stored()[0].ClipPath != "recordings/good.avi" {
		t.Errorf("wrong record stored: %q", st.stored()[0].ClipPath)
	}
	if got := analyzer.seen(); len(got) != 2 {
		t.Errorf("failed clip was retried or skipped entirely: %v", got)
	}

	var sawError bool
	timeout := time.After(time.Second)
	for !sawError {
		select {
		case ev := <-ch:
			if ev.Type == events.TypeProcessingError && ev.ClipPath == "recordings/bad.avi" {
				sawError = true
			}
		case <-timeout:
			t.Fatal("no processing_error event for the failed clip")
		}
	}

	p := w.Progress()
	if p.ClipsProcessed != 1 {
		t.Errorf("failed clip counted as processed: %d", p.ClipsProcessed)
	}
}

func TestWorker_progress_accumulates(t *testing.T) {
	q := NewQueue()
	analyzer := &fakeAnalyzer{}
	st := &fakeStore{}
	bus := events.NewBroadcaster()
	defer bus.Close()

	w := NewWorker(q, analyzer, st, bus, testLogger(), nil, "prompt", time.Minute)
	w.Start()
	defer w.Stop()

	base := time.Now()
	q.Enqueue(clipAt("recordings/one.avi", base, 16*time.Second))
	q.Enqueue(clipAt("recordings/two.avi", base.Add(time.Minute), 3*time.Second))

	waitFor(t, 2*time.Second, func() bool { return w.Progress().ClipsProcessed == 2 })

	p := w.Progress()
	if p.SecondsProcessed != 19 {
		t.Errorf("seconds processed %d, want 19", p.SecondsProcessed)
	}
	if p.QueueLength != 0 {
		t.Errorf("queue length %d, want 0", p.QueueLength)
	}

	w.ResetProgress()
	p = w.Progress()
	if p.ClipsProcessed != 0 || p.SecondsProcessed != 0 {
		t.Errorf("reset left counters at %+v", p)
	}
}

func TestWorker_stop_waits_for_inflight_clip(t *testing.T) {
	q := NewQueue()
	analyzer := &fakeAnalyzer{delay: 50 * time.Millisecond}
	st := &fakeStore{}
	bus := events.NewBroadcaster()
	defer bus.Close()

	w := NewWorker(q, analyzer, st, bus, testLogger(), nil, "prompt", time.Minute)
	w.Start()

	q.Enqueue(clipAt("recordings/slow.avi", time.Now(), 16*time.Second))
	waitFor(t, time.Second, func() bool { return w.Progress().Processing })

	w.Stop()
	if len(st.stored()) != 1 {
		t.Error("in-flight clip was not finished before Stop returned")
	}
}

func TestQueue_fifo_and_len(t *testing.T) {
	q := NewQueue()
	if _, ok := q.Pop(); ok {
		t.Error("pop from empty queue must report ok=false")
	}

	base := time.Now()
	q.Enqueue(clipAt("a", base, time.Second))
	q.Enqueue(clipAt("b", base, time.Second))
	if q.Len() != 2 {
		t.Errorf("len %d, want 2", q.Len())
	}

	c, ok := q.Pop()
	if !ok || c.Path != "a" {
		t.Errorf("expected a first, got %q", c.Path)
	}
	c, _ = q.Pop()
	if c.Path != "b" {
		t.Errorf("expected b second, got %q", c.Path)
	}
}
