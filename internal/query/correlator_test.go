package query

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/motionmanjevin/inspectre/internal/store"
)

type stubAnswer struct {
	reply  string
	err    error
	called int
	asked  string
}

func (s *stubAnswer) Ask(_ context.Context, question string) (string, error) {
	s.called++
	s.asked = question
	return s.reply, s.err
}

type stubSearchStore struct {
	hits []store.Evidence
}

func (s *stubSearchStore) Store(context.Context, store.Record) (string, error) {
	panic("not implemented")
}

func (s *stubSearchStore) GetAll(context.Context) ([]store.StoredRecord, error) {
	panic("not implemented")
}

func (s *stubSearchStore) Delete(context.Context, string) error { panic("not implemented") }

func (s *stubSearchStore) Clear(context.Context) error { panic("not implemented") }

func (s *stubSearchStore) Count(context.Context) (int, error) { panic("not implemented") }

func (s *stubSearchStore) Search(_ context.Context, _ string, topK int, _ float64) ([]store.Evidence, error) {
	if topK < len(s.hits) {
		return s.hits[:topK], nil
	}
	return s.hits, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func candidate(path string, start time.Time, analysis string) store.Evidence {
	return store.Evidence{
		ClipPath:   path,
		StartTime:  start,
		EndTime:    start.Add(16 * time.Second),
		Analysis:   analysis,
		Similarity: 0.9,
	}
}

func threeCandidates() []store.Evidence {
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	return []store.Evidence{
		candidate("recordings/a.avi", base, "a cat walks in"),
		candidate("recordings/b.avi", base.Add(time.Minute), "a dog barks"),
		candidate("recordings/c.avi", base.Add(2*time.Minute), "an empty room"),
	}
}

func label(t time.Time) string { return t.Format("15:04:05") }

func TestQuery_empty_store_skips_answer_service(t *testing.T) {
	ans := &stubAnswer{reply: "FOUND: whatever"}
	c := NewCorrelator(&stubSearchStore{}, ans, testLogger(), 5, 0.5)

	res, err := c.Query(context.Background(), "any cats?", 5)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if res.Answer != NoEvidenceAnswer {
		t.Errorf("expected no-evidence answer, got %q", res.Answer)
	}
	if len(res.Clips) != 0 || len(res.Timestamps) != 0 {
		t.Errorf("expected empty evidence, got %d clips %d timestamps", len(res.Clips), len(res.Timestamps))
	}
	if ans.called != 0 {
		t.Errorf("answer service must not be called for an empty store, called %d times", ans.called)
	}
}

func TestQuery_answer_service_error_propagates(t *testing.T) {
	ans := &stubAnswer{err: errors.New("timeout")}
	c := NewCorrelator(&stubSearchStore{hits: threeCandidates()}, ans, testLogger(), 5, 0.5)

	if _, err := c.Query(context.Background(), "any cats?", 5); err == nil {
		t.Error("expected error from failing answer service")
	}
}

func TestBuildPrompt_enumerates_candidates(t *testing.T) {
	cands := threeCandidates()
	prompt := BuildPrompt("did a cat appear?", cands)

	for i, ev := range cands {
		if !strings.Contains(prompt, fmt.Sprintf("CLIP #%d:", i+1)) {
			t.Errorf("prompt missing CLIP #%d", i+1)
		}
		if !strings.Contains(prompt, ev.Analysis) {
			t.Errorf("prompt missing analysis %q", ev.Analysis)
		}
		interval := fmt.Sprintf("Time Interval: %s to %s", label(ev.StartTime), label(ev.EndTime))
		if !strings.Contains(prompt, interval) {
			t.Errorf("prompt missing %q", interval)
		}
	}
	if !strings.Contains(prompt, "did a cat appear?") {
		t.Error("prompt missing user query")
	}
	if strings.Contains(prompt, "recordings/") {
		t.Error("prompt should use base file names, not full paths")
	}
}

func TestParseReply_not_found(t *testing.T) {
	res := ParseReply("NOT_FOUND: nothing in the clips mentions bicycles", threeCandidates())
	if res.Answer != "nothing in the clips mentions bicycles" {
		t.Errorf("unexpected answer %q", res.Answer)
	}
	if len(res.Clips) != 0 || len(res.Timestamps) != 0 {
		t.Errorf("NOT_FOUND must carry no evidence, got %d clips", len(res.Clips))
	}
}

func TestParseReply_matches_exact_candidates_in_reply_order(t *testing.T) {
	cands := threeCandidates()
	// Reply lists the third candidate first, then the first; the second
	// is judged irrelevant.
	reply := fmt.Sprintf(`FOUND:
The cat appears twice.

TIMESTAMPS:
- Time: %s to %s | Video: c.avi
- Time: %s to %s | Video: a.avi
`,
		label(cands[2].StartTime), label(cands[2].EndTime),
		label(cands[0].StartTime), label(cands[0].EndTime))

	res := ParseReply(reply, cands)

	if res.Answer != "The cat appears twice." {
		t.Errorf("unexpected answer %q", res.Answer)
	}
	if len(res.Clips) != 2 {
		t.Fatalf("expected 2 evidence clips, got %d", len(res.Clips))
	}
	if res.Clips[0].ClipPath != "recordings/c.avi" || res.Clips[1].ClipPath != "recordings/a.avi" {
		t.Errorf("evidence not in reply order: %q, %q", res.Clips[0].ClipPath, res.Clips[1].ClipPath)
	}
}

func TestParseReply_paren_video_marker(t *testing.T) {
	cands := threeCandidates()
	reply := fmt.Sprintf("FOUND:\nSeen once.\n\nTIMESTAMPS:\n- Time: %s to %s (Video: b.avi)\n",
		label(cands[1].StartTime), label(cands[1].EndTime))

	res := ParseReply(reply, cands)
	if len(res.Clips) != 1 || res.Clips[0].ClipPath != "recordings/b.avi" {
		t.Fatalf("expected single match on b.avi, got %+v", res.Clips)
	}
}

func TestParseReply_unmatched_lines_dropped(t *testing.T) {
	cands := threeCandidates()
	reply := fmt.Sprintf(`FOUND:
Partially matched.

TIMESTAMPS:
- Time: 23:59:58 to 23:59:59 | Video: ghost.avi
- Time: %s to %s | Video: a.avi
`, label(cands[0].StartTime), label(cands[0].EndTime))

	res := ParseReply(reply, cands)
	if len(res.Clips) != 1 {
		t.Fatalf("expected unmatched line dropped, got %d clips", len(res.Clips))
	}
	if res.Clips[0].ClipPath != "recordings/a.avi" {
		t.Errorf("wrong clip matched: %q", res.Clips[0].ClipPath)
	}
}

func TestParseReply_malformed_timestamps_falls_back_to_all(t *testing.T) {
	cands := threeCandidates()
	reply := "FOUND:\nEverything is relevant.\n\nTIMESTAMPS:\nsee the clips above, roughly noon\n"

	res := ParseReply(reply, cands)
	if res.Answer != "Everything is relevant." {
		t.Errorf("unexpected answer %q", res.Answer)
	}
	if len(res.Clips) != len(cands) {
		t.Fatalf("fallback must keep all %d candidates, got %d", len(cands), len(res.Clips))
	}
	if len(res.Timestamps) != len(cands) {
		t.Errorf("fallback must include all timestamps, got %d", len(res.Timestamps))
	}
}

func TestParseReply_no_timestamps_section(t *testing.T) {
	cands := threeCandidates()
	res := ParseReply("The dog barked around noon.", cands)

	if res.Answer != "The dog barked around noon." {
		t.Errorf("unexpected answer %q", res.Answer)
	}
	if len(res.Clips) != len(cands) {
		t.Errorf("missing section must fall back to all candidates, got %d", len(res.Clips))
	}
}
