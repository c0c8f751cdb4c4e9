// Package query correlates natural-language questions with stored clip
// analyses. The correlator retrieves top-k candidates from the semantic
// store, asks the Answer Service to judge per-clip relevance through a
// structured prompt, and parses the structured reply back into an
// answer with timestamp evidence.
package query

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/motionmanjevin/inspectre/internal/store"
)

// NoEvidenceAnswer is returned when the store has nothing relevant;
// the Answer Service is not called in that case.
const NoEvidenceAnswer = "No relevant video content found to answer your query."

// timeLabelFormat is how clip times appear in prompts and replies.
const timeLabelFormat = "15:04:05"

// AnswerService is the external language model boundary.
type AnswerService interface {
	Ask(ctx context.Context, question string) (string, error)
}

// TimeRange is one evidence interval in a query result.
type TimeRange struct {
	Start    string `json:"start"`
	End      string `json:"end"`
	ClipPath string `json:"video_path"`
}

// Result is the answer to one user query.
type Result struct {
	Answer     string           `json:"answer"`
	Timestamps []TimeRange      `json:"timestamps"`
	Clips      []store.Evidence `json:"relevant_clips"`
}

// Correlator answers user queries against the semantic store.
type Correlator struct {
	store        store.Store
	answer       AnswerService
	log          *slog.Logger
	topK         int
	minRelevance float64
}

// NewCorrelator returns a correlator with the given defaults. topK <= 0
// defaults to 5; minRelevance <= 0 defaults to store.DefaultMinRelevance.
func NewCorrelator(s store.Store, answer AnswerService, log *slog.Logger, topK int, minRelevance float64) *Correlator {
	if topK <= 0 {
		topK = 5
	}
	if minRelevance <= 0 {
		minRelevance = store.DefaultMinRelevance
	}
	return &Correlator{store: s, answer: answer, log: log, topK: topK, minRelevance: minRelevance}
}

// Query retrieves candidate clips for the user query and asks the Answer
// Service to determine which are genuinely relevant. An empty store or a
// search with no hits yields a NoEvidenceAnswer result without calling
// the Answer Service.
func (c *Correlator) Query(ctx context.Context, userQuery string, topK int) (Result, error) {
	if topK <= 0 {
		topK = c.topK
	}

	hits, err := c.store.Search(ctx, userQuery, topK, c.minRelevance)
	if err != nil {
		return Result{}, fmt.Errorf("searching store: %w", err)
	}
	if len(hits) == 0 {
		return Result{Answer: NoEvidenceAnswer, Timestamps: []TimeRange{}, Clips: []store.Evidence{}}, nil
	}

	prompt := BuildPrompt(userQuery, hits)
	reply, err := c.answer.Ask(ctx, prompt)
	if err != nil {
		return Result{}, fmt.Errorf("answer service: %w", err)
	}

	res := ParseReply(reply, hits)
	c.log.Info("query answered",
		slog.Int("candidates", len(hits)),
		slog.Int("evidence", len(res.Clips)))
	return res, nil
}

// BuildPrompt renders the correlation prompt: each candidate clip with
// its time interval, source file name, and analysis text, followed by
// the response-format contract the reply parser expects.
func BuildPrompt(userQuery string, candidates []store.Evidence) string {
	var clips strings.Builder
	for i, ev := range candidates {
		if i > 0 {
			clips.WriteString("\n\n")
		}
		fmt.Fprintf(&clips, "CLIP #%d:\n", i+1)
		fmt.Fprintf(&clips, "Time Interval: %s to %s\n",
			ev.StartTime.Format(timeLabelFormat), ev.EndTime.Format(timeLabelFormat))
		fmt.Fprintf(&clips, "Video File: %s\n", filepath.Base(ev.ClipPath))
		fmt.Fprintf(&clips, "Content Analysis:\n%s", ev.Analysis)
	}

	return fmt.Sprintf(`You are a video content analysis system. Your task is to find correlations between a user's query and analyzed video clip content.

=== PROCESSED VIDEO CLIP ANALYSES ===

%s

=== USER QUERY ===
%s

=== YOUR TASK ===
1. Carefully analyze each clip's content to determine if it contains ANY information relevant to the user's query.
2. Consider semantic meaning, not just keyword matching. Look for:
   - Direct mentions of query topics
   - Related concepts or events
   - Actions or objects that relate to the query
3. If you find relevant clips, provide:
   - A clear explanation of the correlation
   - The exact time intervals where relevant content appears
4. If NO clips contain relevant information (even tangentially), respond with NOT_FOUND.

=== RESPONSE FORMAT ===

IF RELEVANT CLIPS FOUND:
FOUND:
[Your detailed explanation of what was found and how it relates to the query]

TIMESTAMPS:
- Time: [start_time] to [end_time] | Video: [video_filename]
- Time: [start_time] to [end_time] | Video: [video_filename]
[List only the clips that actually correlate with the query]

IF NO RELEVANT CLIPS FOUND:
NOT_FOUND:
[Brief explanation of why no relevant content was found]

Be strict in your correlation assessment. Only include clips with genuine relevance to the query.`, clips.String(), userQuery)
}

// ParseReply turns the Answer Service's structured reply into a Result.
//
// A reply starting with NOT_FOUND yields the explanation with empty
// evidence. Otherwise the TIMESTAMPS: section is scanned line by line;
// lines starting with "-" and containing "Time:" contribute evidence
// when their "start to end" pair matches a candidate exactly. Unmatched
// lines are dropped silently. If no line parses despite a positive
// verdict, all candidates become evidence, so a format mismatch never
// silently drops everything.
func ParseReply(reply string, candidates []store.Evidence) Result {
	reply = strings.TrimSpace(reply)

	if strings.HasPrefix(strings.ToUpper(reply), "NOT_FOUND") {
		explanation := "No relevant content found in the analyzed video clips."
		if _, after, ok := strings.Cut(reply, ":"); ok {
			if s := strings.TrimSpace(after); s != "" {
				explanation = s
			}
		}
		return Result{Answer: explanation, Timestamps: []TimeRange{}, Clips: []store.Evidence{}}
	}

	answerText := reply
	var section string
	if before, after, ok := strings.Cut(reply, "TIMESTAMPS:"); ok {
		answerText = before
		section = after
	}
	answerText = strings.TrimSpace(strings.TrimPrefix(answerText, "FOUND:"))

	used := make([]bool, len(candidates))
	var timestamps []TimeRange
	var clips []store.Evidence

	for _, line := range strings.Split(section, "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "-") || !strings.Contains(line, "Time:") {
			continue
		}

		_, timePart, _ := strings.Cut(line, "Time:")
		if i := strings.Index(timePart, "|"); i >= 0 {
			timePart = timePart[:i]
		} else if i := strings.Index(timePart, "(Video:"); i >= 0 {
			timePart = timePart[:i]
		}

		start, end, ok := strings.Cut(timePart, " to ")
		if !ok {
			continue
		}
		start = strings.TrimSpace(start)
		end = strings.TrimSpace(end)

		for i, ev := range candidates {
			if used[i] {
				continue
			}
			if ev.StartTime.Format(timeLabelFormat) == start && ev.EndTime.Format(timeLabelFormat) == end {
				used[i] = true
				timestamps = append(timestamps, TimeRange{Start: start, End: end, ClipPath: ev.ClipPath})
				clips = append(clips, ev)
				break
			}
		}
	}

	// Positive verdict but nothing parsed: fall back to every candidate
	// rather than returning no evidence at all.
	if len(clips) == 0 {
		for _, ev := range candidates {
			timestamps = append(timestamps, TimeRange{
				Start:    ev.StartTime.Format(timeLabelFormat),
				End:      ev.EndTime.Format(timeLabelFormat),
				ClipPath: ev.ClipPath,
			})
			clips = append(clips, ev)
		}
	}

	return Result{Answer: answerText, Timestamps: timestamps, Clips: clips}
}
