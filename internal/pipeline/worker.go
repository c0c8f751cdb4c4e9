package pipeline

import (
	"context"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/motionmanjevin/inspectre/internal/capture"
	"github.com/motionmanjevin/inspectre/internal/events"
	"github.com/motionmanjevin/inspectre/internal/platform/metrics"
	"github.com/motionmanjevin/inspectre/internal/store"
)

const defaultAnalysisTimeout = 2 * time.Minute

// Analyzer is the external video analysis boundary.
type Analyzer interface {
	Analyze(ctx context.Context, clipPath, prompt string) (string, error)
}

// Progress is the cumulative state of the analysis pipeline.
type Progress struct {
	SecondsProcessed int  `json:"seconds_processed"`
	ClipsProcessed   int  `json:"clips_processed"`
	QueueLength      int  `json:"queue_length"`
	Processing       bool `json:"is_processing"`
}

// Worker drains the clip queue with single concurrency: one clip is
// analyzed and stored at a time, in arrival order. A failed clip is
// reported and skipped, never retried, and never blocks the queue.
type Worker struct {
	queue    *Queue
	analyzer Analyzer
	store    store.Store
	bus      *events.Broadcaster
	log      *slog.Logger
	metrics  *metrics.Metrics
	prompt   string
	timeout  time.Duration

	mu               sync.Mutex
	clipsProcessed   int
	secondsProcessed int
	processing       bool

	stop chan struct{}
	done chan struct{}
}

// NewWorker wires a worker to its queue and collaborators. metrics may
// be nil; timeout <= 0 takes the default.
func NewWorker(q *Queue, analyzer Analyzer, s store.Store, bus *events.Broadcaster, log *slog.Logger, m *metrics.Metrics, prompt string, timeout time.Duration) *Worker {
	if timeout <= 0 {
		timeout = defaultAnalysisTimeout
	}
	return &Worker{
		queue:    q,
		analyzer: analyzer,
		store:    s,
		bus:      bus,
		log:      log,
		metrics:  m,
		prompt:   prompt,
		timeout:  timeout,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start launches the worker goroutine.
func (w *Worker) Start() {
	go w.run()
}

// Stop signals the worker and waits for the in-flight clip, if any, to
// finish. Queued clips left behind are abandoned.
func (w *Worker) Stop() {
	close(w.stop)
	<-w.done
}

func (w *Worker) run() {
	defer close(w.done)

	for {
		clip, ok := w.queue.Pop()
		if !ok {
			select {
			case <-w.stop:
				return
			case <-w.queue.Wake():
				continue
			}
		}

		select {
		case <-w.stop:
			return
		default:
		}
		w.process(clip)
	}
}

func (w *Worker) process(clip capture.Clip) {
	w.setProcessing(true)
	defer w.setProcessing(false)

	w.bus.Publish(events.ProcessingStarted(clip.Path))
	w.log.Info("analyzing clip", slog.String("path", clip.Path))

	ctx, cancel := context.WithTimeout(context.Background(), w.timeout)
	defer cancel()

	analysis, err := w.analyzer.Analyze(ctx, clip.Path, w.prompt)
	if err != nil {
		w.fail(clip, err, "analysis failed")
		return
	}

	index, err := w.store.Count(ctx)
	if err != nil {
		index = 0
	}
	rec := store.Record{
		ClipPath:  clip.Path,
		StartTime: clip.StartedAt,
		EndTime:   clip.EndedAt,
		Analysis:  analysis,
		ClipIndex: index,
	}
	if _, err := w.store.Store(ctx, rec); err != nil {
		w.fail(clip, err, "storing analysis failed")
		return
	}

	w.mu.Lock()
	w.clipsProcessed++
	w.secondsProcessed += int(math.Round(clip.Duration().Seconds()))
	seconds, clips := w.secondsProcessed, w.clipsProcessed
	w.mu.Unlock()

	if w.metrics != nil {
		w.metrics.IncClipsAnalyzed()
	}
	w.bus.Publish(events.ProcessingComplete(clip.Path))
	w.bus.Publish(events.Progress(seconds, clips, w.queue.Len()))
	w.log.Info("clip analyzed and stored",
		slog.String("path", clip.Path),
		slog.Int("clips_processed", clips))
}

func (w *Worker) fail(clip capture.Clip, err error, msg string) {
	w.log.Error(msg, slog.String("path", clip.Path), slog.Any("error", err))
	w.bus.Publish(events.ProcessingError(clip.Path, err))
	if w.metrics != nil {
		w.metrics.IncProcessingErrors()
	}
}

func (w *Worker) setProcessing(v bool) {
	w.mu.Lock()
	w.processing = v
	w.mu.Unlock()
}

// Progress returns the pipeline's cumulative counters and current queue
// depth.
func (w *Worker) Progress() Progress {
	w.mu.Lock()
	defer w.mu.Unlock()
	return Progress{
		SecondsProcessed: w.secondsProcessed,
		ClipsProcessed:   w.clipsProcessed,
		QueueLength:      w.queue.Len(),
		Processing:       w.processing,
	}
}

// ResetProgress zeroes the cumulative counters. Used when the store is
// cleared.
func (w *Worker) ResetProgress() {
	w.mu.Lock()
	w.clipsProcessed = 0
	w.secondsProcessed = 0
	w.mu.Unlock()
}
