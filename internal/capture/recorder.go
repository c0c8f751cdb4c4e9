package capture

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"gocv.io/x/gocv"

	"github.com/motionmanjevin/inspectre/internal/events"
	"github.com/motionmanjevin/inspectre/internal/platform/metrics"
)

// Clip is a finalized, validated recording ready for analysis.
type Clip struct {
	Path      string
	StartedAt time.Time
	EndedAt   time.Time
	SizeBytes int64
}

// Duration returns the clip's recorded wall-clock span.
func (c Clip) Duration() time.Duration {
	return c.EndedAt.Sub(c.StartedAt)
}

// ClipSink receives finalized clips. Enqueue must not block.
type ClipSink interface {
	Enqueue(Clip)
}

// FrameWriter writes the frames of one recording session to disk.
type FrameWriter interface {
	Write(frame *gocv.Mat) error
	Close() error
}

// WriterFactory opens a FrameWriter at path for the given geometry and
// returns the name of the encoder it settled on.
type WriterFactory func(path string, fps float64, width, height int) (FrameWriter, string, error)

// RecorderConfig sizes one recorder. Zero values take the defaults
// below.
type RecorderConfig struct {
	Dir          string
	MaxDuration  time.Duration
	MinClipBytes int64
	FPS          float64
	Width        int
	Height       int

	// Finalization waits for the container to flush before validating
	// the file size.
	FlushInterval time.Duration
	FlushRetries  int
}

const (
	defaultMaxClipDuration = 16 * time.Second
	defaultMinClipBytes    = 1024
	defaultFlushInterval   = 300 * time.Millisecond
	defaultFlushRetries    = 10
)

func (c RecorderConfig) withDefaults() RecorderConfig {
	if c.MaxDuration <= 0 {
		c.MaxDuration = defaultMaxClipDuration
	}
	if c.MinClipBytes <= 0 {
		c.MinClipBytes = defaultMinClipBytes
	}
	if c.FPS <= 0 {
		c.FPS = DefaultFPS
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = defaultFlushInterval
	}
	if c.FlushRetries <= 0 {
		c.FlushRetries = defaultFlushRetries
	}
	return c
}

// session is one in-flight recording. The id ties the max-duration
// timer to the session it was armed for, so a timer firing after an
// early stop cannot touch a newer session.
type session struct {
	id        uuid.UUID
	path      string
	startedAt time.Time
	writer    FrameWriter
}

// Recorder is the recording state machine: idle or recording exactly
// one clip. Start, Stop, frame writes, and the max-duration timer all
// serialize on one mutex.
type Recorder struct {
	cfg       RecorderConfig
	log       *slog.Logger
	bus       *events.Broadcaster
	sink      ClipSink
	metrics   *metrics.Metrics
	newWriter WriterFactory

	mu      sync.Mutex
	session *session
	timer   *time.Timer
}

// NewRecorder returns an idle recorder. metrics may be nil.
func NewRecorder(cfg RecorderConfig, log *slog.Logger, bus *events.Broadcaster, sink ClipSink, m *metrics.Metrics) *Recorder {
	return &Recorder{
		cfg:       cfg.withDefaults(),
		log:       log,
		bus:       bus,
		sink:      sink,
		metrics:   m,
		newWriter: newVideoWriter,
	}
}

// Start begins a new recording session. A no-op while already
// recording. Encoder failure is reported as a writer_init_failed event
// and leaves the recorder idle; the stream keeps running.
func (r *Recorder) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.session != nil {
		return
	}

	now := time.Now()
	name := fmt.Sprintf("clip_%s_%s.avi", now.Format("20060102_150405"), uuid.NewString()[:8])
	path := filepath.Join(r.cfg.Dir, name)

	writer, codec, err := r.newWriter(path, r.cfg.FPS, r.cfg.Width, r.cfg.Height)
	if err != nil {
		r.log.Error("failed to open clip writer", slog.String("path", path), slog.Any("error", err))
		r.bus.Publish(events.Event{Type: events.TypeWriterInitFailed, ClipPath: path, Error: err.Error()})
		return
	}

	sess := &session{id: uuid.New(), path: path, startedAt: now, writer: writer}
	r.session = sess
	r.timer = time.AfterFunc(r.cfg.MaxDuration, func() {
		r.stopSession(sess.id)
	})

	r.log.Info("recording started",
		slog.String("path", path),
		slog.String("codec", codec))
}

// WriteFrame appends one frame to the current session. A no-op while
// idle. A write failure abandons the session and removes the partial
// file.
func (r *Recorder) WriteFrame(frame *gocv.Mat) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.session == nil {
		return
	}

	if err := r.session.writer.Write(frame); err != nil {
		sess := r.detachLocked()
		sess.writer.Close()
		os.Remove(sess.path)
		r.log.Error("frame write failed, recording abandoned",
			slog.String("path", sess.path), slog.Any("error", err))
		r.bus.Publish(events.Event{Type: events.TypeWriteFailed, ClipPath: sess.path, Error: err.Error()})
		if r.metrics != nil {
			r.metrics.IncClipsDiscarded()
		}
	}
}

// Stop ends the current session, if any, and finalizes its clip.
func (r *Recorder) Stop() {
	r.mu.Lock()
	var id uuid.UUID
	if r.session != nil {
		id = r.session.id
	}
	r.mu.Unlock()
	if id != uuid.Nil {
		r.stopSession(id)
	}
}

// Recording reports whether a session is in flight.
func (r *Recorder) Recording() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.session != nil
}

// CurrentPath returns the in-flight clip path, or "" while idle.
func (r *Recorder) CurrentPath() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.session == nil {
		return ""
	}
	return r.session.path
}

// stopSession ends the session with the given id. Stale ids (an already
// replaced or stopped session) are ignored, which makes the early stop
// and the max-duration timer safe to race.
func (r *Recorder) stopSession(id uuid.UUID) {
	r.mu.Lock()
	if r.session == nil || r.session.id != id {
		r.mu.Unlock()
		return
	}
	sess := r.detachLocked()
	if err := sess.writer.Close(); err != nil {
		r.log.Warn("closing clip writer", slog.String("path", sess.path), slog.Any("error", err))
	}
	r.mu.Unlock()

	endedAt := time.Now()
	go r.finalize(sess, endedAt)
}

// detachLocked removes the current session and disarms its timer.
// Caller holds r.mu.
func (r *Recorder) detachLocked() *session {
	sess := r.session
	r.session = nil
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
	return sess
}

// finalize waits for the container to flush, validates the file, and
// hands a valid clip to the sink. Undersized or missing files are
// removed and counted as discarded.
func (r *Recorder) finalize(sess *session, endedAt time.Time) {
	var size int64
	for i := 0; i < r.cfg.FlushRetries; i++ {
		if info, err := os.Stat(sess.path); err == nil {
			size = info.Size()
			if size > r.cfg.MinClipBytes {
				break
			}
		}
		time.Sleep(r.cfg.FlushInterval)
	}

	if size <= r.cfg.MinClipBytes {
		os.Remove(sess.path)
		r.log.Warn("discarding invalid clip",
			slog.String("path", sess.path),
			slog.Int64("bytes", size))
		if r.metrics != nil {
			r.metrics.IncClipsDiscarded()
		}
		return
	}

	clip := Clip{Path: sess.path, StartedAt: sess.startedAt, EndedAt: endedAt, SizeBytes: size}
	r.sink.Enqueue(clip)
	r.bus.Publish(events.ClipQueued(clip.Path))
	if r.metrics != nil {
		r.metrics.IncClipsRecorded()
	}
	r.log.Info("clip queued for analysis",
		slog.String("path", clip.Path),
		slog.Int64("bytes", clip.SizeBytes),
		slog.Duration("duration", clip.Duration()))
}
