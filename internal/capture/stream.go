package capture

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"gocv.io/x/gocv"

	"github.com/motionmanjevin/inspectre/internal/events"
	"github.com/motionmanjevin/inspectre/internal/platform/metrics"
)

const (
	defaultFrameBuffer     = 10
	defaultMaxReadFailures = 10

	readFailureDelay = 100 * time.Millisecond
	loopJoinTimeout  = 2 * time.Second
)

// StreamConfig sizes one capture stream.
type StreamConfig struct {
	Source             SourceConfig
	PixelDiffThreshold int
	MotionThreshold    int
	FrameBuffer        int
	MaxReadFailures    int
	Recorder           RecorderConfig
}

// Status is the externally visible state of a stream.
type Status struct {
	Streaming        bool   `json:"is_streaming"`
	CameraIndex      *int   `json:"camera_index,omitempty"`
	StreamURL        string `json:"stream_url,omitempty"`
	MotionDetected   bool   `json:"motion_detected"`
	Recording        bool   `json:"is_recording"`
	CurrentRecording string `json:"current_recording,omitempty"`
}

// Stream owns one capture pipeline: a capture loop reading frames from
// the source and a motion loop consuming them through a bounded buffer.
// The capture loop never blocks on the buffer; when the motion loop
// falls behind, new frames are dropped.
type Stream struct {
	cfg      StreamConfig
	log      *slog.Logger
	bus      *events.Broadcaster
	metrics  *metrics.Metrics
	source   *Source
	detector *Detector
	recorder *Recorder

	frames      chan Frame
	stop        chan struct{}
	stopOnce    sync.Once
	captureDone chan struct{}
	motionDone  chan struct{}
	streaming   atomic.Bool

	mu     sync.Mutex
	motion MotionState
}

// StartStream opens the source and launches the capture and motion
// loops. metrics may be nil.
func StartStream(cfg StreamConfig, log *slog.Logger, bus *events.Broadcaster, sink ClipSink, m *metrics.Metrics) (*Stream, error) {
	if cfg.FrameBuffer <= 0 {
		cfg.FrameBuffer = defaultFrameBuffer
	}
	if cfg.MaxReadFailures <= 0 {
		cfg.MaxReadFailures = defaultMaxReadFailures
	}

	source, err := OpenSource(cfg.Source)
	if err != nil {
		return nil, err
	}

	recCfg := cfg.Recorder
	recCfg.Width, recCfg.Height = source.FrameSize()
	recCfg.FPS = source.FPS()

	s := &Stream{
		cfg:         cfg,
		log:         log.With(slog.String("source", cfg.Source.Label())),
		bus:         bus,
		metrics:     m,
		source:      source,
		detector:    NewDetector(cfg.PixelDiffThreshold, cfg.MotionThreshold),
		recorder:    NewRecorder(recCfg, log, bus, sink, m),
		frames:      make(chan Frame, cfg.FrameBuffer),
		stop:        make(chan struct{}),
		captureDone: make(chan struct{}),
		motionDone:  make(chan struct{}),
	}
	s.streaming.Store(true)
	if m != nil {
		m.SetStreaming(true)
	}

	go s.captureLoop()
	go s.motionLoop()

	s.log.Info("stream started",
		slog.Int("width", recCfg.Width),
		slog.Int("height", recCfg.Height),
		slog.Float64("fps", recCfg.FPS))
	return s, nil
}

// Stop shuts the stream down: signals both loops, waits for them with a
// bounded timeout, force-stops any in-flight recording, and releases
// the source. Idempotent.
func (s *Stream) Stop() {
	s.stopOnce.Do(func() {
		close(s.stop)
	})
	waitDone(s.captureDone, loopJoinTimeout)
	waitDone(s.motionDone, loopJoinTimeout)

	if !s.streaming.Swap(false) {
		return
	}
	s.recorder.Stop()
	if err := s.source.Close(); err != nil {
		s.log.Warn("closing video source", slog.Any("error", err))
	}
	if s.metrics != nil {
		s.metrics.SetStreaming(false)
	}
	s.log.Info("stream stopped")
}

// Status returns the stream's current externally visible state.
func (s *Stream) Status() Status {
	s.mu.Lock()
	motion := s.motion
	s.mu.Unlock()

	return Status{
		Streaming:        s.streaming.Load(),
		CameraIndex:      s.cfg.Source.DeviceIndex,
		StreamURL:        s.cfg.Source.StreamURL,
		MotionDetected:   motion.Active,
		Recording:        s.recorder.Recording(),
		CurrentRecording: s.recorder.CurrentPath(),
	}
}

// captureLoop reads frames, feeds the recorder, and hands grayscale
// copies to the motion loop. A bounded run of consecutive read failures
// tears the whole stream down.
func (s *Stream) captureLoop() {
	defer close(s.captureDone)

	frame := gocv.NewMat()
	defer frame.Close()
	gray := gocv.NewMat()
	defer gray.Close()

	failures := 0
	var seq uint64

	for {
		select {
		case <-s.stop:
			return
		default:
		}

		if err := s.source.Read(&frame); err != nil {
			failures++
			if failures >= s.cfg.MaxReadFailures {
				s.log.Error("too many consecutive read failures, stopping stream",
					slog.Int("failures", failures))
				go s.Stop()
				return
			}
			time.Sleep(readFailureDelay)
			continue
		}
		failures = 0
		seq++

		s.recorder.WriteFrame(&frame)

		gocv.CvtColor(frame, &gray, gocv.ColorBGRToGray)
		f := Frame{
			Gray:      gray.ToBytes(),
			Width:     gray.Cols(),
			Height:    gray.Rows(),
			Timestamp: time.Now(),
			Seq:       seq,
		}
		select {
		case s.frames <- f:
		default:
			// Motion loop is behind; drop rather than block capture.
		}
	}
}

// motionLoop runs the detector over buffered frames and drives the
// recorder on motion edges.
func (s *Stream) motionLoop() {
	defer close(s.motionDone)

	for {
		select {
		case <-s.stop:
			return
		case f := <-s.frames:
			state, edge := s.detector.Process(f)

			s.mu.Lock()
			s.motion = state
			s.mu.Unlock()

			if !edge {
				continue
			}
			s.bus.Publish(events.Motion(state.Active))
			if s.metrics != nil {
				s.metrics.IncMotionEvents()
			}
			if state.Active {
				s.log.Info("motion started", slog.Int("pixel_score", state.PixelScore))
				s.recorder.Start()
			} else {
				s.log.Info("motion ended")
				s.recorder.Stop()
			}
		}
	}
}

func waitDone(ch <-chan struct{}, timeout time.Duration) bool {
	select {
	case <-ch:
		return true
	case <-time.After(timeout):
		return false
	}
}
