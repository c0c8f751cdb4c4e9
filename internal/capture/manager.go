package capture

import (
	"log/slog"
	"sync"

	"github.com/motionmanjevin/inspectre/internal/events"
	"github.com/motionmanjevin/inspectre/internal/platform/metrics"
)

// Manager owns the lifecycle of the single active stream. Starting a
// new stream while one is running stops the old one first.
type Manager struct {
	base    StreamConfig
	log     *slog.Logger
	bus     *events.Broadcaster
	sink    ClipSink
	metrics *metrics.Metrics

	mu     sync.Mutex
	stream *Stream
}

// NewManager returns a manager whose streams inherit base for
// everything a start request does not override.
func NewManager(base StreamConfig, log *slog.Logger, bus *events.Broadcaster, sink ClipSink, m *metrics.Metrics) *Manager {
	return &Manager{base: base, log: log, bus: bus, sink: sink, metrics: m}
}

// Start opens a stream for the given source, replacing any running one.
// motionThreshold <= 0 keeps the configured default.
func (m *Manager) Start(src SourceConfig, motionThreshold int) error {
	if err := src.Validate(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stream != nil {
		m.stream.Stop()
		m.stream = nil
	}

	cfg := m.base
	cfg.Source = src
	if motionThreshold > 0 {
		cfg.MotionThreshold = motionThreshold
	}

	stream, err := StartStream(cfg, m.log, m.bus, m.sink, m.metrics)
	if err != nil {
		return err
	}
	m.stream = stream
	return nil
}

// Stop stops the active stream, if any.
func (m *Manager) Stop() {
	m.mu.Lock()
	stream := m.stream
	m.stream = nil
	m.mu.Unlock()

	if stream != nil {
		stream.Stop()
	}
}

// Status returns the active stream's status, or an idle Status when no
// stream is running.
func (m *Manager) Status() Status {
	m.mu.Lock()
	stream := m.stream
	m.mu.Unlock()

	if stream == nil {
		return Status{}
	}
	return stream.Status()
}
