package capture

import (
	"errors"
	"fmt"
	"time"

	"gocv.io/x/gocv"
)

var (
	// ErrInvalidConfiguration means the source config did not name
	// exactly one of a local device or a network stream URL.
	ErrInvalidConfiguration = errors.New("exactly one of device index or stream URL must be set")

	// ErrSourceUnavailable means the device or URL could not be opened
	// or never produced a frame.
	ErrSourceUnavailable = errors.New("video source unavailable")

	// ErrReadFailed marks a single failed frame read. Transient; the
	// capture loop tolerates a bounded run of these before tearing down.
	ErrReadFailed = errors.New("frame read failed")
)

const (
	openReadRetries    = 5
	openReadRetryDelay = 500 * time.Millisecond

	deviceFrameWidth  = 640
	deviceFrameHeight = 480

	// DefaultFPS is assumed when the source does not report a frame rate.
	DefaultFPS = 30.0
)

// SourceConfig selects a video source: a local capture device by index
// or a network stream by URL, never both.
type SourceConfig struct {
	DeviceIndex *int   `json:"camera_index,omitempty"`
	StreamURL   string `json:"stream_url,omitempty"`
}

// Validate reports ErrInvalidConfiguration unless exactly one of the
// two source fields is set.
func (c SourceConfig) Validate() error {
	hasDevice := c.DeviceIndex != nil
	hasURL := c.StreamURL != ""
	if hasDevice == hasURL {
		return ErrInvalidConfiguration
	}
	return nil
}

// Label returns a human-readable name for the source.
func (c SourceConfig) Label() string {
	if c.StreamURL != "" {
		return c.StreamURL
	}
	if c.DeviceIndex != nil {
		return fmt.Sprintf("camera %d", *c.DeviceIndex)
	}
	return "unconfigured source"
}

// Source wraps an opened video capture. Not safe for concurrent use;
// the capture loop is its only caller after OpenSource returns.
type Source struct {
	cap *gocv.VideoCapture
	cfg SourceConfig
}

// OpenSource opens the configured device or stream.
//
// Network streams get an internal buffer of one frame so reads stay
// close to live, and the connection is verified by retrying an initial
// read a few times before giving up. Local devices are requested at
// 640x480; the driver may ignore that, so callers should read the
// effective geometry back with FrameSize.
func OpenSource(cfg SourceConfig) (*Source, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if cfg.StreamURL != "" {
		cap, err := gocv.OpenVideoCapture(cfg.StreamURL)
		if err != nil {
			return nil, fmt.Errorf("%w: opening %s: %v", ErrSourceUnavailable, cfg.StreamURL, err)
		}
		if !cap.IsOpened() {
			cap.Close()
			return nil, fmt.Errorf("%w: %s", ErrSourceUnavailable, cfg.StreamURL)
		}
		cap.Set(gocv.VideoCaptureBufferSize, 1)

		probe := gocv.NewMat()
		defer probe.Close()
		got := false
		for i := 0; i < openReadRetries; i++ {
			if cap.Read(&probe) && !probe.Empty() {
				got = true
				break
			}
			time.Sleep(openReadRetryDelay)
		}
		if !got {
			cap.Close()
			return nil, fmt.Errorf("%w: no frames from %s", ErrSourceUnavailable, cfg.StreamURL)
		}
		return &Source{cap: cap, cfg: cfg}, nil
	}

	cap, err := gocv.OpenVideoCapture(*cfg.DeviceIndex)
	if err != nil {
		return nil, fmt.Errorf("%w: opening camera %d: %v", ErrSourceUnavailable, *cfg.DeviceIndex, err)
	}
	if !cap.IsOpened() {
		cap.Close()
		return nil, fmt.Errorf("%w: camera %d", ErrSourceUnavailable, *cfg.DeviceIndex)
	}
	cap.Set(gocv.VideoCaptureFrameWidth, deviceFrameWidth)
	cap.Set(gocv.VideoCaptureFrameHeight, deviceFrameHeight)
	cap.Set(gocv.VideoCaptureFPS, DefaultFPS)
	return &Source{cap: cap, cfg: cfg}, nil
}

// Read fills dst with the next frame, returning ErrReadFailed when the
// source produced nothing.
func (s *Source) Read(dst *gocv.Mat) error {
	if !s.cap.Read(dst) || dst.Empty() {
		return fmt.Errorf("%w: %s", ErrReadFailed, s.cfg.Label())
	}
	return nil
}

// FrameSize returns the source's effective frame geometry.
func (s *Source) FrameSize() (width, height int) {
	return int(s.cap.Get(gocv.VideoCaptureFrameWidth)), int(s.cap.Get(gocv.VideoCaptureFrameHeight))
}

// FPS returns the reported frame rate, or DefaultFPS when the source
// does not report one.
func (s *Source) FPS() float64 {
	if fps := s.cap.Get(gocv.VideoCaptureFPS); fps > 0 {
		return fps
	}
	return DefaultFPS
}

// Config returns the configuration the source was opened with.
func (s *Source) Config() SourceConfig {
	return s.cfg
}

// Close releases the underlying capture handle.
func (s *Source) Close() error {
	return s.cap.Close()
}
