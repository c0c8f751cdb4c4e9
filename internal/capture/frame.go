package capture

import "time"

// Frame is one captured video frame reduced to a single-channel
// intensity image. Frames are ephemeral: the capture loop copies the
// pixel data out of its reusable Mat before hand-off, so each Frame is
// owned exclusively by whichever stage holds it.
type Frame struct {
	Gray      []byte
	Width     int
	Height    int
	Timestamp time.Time
	Seq       uint64
}
