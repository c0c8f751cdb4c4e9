package capture

// Default motion detection tuning. PixelDiffThreshold is the intensity
// delta (out of 255) above which a pixel counts as changed;
// MotionThreshold is how many changed pixels constitute motion.
const (
	DefaultPixelDiffThreshold = 30
	DefaultMotionThreshold    = 5000
)

// MotionState is the detector's per-frame output.
type MotionState struct {
	Active     bool
	PixelScore int
}

// Detector computes a motion signal by frame differencing. It keeps
// exactly one prior intensity image, replaced every cycle, and reports
// transitions edge-triggered: Process returns edge=true only when the
// boolean motion state differs from the previous cycle. Not safe for
// concurrent use; each stream owns one detector.
type Detector struct {
	pixelDiffThreshold int
	motionThreshold    int

	prev   []byte
	primed bool
	state  MotionState
}

// NewDetector returns a detector with the given thresholds; non-positive
// values fall back to the defaults.
func NewDetector(pixelDiffThreshold, motionThreshold int) *Detector {
	if pixelDiffThreshold <= 0 {
		pixelDiffThreshold = DefaultPixelDiffThreshold
	}
	if motionThreshold <= 0 {
		motionThreshold = DefaultMotionThreshold
	}
	return &Detector{
		pixelDiffThreshold: pixelDiffThreshold,
		motionThreshold:    motionThreshold,
	}
}

// Process consumes one frame and returns the resulting motion state and
// whether this frame is a transition edge. The first frame (or a frame
// whose geometry differs from the stored prior) only primes the detector
// and never produces an edge.
func (d *Detector) Process(f Frame) (MotionState, bool) {
	if !d.primed || len(f.Gray) != len(d.prev) {
		d.prev = append(d.prev[:0], f.Gray...)
		d.primed = true
		return d.state, false
	}

	count := 0
	for i, p := range f.Gray {
		diff := int(p) - int(d.prev[i])
		if diff < 0 {
			diff = -diff
		}
		if diff > d.pixelDiffThreshold {
			count++
		}
	}

	d.prev = append(d.prev[:0], f.Gray...)

	active := count > d.motionThreshold
	edge := active != d.state.Active
	d.state = MotionState{Active: active, PixelScore: count}
	return d.state, edge
}

// State returns the detector's current motion state.
func (d *Detector) State() MotionState {
	return d.state
}
