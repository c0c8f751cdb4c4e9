package events

// Type identifies a lifecycle event pushed to live observers.
type Type string

const (
	// TypeMotion fires on every motion state transition (edge), never
	// per-frame.
	TypeMotion Type = "motion"

	// TypeClipQueued fires when a finalized clip enters the analysis queue.
	TypeClipQueued Type = "clip_queued"

	// TypeProcessingStarted fires when the worker picks up a clip.
	TypeProcessingStarted Type = "processing_started"

	// TypeProcessingComplete fires when a clip's analysis was stored.
	TypeProcessingComplete Type = "processing_complete"

	// TypeProcessingError fires when analysis or storage failed for a clip.
	TypeProcessingError Type = "processing_error"

	// TypeProgress carries cumulative processing counters.
	TypeProgress Type = "progress"

	// TypeWriterInitFailed fires when no encoder could be opened for a
	// new recording; the stream itself keeps running.
	TypeWriterInitFailed Type = "writer_init_failed"

	// TypeWriteFailed fires when a frame write failed and the current
	// recording session was abandoned.
	TypeWriteFailed Type = "write_failed"
)

// Event is the wire form of a lifecycle notification. Only the fields
// relevant to the event type are populated.
type Event struct {
	Type             Type   `json:"type"`
	MotionDetected   bool   `json:"motion_detected,omitempty"`
	ClipPath         string `json:"clip_path,omitempty"`
	Error            string `json:"error,omitempty"`
	SecondsProcessed int    `json:"seconds_processed,omitempty"`
	ClipsProcessed   int    `json:"clips_processed,omitempty"`
	QueueDepth       int    `json:"queue_depth,omitempty"`
}

// Motion builds a motion edge event.
func Motion(detected bool) Event {
	return Event{Type: TypeMotion, MotionDetected: detected}
}

// ClipQueued builds a clip_queued event.
func ClipQueued(path string) Event {
	return Event{Type: TypeClipQueued, ClipPath: path}
}

// ProcessingStarted builds a processing_started event.
func ProcessingStarted(path string) Event {
	return Event{Type: TypeProcessingStarted, ClipPath: path}
}

// ProcessingComplete builds a processing_complete event.
func ProcessingComplete(path string) Event {
	return Event{Type: TypeProcessingComplete, ClipPath: path}
}

// ProcessingError builds a processing_error event.
func ProcessingError(path string, err error) Event {
	e := Event{Type: TypeProcessingError, ClipPath: path}
	if err != nil {
		e.Error = err.Error()
	}
	return e
}

// Progress builds a progress event.
func Progress(secondsProcessed, clipsProcessed, queueDepth int) Event {
	return Event{
		Type:             TypeProgress,
		SecondsProcessed: secondsProcessed,
		ClipsProcessed:   clipsProcessed,
		QueueDepth:       queueDepth,
	}
}
