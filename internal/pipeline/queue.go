// Package pipeline moves finalized clips from the recorder to the
// semantic store: an unbounded FIFO queue feeds a single worker that
// analyzes one clip at a time.
package pipeline

import (
	"sync"

	"github.com/motionmanjevin/inspectre/internal/capture"
)

// Queue is an unbounded FIFO of clips awaiting analysis. Enqueue never
// blocks; clips survive in order until the worker drains them.
type Queue struct {
	mu    sync.Mutex
	clips []capture.Clip
	wake  chan struct{}
}

// NewQueue returns an empty queue.
func NewQueue() *Queue {
	return &Queue{wake: make(chan struct{}, 1)}
}

// Enqueue appends a clip and nudges a waiting consumer.
func (q *Queue) Enqueue(c capture.Clip) {
	q.mu.Lock()
	q.clips = append(q.clips, c)
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// Pop removes and returns the oldest clip, or ok=false when empty.
func (q *Queue) Pop() (capture.Clip, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.clips) == 0 {
		return capture.Clip{}, false
	}
	c := q.clips[0]
	q.clips = q.clips[1:]
	return c, true
}

// Len returns the number of waiting clips.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.clips)
}

// Wake returns the channel a consumer blocks on while the queue is
// empty. One token is delivered per Enqueue at most; consumers must
// re-check Pop after waking.
func (q *Queue) Wake() <-chan struct{} {
	return q.wake
}
