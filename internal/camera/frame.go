package camera

import (
	"image"
	"time"
)

// Frame is a single timestamped video frame.
type Frame struct {
	Timestamp time.Time
	Image     image.Image
}

// queueCapacity bounds the handoff between the capture loop and consumers.
// When full, the oldest frame is evicted so consumers always see recent video.
const queueCapacity = 10

// frameQueue is a bounded most-recent-wins queue. Push never blocks the
// producer; Pop blocks up to the given timeout.
type frameQueue struct {
	ch chan Frame
}

func newFrameQueue(capacity int) *frameQueue {
	return &frameQueue{ch: make(chan Frame, capacity)}
}

// Push enqueues a frame, evicting the oldest entry when the queue is full.
func (q *frameQueue) Push(f Frame) {
	for {
		select {
		case q.ch <- f:
			return
		default:
			// Full: drop the oldest frame and retry.
			select {
			case <-q.ch:
			default:
			}
		}
	}
}

// Pop dequeues a frame, waiting at most timeout. The second return value is
// false when the wait timed out.
func (q *frameQueue) Pop(timeout time.Duration) (Frame, bool) {
	select {
	case f := <-q.ch:
		return f, true
	case <-time.After(timeout):
		return Frame{}, false
	}
}

// Len reports the number of queued frames.
func (q *frameQueue) Len() int {
	return len(q.ch)
}
