package sampler

import "time"

// DefaultWindow is the span of the frames per second estimate.
const DefaultWindow = time.Second

// FrameWindow holds recent frame completion times. Its length after pruning
// is the frames per second estimate.
type FrameWindow struct {
	span   time.Duration
	frames []time.Time
}

// NewFrameWindow returns an empty window. A non-positive span selects
// DefaultWindow.
func NewFrameWindow(span time.Duration) *FrameWindow {
	if span <= 0 {
		span = DefaultWindow
	}
	return &FrameWindow{span: span}
}

// Record appends now, drops frames older than the span and returns the
// number of frames left.
func (w *FrameWindow) Record(now time.Time) int {
	w.frames = append(w.frames, now)
	keep := 0
	for keep < len(w.frames) && now.Sub(w.frames[keep]) > w.span {
		keep++
	}
	if keep > 0 {
		w.frames = append(w.frames[:0], w.frames[keep:]...)
	}
	return len(w.frames)
}

// FPS returns the last estimate.
func (w *FrameWindow) FPS() int {
	return len(w.frames)
}
