package features

import "time"

// slidingWindow counts events in the trailing interval (t - width, t].
// Timestamps must be pushed in non-decreasing order. Evicted slots are
// reclaimed by compacting once the dead prefix outgrows the live part,
// so every push is O(1) amortized.
type slidingWindow struct {
	width time.Duration
	buf   []time.Time
	head  int
}

func newSlidingWindow(width time.Duration) *slidingWindow {
	return &slidingWindow{width: width}
}

// push adds ts, evicts events that fell out of the window, and returns the
// number of events in the window including ts.
func (w *slidingWindow) push(ts time.Time) int {
	w.buf = append(w.buf, ts)

	cutoff := ts.Add(-w.width)
	for w.head < len(w.buf) && !w.buf[w.head].After(cutoff) {
		w.head++
	}

	if w.head > 32 && w.head*2 > len(w.buf) {
		n := copy(w.buf, w.buf[w.head:])
		w.buf = w.buf[:n]
		w.head = 0
	}

	return len(w.buf) - w.head
}
