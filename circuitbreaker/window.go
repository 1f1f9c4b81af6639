package circuitbreaker

// outcome records a single call result in the sliding window.
type outcome struct {
	failed bool
}

// window is a fixed-size ring buffer of recent outcomes used for the
// error-rate trip condition. Not safe for concurrent use; the owning
// breaker serializes access under its lock.
type window struct {
	buf      []outcome
	head     int // next write position
	count    int // outcomes recorded, up to len(buf)
	failures int // failures currently in the buffer
}

func newWindow(size int) *window {
	return &window{buf: make([]outcome, size)}
}

// record writes a result, evicting the oldest entry once the buffer is full.
func (w *window) record(failed bool) {
	if w.count == len(w.buf) {
		if w.buf[w.head].failed {
			w.failures--
		}
	} else {
		w.count++
	}

	w.buf[w.head] = outcome{failed: failed}
	if failed {
		w.failures++
	}
	w.head = (w.head + 1) % len(w.buf)
}

// full reports whether the buffer holds a complete window of outcomes.
func (w *window) full() bool {
	return w.count == len(w.buf)
}

// failureRate returns the failure ratio over the recorded outcomes.
func (w *window) failureRate() float64 {
	if w.count == 0 {
		return 0
	}
	return float64(w.failures) / float64(w.count)
}

// reset discards all recorded outcomes.
func (w *window) reset() {
	w.head = 0
	w.count = 0
	w.failures = 0
}

// resize replaces the buffer with an empty one of the given size.
func (w *window) resize(size int) {
	w.buf = make([]outcome, size)
	w.reset()
}
