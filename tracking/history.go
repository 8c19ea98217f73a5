package tracking

import "example/lanefinder/lanefit"

// history is a fixed-capacity ring buffer of accepted fits, oldest first.
type history struct {
	buf  []lanefit.Polynomial
	head int // index of the oldest entry
	n    int
}

func newHistory(capacity int) history {
	if capacity < 1 {
		capacity = 1
	}
	return history{buf: make([]lanefit.Polynomial, capacity)}
}

// push appends p, evicting the oldest entry when full.
func (h *history) push(p lanefit.Polynomial) {
	if h.n < len(h.buf) {
		h.buf[(h.head+h.n)%len(h.buf)] = p
		h.n++
		return
	}
	h.buf[h.head] = p
	h.head = (h.head + 1) % len(h.buf)
}

// mean returns the coefficient-wise average of the stored fits.
func (h *history) mean() lanefit.Polynomial {
	if h.n == 0 {
		return lanefit.Polynomial{}
	}
	var sum lanefit.Polynomial
	for i := 0; i < h.n; i++ {
		sum = sum.Add(h.buf[(h.head+i)%len(h.buf)])
	}
	return sum.Mul(1 / float64(h.n))
}

// latest returns the most recently pushed fit.
func (h *history) latest() (lanefit.Polynomial, bool) {
	if h.n == 0 {
		return lanefit.Polynomial{}, false
	}
	return h.buf[(h.head+h.n-1)%len(h.buf)], true
}

// entries returns the stored fits, oldest first.
func (h *history) entries() []lanefit.Polynomial {
	out := make([]lanefit.Polynomial, h.n)
	for i := range out {
		out[i] = h.buf[(h.head+i)%len(h.buf)]
	}
	return out
}

func (h *history) len() int { return h.n }

func (h *history) reset() {
	h.head, h.n = 0, 0
}
