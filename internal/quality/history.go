package quality

// DefaultHistorySize is the default number of overall scores retained.
const DefaultHistorySize = 100

// History is a bounded FIFO window of overall quality scores.
// It is owned by a single session worker and is not safe for concurrent use.
type History struct {
	values []float64
	size   int
	head   int
	count  int
}

// NewHistory creates a window holding at most size values.
func NewHistory(size int) *History {
	if size <= 0 {
		size = DefaultHistorySize
	}
	return &History{
		values: make([]float64, size),
		size:   size,
	}
}

// Push appends v, evicting the oldest value when full.
func (h *History) Push(v float64) {
	h.values[h.head] = v
	h.head = (h.head + 1) % h.size
	if h.count < h.size {
		h.count++
	}
}

// Len returns the number of stored values.
func (h *History) Len() int {
	if h == nil {
		return 0
	}
	return h.count
}

// Cap returns the window capacity.
func (h *History) Cap() int {
	return h.size
}

// Last returns the most recent value.
func (h *History) Last() (float64, bool) {
	if h.Len() == 0 {
		return 0, false
	}
	return h.values[(h.head-1+h.size)%h.size], true
}

// Recent returns up to n most recent values, oldest first.
func (h *History) Recent(n int) []float64 {
	if h.Len() == 0 || n <= 0 {
		return nil
	}
	if n > h.count {
		n = h.count
	}
	out := make([]float64, n)
	start := (h.head - n + h.size) % h.size
	for i := range n {
		out[i] = h.values[(start+i)%h.size]
	}
	return out
}

// Values returns every stored value, oldest first.
func (h *History) Values() []float64 {
	return h.Recent(h.Len())
}

// Mean returns the mean of the last n values, or fallback when empty.
// n <= 0 averages the whole window.
func (h *History) Mean(n int, fallback float64) float64 {
	if n <= 0 {
		n = h.Len()
	}
	vals := h.Recent(n)
	if len(vals) == 0 {
		return fallback
	}
	var sum float64
	for _, v := range vals {
		sum += v
	}
	return sum / float64(len(vals))
}

// Resize changes the capacity, keeping the most recent values.
func (h *History) Resize(size int) {
	if size <= 0 || size == h.size {
		return
	}
	vals := h.Recent(size)
	h.values = make([]float64, size)
	h.size = size
	h.head = 0
	h.count = 0
	for _, v := range vals {
		h.Push(v)
	}
}

// Reset discards all values.
func (h *History) Reset() {
	h.head = 0
	h.count = 0
}
