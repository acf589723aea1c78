package pipeline

import "sync"

const defaultHistorySize = 100

// History keeps the most recent run reports
type History struct {
	mu      sync.RWMutex
	size    int
	reports []Report
}

func NewHistory(size int) *History {
	if size <= 0 {
		size = defaultHistorySize
	}
	return &History{size: size}
}

func (h *History) Add(r Report) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.reports = append(h.reports, r)
	if len(h.reports) > h.size {
		h.reports = append(h.reports[:0:0], h.reports[len(h.reports)-h.size:]...)
	}
}

// Recent returns the kept reports, newest first
func (h *History) Recent() []Report {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]Report, 0, len(h.reports))
	for i := len(h.reports) - 1; i >= 0; i-- {
		out = append(out, h.reports[i])
	}
	return out
}

// Last returns the newest report of a source
func (h *History) Last(source string) (Report, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for i := len(h.reports) - 1; i >= 0; i-- {
		if h.reports[i].Source == source {
			return h.reports[i], true
		}
	}
	return Report{}, false
}
