package app

import (
	"sync"

	"sheetcast/internal/post"
)

// history keeps the most recent run outcomes for /status, newest first.
type history struct {
	mu   sync.Mutex
	buf  []post.Outcome
	next int
	full bool
}

func newHistory(size int) *history {
	if size <= 0 {
		size = 1
	}
	return &history{buf: make([]post.Outcome, size)}
}

func (h *history) add(o post.Outcome) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.buf[h.next] = o
	h.next = (h.next + 1) % len(h.buf)
	if h.next == 0 {
		h.full = true
	}
}

func (h *history) list() []post.Outcome {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := h.next
	if h.full {
		n = len(h.buf)
	}
	out := make([]post.Outcome, 0, n)
	for i := 1; i <= n; i++ {
		out = append(out, h.buf[(h.next-i+len(h.buf))%len(h.buf)])
	}
	return out
}
