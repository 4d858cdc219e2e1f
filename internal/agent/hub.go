package agent

import (
	"sync"

	"github.com/remoteclauding/rcboot/internal/progress"
)

// hub fans progress events out to event-stream subscribers. Slow
// subscribers miss events rather than stall an install.
type hub struct {
	mu     sync.Mutex
	subs   map[chan progress.Event]struct{}
	closed bool
}

func newHub() *hub { return &hub{subs: map[chan progress.Event]struct{}{}} }

func (h *hub) Report(e progress.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs {
		select {
		case ch <- e:
		default:
		}
	}
}

// subscribe returns a channel of events and a function that releases it.
// The channel is closed when released or when the hub closes.
func (h *hub) subscribe() (<-chan progress.Event, func()) {
	ch := make(chan progress.Event, 64)
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		close(ch)
		return ch, func() {}
	}
	h.subs[ch] = struct{}{}
	return ch, func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if _, ok := h.subs[ch]; ok {
			delete(h.subs, ch)
			close(ch)
		}
	}
}

func (h *hub) close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for ch := range h.subs {
		delete(h.subs, ch)
		close(ch)
	}
}
