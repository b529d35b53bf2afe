package connectivity

import "sync"

// hub fans readings out to subscribers and replays the latest reading to
// late subscribers. Callbacks run outside the lock.
type hub struct {
	mu     sync.Mutex
	nextID int
	subs   map[int]func(bool)
	known  bool
	last   bool
}

func newHub() *hub {
	return &hub{subs: make(map[int]func(bool))}
}

func (h *hub) subscribe(fn func(bool)) func() {
	h.mu.Lock()
	id := h.nextID
	h.nextID++
	h.subs[id] = fn
	known, last := h.known, h.last
	h.mu.Unlock()

	if known {
		fn(last)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, id)
			h.mu.Unlock()
		})
	}
}

// publish records online and notifies subscribers. With onlyChanges set,
// a repeat of the last reading is dropped.
func (h *hub) publish(online bool, onlyChanges bool) {
	h.mu.Lock()
	if onlyChanges && h.known && h.last == online {
		h.mu.Unlock()
		return
	}
	h.known, h.last = true, online
	fns := make([]func(bool), 0, len(h.subs))
	for _, fn := range h.subs {
		fns = append(fns, fn)
	}
	h.mu.Unlock()

	for _, fn := range fns {
		fn(online)
	}
}

func (h *hub) current() (online bool, known bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.last, h.known
}
