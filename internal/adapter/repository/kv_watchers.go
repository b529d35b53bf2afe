package repository

import "sync"

// kvWatchers fans out change notifications for stores that only see their
// own writes.
type kvWatchers struct {
	mu   sync.Mutex
	next int
	fns  map[string]map[int]func(string, bool)
}

func (w *kvWatchers) add(key string, fn func(string, bool)) func() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.fns == nil {
		w.fns = make(map[string]map[int]func(string, bool))
	}
	if w.fns[key] == nil {
		w.fns[key] = make(map[int]func(string, bool))
	}
	id := w.next
	w.next++
	w.fns[key][id] = fn

	return func() {
		w.mu.Lock()
		defer w.mu.Unlock()
		delete(w.fns[key], id)
		if len(w.fns[key]) == 0 {
			delete(w.fns, key)
		}
	}
}

func (w *kvWatchers) notify(key, value string, ok bool) {
	w.mu.Lock()
	fns := make([]func(string, bool), 0, len(w.fns[key]))
	for _, fn := range w.fns[key] {
		fns = append(fns, fn)
	}
	w.mu.Unlock()

	for _, fn := range fns {
		fn(value, ok)
	}
}
