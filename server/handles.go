package server

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chazu/objimpl/vm"
)

// handle is a server-side reference to a heap object.
type handle struct {
	id       string
	obj      *vm.Object
	class    string
	created  time.Time
	lastUsed time.Time
}

// HandleStore maps opaque string IDs to heap objects. Objects referenced by
// handles are rooted so the collector keeps them. Create, Release and Sweep
// touch the heap's roots and must run on the heap goroutine.
type HandleStore struct {
	mu      sync.RWMutex
	handles map[string]*handle
	nextID  atomic.Uint64
}

// NewHandleStore creates a new handle store.
func NewHandleStore() *HandleStore {
	return &HandleStore{handles: make(map[string]*handle)}
}

// Create roots obj and returns an opaque handle ID for it.
func (s *HandleStore) Create(h *vm.Heap, obj *vm.Object) string {
	id := fmt.Sprintf("h-%d", s.nextID.Add(1))

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	s.handles[id] = &handle{
		id:       id,
		obj:      obj,
		class:    obj.Class().FullName(),
		created:  now,
		lastUsed: now,
	}
	h.AddRoot(obj)
	return id
}

// Acquire returns the existing handle for obj, or creates one. Repeated
// inspection of the same object shares a handle and a single root.
func (s *HandleStore) Acquire(h *vm.Heap, obj *vm.Object) string {
	s.mu.Lock()
	for _, hd := range s.handles {
		if hd.obj == obj {
			hd.lastUsed = time.Now()
			s.mu.Unlock()
			return hd.id
		}
	}
	s.mu.Unlock()
	return s.Create(h, obj)
}

// Lookup retrieves the object for a handle.
func (s *HandleStore) Lookup(id string) (*vm.Object, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	hd, ok := s.handles[id]
	if !ok {
		return nil, false
	}
	hd.lastUsed = time.Now()
	return hd.obj, true
}

// Release removes a handle and unroots its object.
func (s *HandleStore) Release(h *vm.Heap, id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	hd, ok := s.handles[id]
	if !ok {
		return false
	}
	h.RemoveRoot(hd.obj)
	delete(s.handles, id)
	return true
}

// Pins returns how many handles refer to obj.
func (s *HandleStore) Pins(obj *vm.Object) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, hd := range s.handles {
		if hd.obj == obj {
			n++
		}
	}
	return n
}

// Len returns the number of live handles.
func (s *HandleStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.handles)
}

// Sweep removes handles that haven't been accessed within the TTL.
func (s *HandleStore) Sweep(h *vm.Heap, ttl time.Duration) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().Add(-ttl)
	removed := 0
	for id, hd := range s.handles {
		if hd.lastUsed.Before(cutoff) {
			h.RemoveRoot(hd.obj)
			delete(s.handles, id)
			removed++
		}
	}
	return removed
}

// StartSweeper runs periodic TTL sweeps on the worker in the background.
// Returns a stop function.
func (s *HandleStore) StartSweeper(w *HeapWorker, interval, ttl time.Duration) func() {
	ticker := time.NewTicker(interval)
	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-ticker.C:
				n, err := w.Do(func(h *vm.Heap) any { return s.Sweep(h, ttl) })
				if err != nil {
					log.Errorf("handle sweep: %s", err)
					continue
				}
				if n.(int) > 0 {
					log.Debugf("handle sweep released %d handles", n)
				}
			case <-done:
				ticker.Stop()
				return
			}
		}
	}()
	return func() { close(done) }
}
