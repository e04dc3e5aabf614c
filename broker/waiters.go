package broker

import (
	"sync"
	"time"
)

type waiter struct {
	ch      chan []byte
	created time.Time
}

// waiterMap is a tiny typed wrapper for sync.Map keyed by [16]byte.
type waiterMap struct {
	sync.Map
}

func (wm *waiterMap) NewWaiter() ([16]byte, chan []byte) {
	id := NewMessageID()
	ch := make(chan []byte, 1)
	wm.Map.Store(id, waiter{ch: ch, created: time.Now()})
	return id, ch
}

func (wm *waiterMap) Delete(id [16]byte) {
	wm.Map.Delete(id)
}

func (wm *waiterMap) LoadAndDelete(id [16]byte) (chan []byte, bool) {
	v, ok := wm.Map.LoadAndDelete(id)
	if !ok {
		return nil, false
	}

	return v.(waiter).ch, true
}

// ReapStale drops waiters older than ttl and returns how many it removed.
func (wm *waiterMap) ReapStale(ttl time.Duration) int {
	cutoff := time.Now().Add(-ttl)
	reaped := 0
	wm.Map.Range(func(k, v any) bool {
		if !v.(waiter).created.After(cutoff) {
			wm.Map.Delete(k)
			reaped++
		}
		return true
	})
	return reaped
}

// requestMap tracks request ids, typed over sync.Map.
type requestMap[T any] struct {
	m *sync.Map
}

func newRequestMap[T any]() requestMap[T] {
	return requestMap[T]{m: &sync.Map{}}
}

func (r requestMap[T]) LoadOrStore(id [16]byte, v T) (T, bool) {
	actual, loaded := r.m.LoadOrStore(id, v)
	return actual.(T), loaded
}

func (r requestMap[T]) Has(id [16]byte) bool {
	_, ok := r.m.Load(id)
	return ok
}

func (r requestMap[T]) Delete(id [16]byte) {
	r.m.Delete(id)
}
