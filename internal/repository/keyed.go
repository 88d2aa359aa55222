package repository

import (
	"sort"
	"sync"
)

// keyed is a map whose entries are locked individually, so operations on
// different keys never contend on a shared mutex.
type keyed[T any] struct {
	m sync.Map // string -> *slot[T]
}

type slot[T any] struct {
	mu      sync.Mutex
	val     T
	present bool
}

func (k *keyed[T]) slot(key string) *slot[T] {
	if s, ok := k.m.Load(key); ok {
		return s.(*slot[T])
	}
	s, _ := k.m.LoadOrStore(key, &slot[T]{})
	return s.(*slot[T])
}

func (k *keyed[T]) get(key string) (T, bool) {
	s, ok := k.m.Load(key)
	if !ok {
		var zero T
		return zero, false
	}
	sl := s.(*slot[T])
	sl.mu.Lock()
	defer sl.mu.Unlock()
	return sl.val, sl.present
}

// update runs fn under the key's lock. fn returns the new value and whether
// the key should remain present.
func (k *keyed[T]) update(key string, fn func(cur T, present bool) (T, bool)) {
	sl := k.slot(key)
	sl.mu.Lock()
	defer sl.mu.Unlock()
	sl.val, sl.present = fn(sl.val, sl.present)
}

func (k *keyed[T]) set(key string, v T) {
	k.update(key, func(T, bool) (T, bool) { return v, true })
}

func (k *keyed[T]) remove(key string) {
	k.update(key, func(T, bool) (T, bool) {
		var zero T
		return zero, false
	})
}

// keys returns the present keys in sorted order.
func (k *keyed[T]) keys() []string {
	var out []string
	k.m.Range(func(key, v any) bool {
		sl := v.(*slot[T])
		sl.mu.Lock()
		present := sl.present
		sl.mu.Unlock()
		if present {
			out = append(out, key.(string))
		}
		return true
	})
	sort.Strings(out)
	return out
}
