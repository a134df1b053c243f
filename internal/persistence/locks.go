package persistence

import (
	"context"
	"sort"
	"sync"
)

// KeyedLocker hands out exclusive locks by string key. Keys are created on
// demand and dropped once no holder or waiter references them.
type KeyedLocker struct {
	mu    sync.Mutex
	slots map[string]*lockSlot
}

type lockSlot struct {
	ch   chan struct{}
	refs int
}

// NewKeyedLocker returns an empty lock table.
func NewKeyedLocker() *KeyedLocker {
	return &KeyedLocker{slots: make(map[string]*lockSlot)}
}

// Acquire locks every key in sorted order, so callers requesting overlapping
// key sets cannot deadlock each other. The returned release func unlocks all of
// them. If ctx ends while waiting, locks taken so far are released and the
// context error is returned.
func (l *KeyedLocker) Acquire(ctx context.Context, keys []string) (func(), error) {
	ordered := NormalizeLockKeys(keys)
	held := make([]string, 0, len(ordered))

	release := func() {
		for i := len(held) - 1; i >= 0; i-- {
			l.unlock(held[i])
		}
	}

	for _, key := range ordered {
		slot := l.ref(key)
		select {
		case slot.ch <- struct{}{}:
			held = append(held, key)
		case <-ctx.Done():
			l.unref(key)
			release()
			return nil, ctx.Err()
		}
	}
	return release, nil
}

func (l *KeyedLocker) ref(key string) *lockSlot {
	l.mu.Lock()
	defer l.mu.Unlock()
	slot, ok := l.slots[key]
	if !ok {
		slot = &lockSlot{ch: make(chan struct{}, 1)}
		l.slots[key] = slot
	}
	slot.refs++
	return slot
}

func (l *KeyedLocker) unref(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	slot, ok := l.slots[key]
	if !ok {
		return
	}
	slot.refs--
	if slot.refs == 0 {
		delete(l.slots, key)
	}
}

func (l *KeyedLocker) unlock(key string) {
	l.mu.Lock()
	slot, ok := l.slots[key]
	l.mu.Unlock()
	if !ok {
		return
	}
	<-slot.ch
	l.unref(key)
}

// NormalizeLockKeys drops empty and duplicate keys and sorts the rest.
func NormalizeLockKeys(keys []string) []string {
	seen := make(map[string]struct{}, len(keys))
	out := make([]string, 0, len(keys))
	for _, key := range keys {
		if key == "" {
			continue
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, key)
	}
	sort.Strings(out)
	return out
}
