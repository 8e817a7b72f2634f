package service

import (
	"sync"

	"farm-payments/internal/core/ports"
)

// authBroker hands provider results to the goroutine waiting on a reference.
type authBroker struct {
	mu      sync.Mutex
	waiters map[string]chan ports.AuthorizationResult
	pushes  map[string]string // push id -> reference
}

func newAuthBroker() *authBroker {
	return &authBroker{
		waiters: make(map[string]chan ports.AuthorizationResult),
		pushes:  make(map[string]string),
	}
}

// register opens a waiter for reference. The returned cancel must be called.
func (b *authBroker) register(reference string) (<-chan ports.AuthorizationResult, func()) {
	ch := make(chan ports.AuthorizationResult, 1)
	b.mu.Lock()
	b.waiters[reference] = ch
	b.mu.Unlock()

	return ch, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if b.waiters[reference] == ch {
			delete(b.waiters, reference)
		}
		for push, ref := range b.pushes {
			if ref == reference {
				delete(b.pushes, push)
			}
		}
	}
}

func (b *authBroker) bindPush(pushID, reference string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.waiters[reference]; ok {
		b.pushes[pushID] = reference
	}
}

// resolve maps a result to its reference using the push id when the provider omitted it.
func (b *authBroker) resolve(res ports.AuthorizationResult) string {
	if res.Reference != "" {
		return res.Reference
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.pushes[res.PushID]
}

// deliver reports whether a live waiter took the result. Only the first
// result per waiter is kept.
func (b *authBroker) deliver(reference string, res ports.AuthorizationResult) bool {
	b.mu.Lock()
	ch, ok := b.waiters[reference]
	b.mu.Unlock()
	if !ok {
		return false
	}
	select {
	case ch <- res:
	default:
	}
	return true
}

func (b *authBroker) waiting(reference string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.waiters[reference]
	return ok
}
