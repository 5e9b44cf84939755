package events

import (
	"log"
	"sync"
	"time"
)

// ledgerSendTimeout bounds how long Publish will block a guaranteed-delivery
// subscriber (log, ledger) before giving up on it as stalled.
const ledgerSendTimeout = 2 * time.Second

// Bus is a lightweight pub/sub broker using channels. Unlike a uniform
// drop-if-slow broker, it gives market/portfolio subscribers best-effort,
// newest-value-wins delivery (a slow UI sees the latest scan, not a
// backlog of stale ones) while log/ledger subscribers get guaranteed,
// in-order delivery: a stalled subscriber is disconnected and logged
// rather than silently losing a ledger row.
type Bus struct {
	mu   sync.RWMutex
	subs map[Kind][]*subscriber
}

type subscriber struct {
	ch chan any
}

// NewBus creates an event bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[Kind][]*subscriber)}
}

// Subscribe registers a listener for a kind and returns its channel and an unsubscribe function.
func (b *Bus) Subscribe(k Kind, buffer int) (<-chan any, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := &subscriber{ch: make(chan any, buffer)}
	b.subs[k] = append(b.subs[k], sub)

	unsub := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		subs := b.subs[k]
		for i, s := range subs {
			if s == sub {
				close(s.ch)
				b.subs[k] = append(subs[:i], subs[i+1:]...)
				break
			}
		}
	}

	return sub.ch, unsub
}

// Publish fans the payload out to every subscriber of k, applying k's
// delivery semantics.
func (b *Bus) Publish(k Kind, payload any) {
	b.mu.RLock()
	subs := make([]*subscriber, len(b.subs[k]))
	copy(subs, b.subs[k])
	b.mu.RUnlock()

	guaranteed := k == KindLog || k == KindLedger

	for _, sub := range subs {
		if guaranteed {
			b.sendGuaranteed(k, sub, payload)
		} else {
			sendNewestWins(sub, payload)
		}
	}
}

// sendNewestWins drops the oldest buffered value in favor of payload when
// the subscriber hasn't drained in time, so a slow reader always observes
// the latest scan or balance snapshot instead of a growing backlog.
func sendNewestWins(sub *subscriber, payload any) {
	select {
	case sub.ch <- payload:
		return
	default:
	}
	select {
	case <-sub.ch:
	default:
	}
	select {
	case sub.ch <- payload:
	default:
	}
}

// sendGuaranteed blocks up to ledgerSendTimeout to deliver payload. A
// subscriber that can't keep up is treated as dead: it is unsubscribed
// and the drop is logged, rather than silently discarding a log or
// ledger row.
func (b *Bus) sendGuaranteed(k Kind, sub *subscriber, payload any) {
	select {
	case sub.ch <- payload:
		return
	case <-time.After(ledgerSendTimeout):
	}

	log.Printf("events: subscriber stalled on %s, disconnecting", k)
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := b.subs[k]
	for i, s := range subs {
		if s == sub {
			close(s.ch)
			b.subs[k] = append(subs[:i], subs[i+1:]...)
			return
		}
	}
}
