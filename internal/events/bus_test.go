package events

import (
	"testing"
	"time"
)

func TestMarketEventsAreNewestWins(t *testing.T) {
	bus := NewBus()
	ch, unsub := bus.Subscribe(KindMarket, 1)
	defer unsub()

	bus.Publish(KindMarket, MarketEvent{Coins: nil})
	bus.Publish(KindMarket, MarketEvent{})

	select {
	case v := <-ch:
		if _, ok := v.(MarketEvent); !ok {
			t.Fatalf("unexpected payload type %T", v)
		}
	default:
		t.Fatal("expected a buffered market event")
	}

	select {
	case <-ch:
		t.Fatal("expected only the newest event to be delivered")
	default:
	}
}

func TestLogEventsAreDeliveredInOrder(t *testing.T) {
	bus := NewBus()
	ch, unsub := bus.Subscribe(KindLog, 4)
	defer unsub()

	bus.Publish(KindLog, "first")
	bus.Publish(KindLog, "second")

	if got := <-ch; got != "first" {
		t.Fatalf("got %v, expected first", got)
	}
	if got := <-ch; got != "second" {
		t.Fatalf("got %v, expected second", got)
	}
}

func TestStalledLedgerSubscriberIsDisconnected(t *testing.T) {
	bus := NewBus()
	ch, _ := bus.Subscribe(KindLedger, 1)

	bus.Publish(KindLedger, LedgerEvent{})

	done := make(chan struct{})
	go func() {
		bus.Publish(KindLedger, LedgerEvent{})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("Publish should give up on a stalled guaranteed subscriber")
	}

	<-ch
	if _, ok := <-ch; ok {
		t.Fatal("expected the stalled subscriber's channel to be closed")
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	bus := NewBus()
	ch, unsub := bus.Subscribe(KindStatus, 1)
	unsub()

	bus.Publish(KindStatus, StatusEvent{})

	if _, ok := <-ch; ok {
		t.Fatal("expected channel closed after unsubscribe")
	}
}
