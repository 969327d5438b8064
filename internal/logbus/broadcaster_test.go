package logbus

import (
	"fmt"
	"testing"
)

func TestPublishWithoutSubscribers(t *testing.T) {
	b := NewNop()
	b.Publish("nobody listening")
}

func TestSubscribeReceivesInOrder(t *testing.T) {
	b := NewNop()
	id, ch := b.Subscribe()
	defer b.Unsubscribe(id)

	b.Publish("first")
	b.Publish("second")
	b.Publish("third")

	for _, want := range []string{"first", "second", "third"} {
		got := <-ch
		if got != want {
			t.Fatalf("received %q, want %q", got, want)
		}
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	b := NewNop()
	id, ch := b.Subscribe()

	b.Publish("before")
	b.Unsubscribe(id)
	b.Publish("after")

	got, ok := <-ch
	if !ok || got != "before" {
		t.Fatalf("expected buffered line before unsubscribe, got %q (ok=%v)", got, ok)
	}
	if _, ok := <-ch; ok {
		t.Fatalf("channel should be closed after unsubscribe")
	}
}

func TestDoubleUnsubscribe(t *testing.T) {
	b := NewNop()
	id, _ := b.Subscribe()
	b.Unsubscribe(id)
	b.Unsubscribe(id)
}

func TestSlowSubscriberDoesNotBlockPublish(t *testing.T) {
	b := NewNop()
	id, ch := b.Subscribe()
	defer b.Unsubscribe(id)

	// Overfill the buffer; the extra lines must be dropped, not block.
	for i := 0; i < subscriberBuffer+10; i++ {
		b.Publish(fmt.Sprintf("line-%d", i))
	}

	if got := <-ch; got != "line-0" {
		t.Fatalf("first buffered line = %q, want line-0", got)
	}
}

func TestIndependentSubscribers(t *testing.T) {
	b := NewNop()
	id1, ch1 := b.Subscribe()
	id2, ch2 := b.Subscribe()

	b.Publish("hello")
	b.Unsubscribe(id1)
	b.Publish("world")

	if got := <-ch1; got != "hello" {
		t.Fatalf("subscriber 1 got %q", got)
	}
	if got := <-ch2; got != "hello" {
		t.Fatalf("subscriber 2 got %q", got)
	}
	if got := <-ch2; got != "world" {
		t.Fatalf("subscriber 2 got %q after unsubscribe of 1", got)
	}

	b.Unsubscribe(id2)
}
