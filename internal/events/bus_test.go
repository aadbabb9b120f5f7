package events

import (
	"testing"
	"time"
)

func TestSubscribePublish(t *testing.T) {
	b := NewBus(4)
	defer b.Close()

	ch, cancel := b.Subscribe(JobTopic("j1"))
	defer cancel()

	b.Publish(JobTopic("j1"), Event{Type: TypeStarted, JobID: "j1"})

	select {
	case ev := <-ch:
		if ev.Type != TypeStarted || ev.JobID != "j1" {
			t.Fatalf("got %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("event not delivered")
	}
}

func TestPublish_OtherTopicNotDelivered(t *testing.T) {
	b := NewBus(4)
	defer b.Close()

	ch, cancel := b.Subscribe(JobTopic("j1"))
	defer cancel()

	b.Publish(JobTopic("j2"), Event{Type: TypeStarted, JobID: "j2"})

	select {
	case ev := <-ch:
		t.Fatalf("unexpected delivery: %+v", ev)
	case <-time.After(20 * time.Millisecond):
	}
}

func TestPublish_DropsWhenBufferFull(t *testing.T) {
	b := NewBus(1)
	defer b.Close()

	_, cancel := b.Subscribe(PublicTopic)
	defer cancel()

	done := make(chan struct{})
	go func() {
		// Second publish must drop, not block.
		b.Publish(PublicTopic, Event{Type: TypeStarted})
		b.Publish(PublicTopic, Event{Type: TypeCompleted})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on full subscriber buffer")
	}
}

func TestCancel_ClosesChannel(t *testing.T) {
	b := NewBus(4)
	defer b.Close()

	ch, cancel := b.Subscribe(PublicTopic)
	cancel()
	cancel() // idempotent

	if _, ok := <-ch; ok {
		t.Fatal("channel still open after cancel")
	}
	// Publishing after cancel must not panic.
	b.Publish(PublicTopic, Event{Type: TypeStarted})
}

func TestClose_ClosesAllSubscribers(t *testing.T) {
	b := NewBus(4)
	ch1, _ := b.Subscribe(PublicTopic)
	ch2, _ := b.Subscribe(UserTopic("u1"))
	b.Close()

	if _, ok := <-ch1; ok {
		t.Fatal("public subscriber still open after bus close")
	}
	if _, ok := <-ch2; ok {
		t.Fatal("user subscriber still open after bus close")
	}
}
