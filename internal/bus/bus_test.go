package bus

import (
	"testing"
	"time"
)

func TestPubSubBus_DeliversToMultiTopicSubscriber(t *testing.T) {
	b := New(nil)
	t.Cleanup(b.Close)

	sub := b.Subscribe("a", "b")
	b.Publish("a", 1)
	b.Publish("b", "two")

	if got := receive(t, sub); got != 1 {
		t.Fatalf("expected 1, got %v", got)
	}
	if got := receive(t, sub); got != "two" {
		t.Fatalf("expected two, got %v", got)
	}
}

func TestPubSubBus_PublishAfterCloseIsNoop(t *testing.T) {
	b := New(nil)
	b.Close()
	b.Close()

	done := make(chan struct{})
	go func() {
		b.Publish("a", 1)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("publish after close blocked")
	}
}

func receive(t *testing.T, sub Subscription) any {
	t.Helper()

	select {
	case msg := <-sub:
		return msg
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for bus message")

		return nil
	}
}
