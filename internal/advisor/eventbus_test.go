package advisor

import (
	"encoding/json"
	"testing"
	"time"
)

func TestEventBusPublishSubscribe(t *testing.T) {
	eb := NewEventBus()
	ch, done := eb.Subscribe()
	defer eb.Unsubscribe(done)

	eb.Publish(Event{Type: EventChat, Role: "user", Content: "oi"})

	select {
	case e := <-ch:
		if e.Type != EventChat || e.Content != "oi" {
			t.Errorf("got %+v", e)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestEventBusRecent(t *testing.T) {
	eb := NewEventBus()
	for i := 0; i < 10; i++ {
		eb.Publish(Event{Type: EventStatus, Message: "m"})
	}

	if got := len(eb.Recent(5)); got != 5 {
		t.Errorf("Recent(5) returned %d events", got)
	}
	if got := len(eb.Recent(100)); got != 10 {
		t.Errorf("Recent(100) returned %d events, want all 10", got)
	}
}

func TestEventBusUnsubscribe(t *testing.T) {
	eb := NewEventBus()
	_, done := eb.Subscribe()
	if eb.SubscriberCount() != 1 {
		t.Fatalf("SubscriberCount = %d", eb.SubscriberCount())
	}
	eb.Unsubscribe(done)
	if eb.SubscriberCount() != 0 {
		t.Errorf("SubscriberCount = %d after unsubscribe", eb.SubscriberCount())
	}
}

func TestMarshalEvent(t *testing.T) {
	b := Event{Type: EventUsage, Provider: "deepseek", Tokens: 80}.MarshalEvent()

	var decoded map[string]any
	if err := json.Unmarshal(b, &decoded); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if decoded["type"] != "usage" || decoded["provider"] != "deepseek" {
		t.Errorf("decoded = %v", decoded)
	}
	if decoded["ts"] == "" {
		t.Error("timestamp not stamped")
	}
}
