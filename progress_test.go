package main

import (
	"fmt"
	"testing"
)

func TestProgressBrokerPublishAndDrain(t *testing.T) {
	broker := NewProgressBroker()

	broker.Publish("s1", ProgressEvent{Message: "first", Progress: 10, Type: "info"})
	broker.Publish("s1", ProgressEvent{Message: "second", Progress: 50, Type: "warning"})

	ch := broker.Channel("s1")
	ev := <-ch
	if ev.Message != "first" || ev.Progress != 10 {
		t.Errorf("first event = %+v", ev)
	}
	if ev.Timestamp == "" {
		t.Error("timestamp not stamped on publish")
	}
	ev = <-ch
	if ev.Message != "second" || ev.Type != "warning" {
		t.Errorf("second event = %+v", ev)
	}
}

func TestProgressBrokerSessionsAreIndependent(t *testing.T) {
	broker := NewProgressBroker()

	broker.Publish("a", ProgressEvent{Message: "for-a"})
	broker.Publish("b", ProgressEvent{Message: "for-b"})

	if ev := <-broker.Channel("b"); ev.Message != "for-b" {
		t.Errorf("session b got %q", ev.Message)
	}
	if ev := <-broker.Channel("a"); ev.Message != "for-a" {
		t.Errorf("session a got %q", ev.Message)
	}
}

func TestProgressBrokerDropsWhenFull(t *testing.T) {
	broker := NewProgressBroker()

	// Fill the buffer past capacity; Publish must never block.
	for i := 0; i < 300; i++ {
		broker.Publish("s1", ProgressEvent{Message: fmt.Sprintf("ev-%d", i)})
	}

	ch := broker.Channel("s1")
	count := 0
	for {
		select {
		case <-ch:
			count++
		default:
			if count != 256 {
				t.Errorf("drained %d events, want buffer capacity 256", count)
			}
			return
		}
	}
}

func TestProgressBrokerClose(t *testing.T) {
	broker := NewProgressBroker()
	broker.Publish("s1", ProgressEvent{Message: "pending"})
	broker.Close("s1")

	// A fresh channel after Close carries none of the old events.
	select {
	case ev := <-broker.Channel("s1"):
		t.Errorf("got stale event after Close: %+v", ev)
	default:
	}
}

func TestSessionSinkPublishes(t *testing.T) {
	broker := NewProgressBroker()
	sink := sessionSink{broker: broker, sessionID: "job-1"}

	sink.Publish("working", 42, "info")

	ev := <-broker.Channel("job-1")
	if ev.Message != "working" || ev.Progress != 42 || ev.Type != "info" {
		t.Errorf("event = %+v", ev)
	}
}
