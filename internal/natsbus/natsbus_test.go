package natsbus

import (
	"testing"
	"time"

	"github.com/mtzanidakis/crewbridge/internal/config"
	"github.com/nats-io/nats.go"
)

func TestBusStartStop(t *testing.T) {
	dir := t.TempDir()
	bus, err := New(config.NATSConfig{
		Port:    -1, // Random port
		DataDir: dir,
	})
	if err != nil {
		t.Fatalf("failed to create bus: %v", err)
	}
	defer bus.Close()

	url := bus.ClientURL()
	if url == "" {
		t.Fatal("expected non-empty client URL")
	}
}

func TestPubSub(t *testing.T) {
	dir := t.TempDir()
	bus, err := New(config.NATSConfig{
		Port:    -1,
		DataDir: dir,
	})
	if err != nil {
		t.Fatalf("failed to create bus: %v", err)
	}
	defer bus.Close()

	client, err := NewClient(bus)
	if err != nil {
		t.Fatalf("failed to create client: %v", err)
	}
	defer client.Close()

	received := make(chan string, 1)
	_, err = client.Subscribe("test.topic", func(msg *nats.Msg) {
		received <- string(msg.Data)
	})
	if err != nil {
		t.Fatalf("subscribe error: %v", err)
	}

	if err := client.Publish("test.topic", []byte("hello")); err != nil {
		t.Fatalf("publish error: %v", err)
	}
	client.Flush()

	select {
	case data := <-received:
		if data != "hello" {
			t.Errorf("expected 'hello', got '%s'", data)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for message")
	}
}

func TestPublishJSON(t *testing.T) {
	dir := t.TempDir()
	bus, err := New(config.NATSConfig{
		Port:    -1,
		DataDir: dir,
	})
	if err != nil {
		t.Fatalf("failed to create bus: %v", err)
	}
	defer bus.Close()

	client, err := NewClient(bus)
	if err != nil {
		t.Fatalf("failed to create client: %v", err)
	}
	defer client.Close()

	received := make(chan string, 1)
	_, err = client.Subscribe("test.json", func(msg *nats.Msg) {
		received <- string(msg.Data)
	})
	if err != nil {
		t.Fatalf("subscribe error: %v", err)
	}

	payload := map[string]string{"key": "value"}
	if err := client.PublishJSON("test.json", payload); err != nil {
		t.Fatalf("publish json error: %v", err)
	}
	client.Flush()

	select {
	case data := <-received:
		if data != `{"key":"value"}` {
			t.Errorf("expected json, got '%s'", data)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for message")
	}
}

func TestSubscribeEvents(t *testing.T) {
	bus, err := New(config.NATSConfig{
		Port:    -1,
		DataDir: t.TempDir(),
	})
	if err != nil {
		t.Fatalf("failed to create bus: %v", err)
	}
	defer bus.Close()

	client, err := NewClient(bus)
	if err != nil {
		t.Fatalf("failed to create client: %v", err)
	}
	defer client.Close()

	received := make(chan Event, 1)
	if _, err := client.SubscribeEvents(TopicEventsAll, func(ev Event) {
		received <- ev
	}); err != nil {
		t.Fatalf("subscribe error: %v", err)
	}

	_ = client.Publish(TopicEventsHealth, []byte("not json"))
	ev := NewEvent(EventWorkflowCompleted, map[string]any{"steps": 2})
	if err := client.PublishJSON(TopicEventsWorkflow("onboarding"), ev); err != nil {
		t.Fatalf("publish error: %v", err)
	}
	client.Flush()

	select {
	case got := <-received:
		if got.Type != EventWorkflowCompleted {
			t.Errorf("expected type %s, got %s", EventWorkflowCompleted, got.Type)
		}
		if got.Topic != "events.workflow.onboarding" {
			t.Errorf("expected topic from subject, got %s", got.Topic)
		}
		if got.Data["steps"] != float64(2) {
			t.Errorf("expected steps 2, got %v", got.Data["steps"])
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for event")
	}
}

func TestTopicNames(t *testing.T) {
	if got := TopicEventsAgent("legal_consultation"); got != "events.agent.legal_consultation" {
		t.Errorf("expected events.agent.legal_consultation, got %s", got)
	}
	if got := TopicEventsWorkflow("client onboarding.v2"); got != "events.workflow.client_onboarding_v2" {
		t.Errorf("expected sanitised workflow topic, got %s", got)
	}
	if got := TopicEventsSchedule(""); got != "events.schedule._" {
		t.Errorf("expected placeholder token, got %s", got)
	}
}
