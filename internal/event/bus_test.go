package event

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/ravenhall-io/coresentry/pkg/plugin"
	"go.uber.org/zap"
)

func newTestBus() *Bus {
	return NewBus(zap.NewNop())
}

func TestPublishDeliversInOrder(t *testing.T) {
	bus := newTestBus()
	var got []string
	bus.Subscribe("topic.a", func(_ context.Context, e plugin.Event) {
		got = append(got, e.Payload.(string))
	})

	for _, p := range []string{"one", "two", "three"} {
		if err := bus.Publish(context.Background(), plugin.Event{Topic: "topic.a", Payload: p}); err != nil {
			t.Fatalf("Publish() error = %v", err)
		}
	}

	want := []string{"one", "two", "three"}
	if len(got) != len(want) {
		t.Fatalf("received %d events, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("event[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestPublishOnlyMatchingTopic(t *testing.T) {
	bus := newTestBus()
	calls := 0
	bus.Subscribe("topic.a", func(context.Context, plugin.Event) { calls++ })

	bus.Publish(context.Background(), plugin.Event{Topic: "topic.b"})
	if calls != 0 {
		t.Errorf("handler called %d times for foreign topic", calls)
	}

	bus.Publish(context.Background(), plugin.Event{Topic: "topic.a"})
	if calls != 1 {
		t.Errorf("handler called %d times, want 1", calls)
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	bus := newTestBus()
	calls := 0
	unsub := bus.Subscribe("topic.a", func(context.Context, plugin.Event) { calls++ })

	bus.Publish(context.Background(), plugin.Event{Topic: "topic.a"})
	unsub()
	bus.Publish(context.Background(), plugin.Event{Topic: "topic.a"})

	if calls != 1 {
		t.Errorf("handler called %d times, want 1", calls)
	}
}

func TestSubscribeAllSeesEveryTopic(t *testing.T) {
	bus := newTestBus()
	var topics []string
	bus.SubscribeAll(func(_ context.Context, e plugin.Event) {
		topics = append(topics, e.Topic)
	})

	bus.Publish(context.Background(), plugin.Event{Topic: "a"})
	bus.Publish(context.Background(), plugin.Event{Topic: "b"})

	if len(topics) != 2 || topics[0] != "a" || topics[1] != "b" {
		t.Errorf("wildcard handler saw %v, want [a b]", topics)
	}
}

func TestPanickingHandlerDoesNotBreakDelivery(t *testing.T) {
	bus := newTestBus()
	called := false
	bus.Subscribe("topic.a", func(context.Context, plugin.Event) { panic("boom") })
	bus.Subscribe("topic.a", func(context.Context, plugin.Event) { called = true })

	if err := bus.Publish(context.Background(), plugin.Event{Topic: "topic.a"}); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	if !called {
		t.Error("second handler not called after first panicked")
	}
}

func TestPublishAsync(t *testing.T) {
	bus := newTestBus()
	var wg sync.WaitGroup
	wg.Add(1)
	bus.Subscribe("topic.a", func(context.Context, plugin.Event) { wg.Done() })

	bus.PublishAsync(context.Background(), plugin.Event{Topic: "topic.a"})

	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("async handler never ran")
	}
}
