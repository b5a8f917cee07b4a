package messaging

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/memoro/internal/interfaces"
)

const testTopic = interfaces.MessageType("test:topic")

func newTestBus() *Bus {
	return NewBus(arbor.NewLogger())
}

func TestBus_SendToFirstSubscriber(t *testing.T) {
	bus := newTestBus()
	ctx := context.Background()

	first := 0
	second := 0
	_, err := bus.Subscribe(testTopic, func(ctx context.Context, msg interfaces.Message) (*interfaces.Response, error) {
		first++
		return &interfaces.Response{Success: true, Data: "first"}, nil
	})
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	_, err = bus.Subscribe(testTopic, func(ctx context.Context, msg interfaces.Message) (*interfaces.Response, error) {
		second++
		return &interfaces.Response{Success: true, Data: "second"}, nil
	})
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	resp := bus.Send(ctx, interfaces.Message{Type: testTopic})

	if !resp.Success {
		t.Errorf("Send failed: %s", resp.Error)
	}
	if resp.Data != "first" {
		t.Errorf("Expected first subscriber's response, got %v", resp.Data)
	}
	if first != 1 || second != 0 {
		t.Errorf("Expected delivery only to first subscriber, got first=%d second=%d", first, second)
	}
}

func TestBus_SendFillsIDAndTimestamp(t *testing.T) {
	bus := newTestBus()

	var received interfaces.Message
	bus.Subscribe(testTopic, func(ctx context.Context, msg interfaces.Message) (*interfaces.Response, error) {
		received = msg
		return nil, nil
	})

	bus.Send(context.Background(), interfaces.Message{Type: testTopic})

	if received.ID == "" {
		t.Error("Message ID not assigned")
	}
	if received.Timestamp.IsZero() {
		t.Error("Message timestamp not assigned")
	}
}

func TestBus_SendNoSubscribersIsNoop(t *testing.T) {
	bus := newTestBus()

	resp := bus.Send(context.Background(), interfaces.Message{Type: "nobody:listens"})

	if !resp.Success {
		t.Error("Noop send should succeed")
	}
	if !resp.Noop {
		t.Error("Expected noop response when no subscribers")
	}
}

func TestBus_NilResponseIsSuccess(t *testing.T) {
	bus := newTestBus()

	bus.Subscribe(testTopic, func(ctx context.Context, msg interfaces.Message) (*interfaces.Response, error) {
		return nil, nil
	})

	resp := bus.Send(context.Background(), interfaces.Message{Type: testTopic})
	if !resp.Success {
		t.Errorf("Nil response should be treated as success, got error %s", resp.Error)
	}
}

func TestBus_HandlerErrorReturned(t *testing.T) {
	bus := newTestBus()

	bus.Subscribe(testTopic, func(ctx context.Context, msg interfaces.Message) (*interfaces.Response, error) {
		return nil, errors.New("handler exploded")
	})

	resp := bus.Send(context.Background(), interfaces.Message{Type: testTopic})

	if resp.Success {
		t.Error("Expected failure response")
	}
	if !strings.Contains(resp.Error, "handler exploded") {
		t.Errorf("Expected handler error in response, got %s", resp.Error)
	}
}

func TestBus_HandlerPanicCaught(t *testing.T) {
	bus := newTestBus()

	bus.Subscribe(testTopic, func(ctx context.Context, msg interfaces.Message) (*interfaces.Response, error) {
		panic("boom")
	})

	resp := bus.Send(context.Background(), interfaces.Message{Type: testTopic})

	if resp.Success {
		t.Error("Expected failure response from panicking handler")
	}
	if !strings.Contains(resp.Error, "boom") {
		t.Errorf("Expected panic value in error, got %s", resp.Error)
	}
}

func TestBus_BroadcastDeliversToAll(t *testing.T) {
	bus := newTestBus()

	var count int32
	for i := 0; i < 5; i++ {
		bus.Subscribe(testTopic, func(ctx context.Context, msg interfaces.Message) (*interfaces.Response, error) {
			atomic.AddInt32(&count, 1)
			return nil, nil
		})
	}

	resp := bus.Send(context.Background(), interfaces.Message{Type: testTopic, Broadcast: true})

	if !resp.Success {
		t.Errorf("Broadcast failed: %s", resp.Error)
	}
	if atomic.LoadInt32(&count) != 5 {
		t.Errorf("Expected 5 deliveries, got %d", count)
	}
}

func TestBus_BroadcastAwaitsAllHandlers(t *testing.T) {
	bus := newTestBus()

	var done int32
	for i := 0; i < 3; i++ {
		bus.Subscribe(testTopic, func(ctx context.Context, msg interfaces.Message) (*interfaces.Response, error) {
			time.Sleep(20 * time.Millisecond)
			atomic.AddInt32(&done, 1)
			return nil, nil
		})
	}

	bus.Send(context.Background(), interfaces.Message{Type: testTopic, Broadcast: true})

	// Send must not return before every handler resolved
	if atomic.LoadInt32(&done) != 3 {
		t.Errorf("Broadcast returned before all handlers completed: %d of 3", done)
	}
}

func TestBus_BroadcastAggregatesErrors(t *testing.T) {
	bus := newTestBus()

	bus.Subscribe(testTopic, func(ctx context.Context, msg interfaces.Message) (*interfaces.Response, error) {
		return nil, nil
	})
	bus.Subscribe(testTopic, func(ctx context.Context, msg interfaces.Message) (*interfaces.Response, error) {
		return nil, errors.New("subscriber two failed")
	})
	bus.Subscribe(testTopic, func(ctx context.Context, msg interfaces.Message) (*interfaces.Response, error) {
		return nil, errors.New("subscriber three failed")
	})

	resp := bus.Send(context.Background(), interfaces.Message{Type: testTopic, Broadcast: true})

	if resp.Success {
		t.Error("Expected aggregated failure")
	}
	if !strings.Contains(resp.Error, "2 of 3 handlers failed") {
		t.Errorf("Expected failure count in error, got %s", resp.Error)
	}
}

func TestBus_PerSubscriberDeliverySerialized(t *testing.T) {
	bus := newTestBus()

	var inFlight int32
	var overlapped int32
	bus.Subscribe(testTopic, func(ctx context.Context, msg interfaces.Message) (*interfaces.Response, error) {
		if atomic.AddInt32(&inFlight, 1) > 1 {
			atomic.StoreInt32(&overlapped, 1)
		}
		time.Sleep(5 * time.Millisecond)
		atomic.AddInt32(&inFlight, -1)
		return nil, nil
	})

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			bus.Send(context.Background(), interfaces.Message{Type: testTopic})
		}()
	}
	wg.Wait()

	if atomic.LoadInt32(&overlapped) == 1 {
		t.Error("Deliveries to a single subscriber overlapped")
	}
}

func TestBus_UnsubscribeIdempotent(t *testing.T) {
	bus := newTestBus()

	calls := 0
	unsub, err := bus.Subscribe(testTopic, func(ctx context.Context, msg interfaces.Message) (*interfaces.Response, error) {
		calls++
		return nil, nil
	})
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	unsub()
	unsub() // second call is a no-op

	resp := bus.Send(context.Background(), interfaces.Message{Type: testTopic})
	if !resp.Noop {
		t.Error("Expected noop after unsubscribe")
	}
	if calls != 0 {
		t.Errorf("Handler called after unsubscribe: %d", calls)
	}
}

func TestBus_UnsubscribeRemovesOnlyOwnSubscription(t *testing.T) {
	bus := newTestBus()

	handler := func(ctx context.Context, msg interfaces.Message) (*interfaces.Response, error) {
		return &interfaces.Response{Success: true}, nil
	}

	unsubA, _ := bus.Subscribe(testTopic, handler)
	bus.Subscribe(testTopic, handler)

	unsubA()

	resp := bus.Send(context.Background(), interfaces.Message{Type: testTopic})
	if resp.Noop {
		t.Error("Second subscription should survive first unsubscribe")
	}
}

func TestBus_SubscribeNilHandler(t *testing.T) {
	bus := newTestBus()

	if _, err := bus.Subscribe(testTopic, nil); err == nil {
		t.Error("Expected error subscribing nil handler")
	}
}

func TestBus_Close(t *testing.T) {
	bus := newTestBus()

	bus.Subscribe(testTopic, func(ctx context.Context, msg interfaces.Message) (*interfaces.Response, error) {
		return nil, nil
	})

	if err := bus.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	resp := bus.Send(context.Background(), interfaces.Message{Type: testTopic})
	if !resp.Noop {
		t.Error("Expected noop after close")
	}

	if _, err := bus.Subscribe(testTopic, func(ctx context.Context, msg interfaces.Message) (*interfaces.Response, error) {
		return nil, nil
	}); err == nil {
		t.Error("Expected error subscribing on closed bus")
	}
}
