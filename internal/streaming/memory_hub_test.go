package streaming

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/flowarch/pkg/schema"
)

func receive(t *testing.T, ch <-chan StreamEvent) StreamEvent {
	t.Helper()
	select {
	case got := <-ch:
		return got
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
	return StreamEvent{}
}

func assertEmpty(t *testing.T, ch <-chan StreamEvent) {
	t.Helper()
	select {
	case got, ok := <-ch:
		if ok {
			t.Fatalf("unexpected event: %+v", got)
		}
	case <-time.After(50 * time.Millisecond):
	}
}

func TestPublishSubscribe(t *testing.T) {
	hub := NewMemoryHub()
	ctx := context.Background()

	ch, cancel, err := hub.Subscribe(ctx, EventFilter{})
	require.NoError(t, err)
	defer cancel()

	require.NoError(t, hub.Publish(ctx, StreamEvent{
		SessionID: "s1",
		EventType: schema.EventActivity,
		Payload:   map[string]any{"activity": "Reasoning..."},
	}))

	got := receive(t, ch)
	assert.Equal(t, "s1", got.SessionID)
	assert.Equal(t, schema.EventActivity, got.EventType)
	assert.Equal(t, uint64(1), got.Seq)
	assert.False(t, got.At.IsZero())
}

func TestFilterBySession(t *testing.T) {
	hub := NewMemoryHub()
	ctx := context.Background()

	ch, cancel, err := hub.Subscribe(ctx, EventFilter{SessionID: "s1"})
	require.NoError(t, err)
	defer cancel()

	require.NoError(t, hub.Publish(ctx, StreamEvent{SessionID: "s2", EventType: schema.EventMessage}))
	require.NoError(t, hub.Publish(ctx, StreamEvent{SessionID: "s1", EventType: schema.EventMessage}))

	assert.Equal(t, "s1", receive(t, ch).SessionID)
	assertEmpty(t, ch)
}

func TestFilterByEventType(t *testing.T) {
	hub := NewMemoryHub()
	ctx := context.Background()

	ch, cancel, err := hub.Subscribe(ctx, EventFilter{EventTypes: []string{schema.EventGraphChanged, schema.EventDiagnostics}})
	require.NoError(t, err)
	defer cancel()

	for _, typ := range []string{schema.EventMessage, schema.EventGraphChanged, schema.EventActivity, schema.EventDiagnostics} {
		require.NoError(t, hub.Publish(ctx, StreamEvent{SessionID: "s", EventType: typ}))
	}

	assert.Equal(t, schema.EventGraphChanged, receive(t, ch).EventType)
	assert.Equal(t, schema.EventDiagnostics, receive(t, ch).EventType)
	assertEmpty(t, ch)
}

func TestMultipleSubscribers(t *testing.T) {
	hub := NewMemoryHub()
	ctx := context.Background()

	var chans []<-chan StreamEvent
	for i := 0; i < 3; i++ {
		ch, cancel, err := hub.Subscribe(ctx, EventFilter{})
		require.NoError(t, err)
		defer cancel()
		chans = append(chans, ch)
	}
	assert.Equal(t, 3, hub.Subscribers())

	require.NoError(t, hub.Publish(ctx, StreamEvent{EventType: schema.EventProcessing, Payload: true}))
	for _, ch := range chans {
		assert.Equal(t, true, receive(t, ch).Payload)
	}
}

func TestCancelClosesChannel(t *testing.T) {
	hub := NewMemoryHub()
	ctx := context.Background()

	ch, cancel, err := hub.Subscribe(ctx, EventFilter{})
	require.NoError(t, err)

	cancel()
	cancel() // idempotent
	assert.Zero(t, hub.Subscribers())

	_, ok := <-ch
	assert.False(t, ok)
	require.NoError(t, hub.Publish(ctx, StreamEvent{EventType: schema.EventMessage}))
}

func TestBackpressure(t *testing.T) {
	hub := NewMemoryHub()
	ctx := context.Background()

	ch, cancel, err := hub.Subscribe(ctx, EventFilter{})
	require.NoError(t, err)
	defer cancel()

	for i := 0; i < defaultChannelBuffer+10; i++ {
		require.NoError(t, hub.Publish(ctx, StreamEvent{EventType: schema.EventActivity, Payload: i}))
	}
	assert.Len(t, ch, defaultChannelBuffer)
}

func TestConcurrentAccess(t *testing.T) {
	hub := NewMemoryHub()
	ctx := context.Background()
	var wg sync.WaitGroup

	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ch, cancel, err := hub.Subscribe(ctx, EventFilter{SessionID: fmt.Sprintf("s%d", i%2)})
			if err != nil {
				return
			}
			defer cancel()
			for j := 0; j < 10; j++ {
				_ = hub.Publish(ctx, StreamEvent{SessionID: fmt.Sprintf("s%d", j%2), EventType: schema.EventMessage})
			}
			for len(ch) > 0 {
				<-ch
			}
		}(i)
	}
	wg.Wait()
	assert.Zero(t, hub.Subscribers())
}

func TestCancelledContext(t *testing.T) {
	hub := NewMemoryHub()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.Error(t, hub.Publish(ctx, StreamEvent{}))
	_, _, err := hub.Subscribe(ctx, EventFilter{})
	assert.Error(t, err)
}
