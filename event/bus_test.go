package event

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scriptorium-dev/palimpsest/entity"
)

func TestBus_PublishFansOut(t *testing.T) {
	bus := NewBus()
	first := bus.Subscribe()
	second := bus.Subscribe()

	e := entity.New("E1")
	require.NoError(t, bus.Publish(context.Background(), Event{Identifier: "E1", Entity: e}))

	for _, ch := range []<-chan Event{first, second} {
		select {
		case ev := <-ch:
			assert.Equal(t, "E1", ev.Identifier)
			assert.Same(t, e, ev.Entity)
		default:
			t.Fatal("expected a delivered event")
		}
	}
}

func TestBus_SlowSubscriberDoesNotBlock(t *testing.T) {
	bus := NewBus()
	_ = bus.Subscribe()

	// Publish more events than the subscriber buffer holds; Publish
	// must not block.
	for i := 0; i < 100; i++ {
		require.NoError(t, bus.Publish(context.Background(), Event{Identifier: "E1"}))
	}
}

func TestBus_NoSubscribers(t *testing.T) {
	bus := NewBus()
	require.NoError(t, bus.Publish(context.Background(), Event{Identifier: "E1"}))
}
