package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/entrhq/mantle/pkg/types"
)

func TestBusPublishSubscribe(t *testing.T) {
	b := NewBus()
	defer b.Close()

	ch, unsubscribe := b.Subscribe()
	defer unsubscribe()

	b.Publish(types.NewProfileEvent(types.EventProfileCreated, "p1"))

	select {
	case e := <-ch:
		require.NotNil(t, e)
		assert.Equal(t, types.EventProfileCreated, e.Type)
		assert.Equal(t, "p1", e.ProfileID)
	case <-time.After(time.Second):
		t.Fatal("event not delivered")
	}
}

func TestBusFanOut(t *testing.T) {
	b := NewBus()
	defer b.Close()

	ch1, u1 := b.Subscribe()
	defer u1()
	ch2, u2 := b.Subscribe()
	defer u2()

	b.Publish(types.NewStatusEvent("p1", types.StatusRunning))

	for _, ch := range []<-chan *types.Event{ch1, ch2} {
		select {
		case e := <-ch:
			assert.Equal(t, types.StatusRunning, e.Status)
		case <-time.After(time.Second):
			t.Fatal("event not delivered to all subscribers")
		}
	}
}

func TestBusUnsubscribe(t *testing.T) {
	b := NewBus()
	defer b.Close()

	ch, unsubscribe := b.Subscribe()
	unsubscribe()

	_, open := <-ch
	assert.False(t, open, "channel should be closed after unsubscribe")

	// Publishing after unsubscribe must not panic.
	b.Publish(types.NewProfileEvent(types.EventProfileDeleted, "p1"))
}

func TestBusSlowSubscriberDoesNotBlock(t *testing.T) {
	b := NewBus()
	defer b.Close()

	_, unsubscribe := b.Subscribe() // never drained
	defer unsubscribe()

	done := make(chan struct{})
	go func() {
		for i := 0; i < DefaultBuffer*2; i++ {
			b.Publish(types.NewProfileEvent(types.EventProfileUpdated, "p1"))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on a slow subscriber")
	}
}

func TestBusClose(t *testing.T) {
	b := NewBus()
	ch, _ := b.Subscribe()

	b.Close()
	b.Close() // idempotent

	_, open := <-ch
	assert.False(t, open)

	// Subscribing after close yields a closed channel.
	ch2, _ := b.Subscribe()
	_, open = <-ch2
	assert.False(t, open)

	b.Publish(types.NewProfileEvent(types.EventProfileCreated, "p1"))
}
