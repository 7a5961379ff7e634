package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishSubscribeAssignsIDAndTimestamp(t *testing.T) {
	b := NewBroker()
	b.Start()
	defer b.Stop()

	sub := b.Subscribe()
	defer b.Unsubscribe(sub)

	b.Publish(&Event{Type: EventTabletCreated, Message: "tablet created"})

	select {
	case ev := <-sub:
		assert.NotEmpty(t, ev.ID)
		assert.False(t, ev.Timestamp.IsZero())
		assert.Equal(t, EventTabletCreated, ev.Type)
	case <-time.After(time.Second):
		t.Fatal("event not delivered")
	}
}

func TestSubscriberCount(t *testing.T) {
	b := NewBroker()
	b.Start()
	defer b.Stop()

	require.Equal(t, 0, b.SubscriberCount())
	sub := b.Subscribe()
	assert.Equal(t, 1, b.SubscriberCount())
	b.Unsubscribe(sub)
	assert.Equal(t, 0, b.SubscriberCount())
}
