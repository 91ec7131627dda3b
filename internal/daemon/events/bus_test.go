package events

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type ping struct{ n int }
type pong struct{}

func TestPublishReachesTypedSubscribers(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	pings, cancel := Subscribe[ping](bus, 1)
	defer cancel()
	pongs, cancelPong := Subscribe[pong](bus, 1)
	defer cancelPong()

	require.NoError(t, bus.Publish(context.Background(), ping{n: 7}))

	select {
	case got := <-pings:
		assert.Equal(t, 7, got.n)
	case <-time.After(time.Second):
		t.Fatal("ping not delivered")
	}
	select {
	case <-pongs:
		t.Fatal("pong subscriber received a ping")
	default:
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	ch, cancel := Subscribe[ping](bus, 1)
	cancel()

	_, open := <-ch
	assert.False(t, open, "channel closed on unsubscribe")
	require.NoError(t, bus.Publish(context.Background(), ping{}))
}

func TestPublishBlocksUntilCtxCanceled(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	// Unbuffered subscriber that never reads.
	_, cancelSub := Subscribe[ping](bus, 0)
	defer cancelSub()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := bus.Publish(ctx, ping{})
	assert.Error(t, err)
}

func TestClosedBusRejectsPublish(t *testing.T) {
	bus := NewBus()
	ch, _ := Subscribe[ping](bus, 1)
	bus.Close()

	assert.Error(t, bus.Publish(context.Background(), ping{}))
	_, open := <-ch
	assert.False(t, open)
}
