package sse

import (
	"bytes"
	"context"
	"testing"
	"time"

	"ms-raffle/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmitReachesRaffleSubscribersOnly(t *testing.T) {
	e := NewTicketEventEmitter()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a := e.Subscribe(ctx, "raffle-a")
	b := e.Subscribe(ctx, "raffle-b")
	assert.Equal(t, 1, e.ClientCount("raffle-a"))

	require.NoError(t, e.PublishStatusChange(ctx, models.TicketStatusEvent{RaffleID: "raffle-a", Numbers: []string{"0001"}, Status: models.TicketStatusReserved}))

	select {
	case evt := <-a:
		assert.Equal(t, []string{"0001"}, evt.Numbers)
	case <-time.After(time.Second):
		t.Fatal("subscriber did not receive event")
	}
	select {
	case evt := <-b:
		t.Fatalf("unexpected event for raffle-b: %+v", evt)
	default:
	}
}

func TestSubscriberRemovedOnCancel(t *testing.T) {
	e := NewTicketEventEmitter()
	ctx, cancel := context.WithCancel(context.Background())
	ch := e.Subscribe(ctx, "raffle-a")

	cancel()

	assert.Eventually(t, func() bool { return e.ClientCount("raffle-a") == 0 }, time.Second, 5*time.Millisecond)
	_, open := <-ch
	assert.False(t, open)

	// Emitting after removal must not panic on the closed channel.
	e.Emit(models.TicketStatusEvent{RaffleID: "raffle-a"})
}

func TestEmitDoesNotBlockOnSlowClient(t *testing.T) {
	e := NewTicketEventEmitter()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	e.Subscribe(ctx, "raffle-a")

	done := make(chan struct{})
	go func() {
		for i := 0; i < clientBuffer*3; i++ {
			e.Emit(models.TicketStatusEvent{RaffleID: "raffle-a"})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Emit blocked on a full client buffer")
	}
}

func TestWriteEvent(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteEvent(&buf, "ticket_status", map[string]string{"status": "reserved"}))
	assert.Equal(t, "event: ticket_status\ndata: {\"status\":\"reserved\"}\n\n", buf.String())
}
