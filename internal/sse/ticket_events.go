package sse

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"ms-raffle/internal/models"
)

const clientBuffer = 16

// TicketEventEmitter fans ticket status changes out to storefront clients
// watching a raffle.
type TicketEventEmitter struct {
	// key: raffleID, value: client channels
	clients map[string][]chan models.TicketStatusEvent
	mu      sync.RWMutex
}

func NewTicketEventEmitter() *TicketEventEmitter {
	return &TicketEventEmitter{
		clients: make(map[string][]chan models.TicketStatusEvent),
	}
}

// Subscribe registers a client for the raffle. The channel is closed once
// ctx is done.
func (e *TicketEventEmitter) Subscribe(ctx context.Context, raffleID string) <-chan models.TicketStatusEvent {
	clientChan := make(chan models.TicketStatusEvent, clientBuffer)

	e.mu.Lock()
	e.clients[raffleID] = append(e.clients[raffleID], clientChan)
	e.mu.Unlock()

	go func() {
		<-ctx.Done()
		e.removeClient(raffleID, clientChan)
	}()

	return clientChan
}

// Emit broadcasts without blocking. Slow clients miss events and catch up
// on their next listing.
func (e *TicketEventEmitter) Emit(evt models.TicketStatusEvent) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	for _, clientChan := range e.clients[evt.RaffleID] {
		select {
		case clientChan <- evt:
		default:
		}
	}
}

// PublishStatusChange lets the emitter sit next to the Kafka producer as a
// status publisher.
func (e *TicketEventEmitter) PublishStatusChange(_ context.Context, evt models.TicketStatusEvent) error {
	e.Emit(evt)
	return nil
}

func (e *TicketEventEmitter) removeClient(raffleID string, clientChan chan models.TicketStatusEvent) {
	e.mu.Lock()
	defer e.mu.Unlock()

	clients := e.clients[raffleID]
	for i, ch := range clients {
		if ch == clientChan {
			e.clients[raffleID] = append(clients[:i], clients[i+1:]...)
			close(clientChan)
			break
		}
	}
	if len(e.clients[raffleID]) == 0 {
		delete(e.clients, raffleID)
	}
}

// ClientCount returns the number of clients watching a raffle.
func (e *TicketEventEmitter) ClientCount(raffleID string) int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.clients[raffleID])
}

// WriteEvent writes one server-sent event frame.
func WriteEvent(w io.Writer, name string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", name, data)
	return err
}
