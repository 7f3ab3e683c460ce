package notifier

import (
	"context"
	"sync"

	"pos-ledger/internal/models"
)

// Emitter manages in-process subscriptions and event broadcasting for
// kitchen displays and dashboards connected over SSE. Clients subscribe per
// store or per check; emits for one check always happen under the emitter
// lock in publish order, so a single subscriber sees that check's events in
// order. Cross-check ordering is not guaranteed.
type Emitter struct {
	// Store channel clients map - key: storeID, value: slice of client channels
	storeClients     map[string][]chan models.EventMessage
	storeClientMutex sync.RWMutex

	// Check channel clients map - key: checkID, value: slice of client channels
	checkClients     map[string][]chan models.EventMessage
	checkClientMutex sync.RWMutex
}

func NewEmitter() *Emitter {
	return &Emitter{
		storeClients: make(map[string][]chan models.EventMessage),
		checkClients: make(map[string][]chan models.EventMessage),
	}
}

// SubscribeToStore adds a client to a store's event feed until ctx ends.
func (e *Emitter) SubscribeToStore(ctx context.Context, storeID string) chan models.EventMessage {
	clientChan := make(chan models.EventMessage, 64)

	e.storeClientMutex.Lock()
	e.storeClients[storeID] = append(e.storeClients[storeID], clientChan)
	e.storeClientMutex.Unlock()

	go func() {
		<-ctx.Done()
		e.removeStoreClient(storeID, clientChan)
	}()

	return clientChan
}

// SubscribeToCheck adds a client to a single check's event feed until ctx
// ends.
func (e *Emitter) SubscribeToCheck(ctx context.Context, checkID string) chan models.EventMessage {
	clientChan := make(chan models.EventMessage, 64)

	e.checkClientMutex.Lock()
	e.checkClients[checkID] = append(e.checkClients[checkID], clientChan)
	e.checkClientMutex.Unlock()

	go func() {
		<-ctx.Done()
		e.removeCheckClient(checkID, clientChan)
	}()

	return clientChan
}

// Emit broadcasts one committed event to store and check subscribers.
// Sends are non-blocking: a slow client with a full buffer misses the event
// rather than stalling the ledger; SSE clients are expected to resync from
// the event log on reconnect.
func (e *Emitter) Emit(event models.EventMessage) {
	e.storeClientMutex.RLock()
	storeClients := e.storeClients[event.StoreID]
	e.storeClientMutex.RUnlock()

	for _, clientChan := range storeClients {
		select {
		case clientChan <- event:
		default:
		}
	}

	e.checkClientMutex.RLock()
	checkClients := e.checkClients[event.CheckID]
	e.checkClientMutex.RUnlock()

	for _, clientChan := range checkClients {
		select {
		case clientChan <- event:
		default:
		}
	}
}

func (e *Emitter) removeStoreClient(storeID string, clientChan chan models.EventMessage) {
	e.storeClientMutex.Lock()
	defer e.storeClientMutex.Unlock()

	clients := e.storeClients[storeID]
	for i, ch := range clients {
		if ch == clientChan {
			e.storeClients[storeID] = append(clients[:i], clients[i+1:]...)
			close(clientChan)
			break
		}
	}
	if len(e.storeClients[storeID]) == 0 {
		delete(e.storeClients, storeID)
	}
}

func (e *Emitter) removeCheckClient(checkID string, clientChan chan models.EventMessage) {
	e.checkClientMutex.Lock()
	defer e.checkClientMutex.Unlock()

	clients := e.checkClients[checkID]
	for i, ch := range clients {
		if ch == clientChan {
			e.checkClients[checkID] = append(clients[:i], clients[i+1:]...)
			close(clientChan)
			break
		}
	}
	if len(e.checkClients[checkID]) == 0 {
		delete(e.checkClients, checkID)
	}
}

// StoreClientCount returns the number of clients subscribed to a store.
func (e *Emitter) StoreClientCount(storeID string) int {
	e.storeClientMutex.RLock()
	defer e.storeClientMutex.RUnlock()
	return len(e.storeClients[storeID])
}

// CheckClientCount returns the number of clients subscribed to a check.
func (e *Emitter) CheckClientCount(checkID string) int {
	e.checkClientMutex.RLock()
	defer e.checkClientMutex.RUnlock()
	return len(e.checkClients[checkID])
}
