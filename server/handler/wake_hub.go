// Package handler implements the reference sync service's HTTP and
// websocket surface: bootstrap/push/pull/reset (§4.9/§6/§4.11) and the
// best-effort cross-replica wake-up ping (§4.12).
package handler

import (
	"context"
	"encoding/json"
	"log"
	"sync"

	"github.com/nats-io/nats.go"

	"github.com/listsync/listsync/internal/wire"
)

// WakeHub holds one send channel per connected device and forwards NATS
// wake pings (published by Push on a successful write) to every device
// belonging to that ping's user. It never carries operation payload —
// only "new ops landed, poll now" — so a dropped or duplicated ping is
// harmless; the client's sync engine still converges by polling alone.
type WakeHub struct {
	mu      sync.RWMutex
	clients map[string]map[chan wire.WakePing]struct{}

	sub *nats.Subscription
}

// NewWakeHub subscribes to sync.ops.* on nc and starts fanning pings out
// to registered clients.
func NewWakeHub(nc *nats.Conn) (*WakeHub, error) {
	h := &WakeHub{clients: make(map[string]map[chan wire.WakePing]struct{})}

	sub, err := nc.Subscribe("sync.ops.*", func(msg *nats.Msg) {
		var ping wire.WakePing
		if err := json.Unmarshal(msg.Data, &ping); err != nil {
			log.Printf("wakehub: bad wake ping: %v", err)
			return
		}
		h.deliver(ping)
	})
	if err != nil {
		return nil, err
	}
	h.sub = sub
	return h, nil
}

// Register returns a channel that receives wake pings for userID until
// ctx is cancelled, at which point the channel is closed and removed.
func (h *WakeHub) Register(ctx context.Context, userID string) <-chan wire.WakePing {
	ch := make(chan wire.WakePing, 4)

	h.mu.Lock()
	if h.clients[userID] == nil {
		h.clients[userID] = make(map[chan wire.WakePing]struct{})
	}
	h.clients[userID][ch] = struct{}{}
	h.mu.Unlock()

	go func() {
		<-ctx.Done()
		h.mu.Lock()
		delete(h.clients[userID], ch)
		if len(h.clients[userID]) == 0 {
			delete(h.clients, userID)
		}
		h.mu.Unlock()
		close(ch)
	}()

	return ch
}

func (h *WakeHub) deliver(ping wire.WakePing) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for ch := range h.clients[ping.UserID] {
		select {
		case ch <- ping:
		default:
			// Slow consumer: dropping is fine, §4.12 is best-effort.
		}
	}
}

// Close unsubscribes from NATS.
func (h *WakeHub) Close() error {
	if h.sub != nil {
		return h.sub.Unsubscribe()
	}
	return nil
}

// PublishWake publishes a wake ping for userID. Errors are logged and
// swallowed by the caller (§7: the NATS publish is best-effort and never
// blocks the push response).
func PublishWake(nc *nats.Conn, ping wire.WakePing) error {
	data, err := json.Marshal(ping)
	if err != nil {
		return err
	}
	return nc.Publish("sync.ops."+ping.UserID, data)
}
