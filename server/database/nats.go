package database

import (
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/listsync/listsync/server/config"
)

// NewNATSConnection connects to the broker used to fan out "sync.ops.*"
// wake pings: best-effort nudges telling a device's other sessions that
// new operations or a new generation landed, so they poll Pull sooner than their regular
// interval instead of waiting out the full poll_interval_ms.
func NewNATSConnection(cfg *config.NATSConfig) (*nats.Conn, error) {
	opts := []nats.Option{
		nats.MaxReconnects(cfg.MaxReconnect),
		nats.ReconnectWait(time.Duration(cfg.ReconnectWait) * time.Second),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			if err != nil {
				// Wake pings are best-effort: losing the connection briefly
				// just means devices fall back to their regular poll
				// interval until it's restored.
				fmt.Printf("NATS disconnected, wake pings paused: %v\n", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			fmt.Printf("NATS reconnected to %s, wake pings resumed\n", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(nc *nats.Conn) {
			fmt.Println("NATS connection closed, devices will rely on polling only")
		}),
	}

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	return nc, nil
}

// CloseNATSConnection closes the NATS connection
func CloseNATSConnection(nc *nats.Conn) {
	if nc != nil {
		nc.Close()
	}
}
