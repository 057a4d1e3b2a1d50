package ws

import (
	"context"
	"time"

	"github.com/awattacker/observer/internal/protocol"
)

// DefaultKeepaliveInterval is the period between ping sweeps.
const DefaultKeepaliveInterval = 30 * time.Second

// Keepalive returns a task that pings every client of hub, first immediately
// and then once per interval. Clients that cannot be reached are evicted by
// the broadcast. Missing pongs never evict.
func Keepalive(hub *Hub, interval time.Duration) Task {
	if interval <= 0 {
		interval = DefaultKeepaliveInterval
	}
	ping := protocol.NewPing()

	return func(ctx context.Context) {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for ctx.Err() == nil {
			hub.Broadcast(ping)

			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}
}
