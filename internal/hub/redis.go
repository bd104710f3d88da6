package hub

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"github.com/redis/go-redis/v9"
)

// ─────────────────────────────────────────────────────────────
// Redis Relay (optional cross-node fan-out over pub/sub)
// ─────────────────────────────────────────────────────────────

const relayChannelPrefix = "page:"

// relayEnvelope wraps a frame with the publishing node's ID so a node
// never re-applies its own messages.
type relayEnvelope struct {
	Node   string          `json:"node"`
	PageID string          `json:"pageId"`
	Data   json.RawMessage `json:"data"`
}

// RedisRelay fans page frames out to other server nodes through Redis
// pub/sub channels, one channel per page.
type RedisRelay struct {
	client *redis.Client
	nodeID string
	hub    *Hub
}

func NewRedisRelay(client *redis.Client, nodeID string, h *Hub) *RedisRelay {
	return &RedisRelay{client: client, nodeID: nodeID, hub: h}
}

// Publish sends a frame to every other node serving the page.
func (r *RedisRelay) Publish(ctx context.Context, pageID string, data []byte) error {
	payload, err := json.Marshal(relayEnvelope{Node: r.nodeID, PageID: pageID, Data: data})
	if err != nil {
		return fmt.Errorf("relay encode: %w", err)
	}
	if err := r.client.Publish(ctx, relayChannelPrefix+pageID, payload).Err(); err != nil {
		return fmt.Errorf("relay publish: %w", err)
	}
	return nil
}

// Run subscribes to all page channels and injects frames published by
// other nodes into the hub. Blocks until ctx is cancelled.
func (r *RedisRelay) Run(ctx context.Context) {
	sub := r.client.PSubscribe(ctx, relayChannelPrefix+"*")
	defer sub.Close()
	ch := sub.Channel()
	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var env relayEnvelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				log.Printf("relay: malformed envelope on %s: %v", msg.Channel, err)
				continue
			}
			if env.Node == r.nodeID {
				continue
			}
			pageID := env.PageID
			if pageID == "" {
				pageID = strings.TrimPrefix(msg.Channel, relayChannelPrefix)
			}
			r.hub.InjectRemote(pageID, env.Data)
		case <-ctx.Done():
			return
		}
	}
}
