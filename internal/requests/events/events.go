// Package events fans request lifecycle changes out over Redis pub/sub.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/bloodlink/bloodlink-backend/internal/requests/domain"
)

const channelPrefix = "bd:requests:events:" // bd:requests:events:{request_id}

type Type string

const (
	TypeCreated    Type = "created"
	TypeUpdated    Type = "updated"
	TypeTransition Type = "transition"
	TypeDeleted    Type = "deleted"
)

// Event describes one successful mutation of a request.
type Event struct {
	Type      Type            `json:"type"`
	RequestID string          `json:"requestId"`
	Status    domain.Status   `json:"donationStatus,omitempty"`
	Actor     string          `json:"actor"`
	At        time.Time       `json:"at"`
	Request   *domain.Request `json:"request,omitempty"`
}

// Bus publishes and subscribes to per-request channels.
type Bus struct {
	client *redis.Client
	log    *zap.Logger
}

func NewBus(client *redis.Client, log *zap.Logger) *Bus {
	return &Bus{client: client, log: log}
}

func Channel(requestID string) string {
	return fmt.Sprintf("%s%s", channelPrefix, requestID)
}

// Publish is best effort: the mutation already happened, so failures are
// logged and swallowed.
func (b *Bus) Publish(ctx context.Context, ev Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		b.log.Error("marshal request event", zap.Error(err))
		return
	}
	if err := b.client.Publish(ctx, Channel(ev.RequestID), data).Err(); err != nil {
		b.log.Warn("publish request event failed",
			zap.String("request_id", ev.RequestID), zap.String("type", string(ev.Type)), zap.Error(err))
	}
}

// Subscription is a live feed of one request's events.
type Subscription struct {
	ps     *redis.PubSub
	events chan Event
}

// Subscribe returns once the subscription is confirmed by Redis, so no event
// published afterwards is missed.
func (b *Bus) Subscribe(ctx context.Context, requestID string) (*Subscription, error) {
	ps := b.client.Subscribe(ctx, Channel(requestID))
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("subscribe: %w", err)
	}

	s := &Subscription{ps: ps, events: make(chan Event, 16)}
	go func() {
		defer close(s.events)
		for msg := range ps.Channel() {
			var ev Event
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				b.log.Warn("drop malformed request event", zap.Error(err))
				continue
			}
			select {
			case s.events <- ev:
			default:
				b.log.Warn("request event subscriber is slow, dropping event", zap.String("request_id", ev.RequestID))
			}
		}
	}()
	return s, nil
}

func (s *Subscription) Events() <-chan Event { return s.events }

func (s *Subscription) Close() error { return s.ps.Close() }
