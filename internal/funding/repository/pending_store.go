package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/bloodlink/bloodlink-backend/internal/errs"
	"github.com/bloodlink/bloodlink-backend/internal/funding/domain"
)

const (
	checkoutKeyPrefix = "bd:checkout:"         // bd:checkout:{session_id} -> PendingCheckout JSON
	pendingSetKey     = "bd:checkouts:pending" // sorted set of session ids scored by creation time
	PendingTTL        = 24 * time.Hour
)

// PendingStore tracks started checkout sessions in Redis until they are
// confirmed or abandoned.
type PendingStore struct {
	client *redis.Client
}

func NewPendingStore(client *redis.Client) *PendingStore {
	return &PendingStore{client: client}
}

func (s *PendingStore) Save(ctx context.Context, p *domain.PendingCheckout) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal pending checkout: %w", err)
	}

	pipe := s.client.Pipeline()
	pipe.Set(ctx, s.key(p.SessionID), data, PendingTTL)
	pipe.ZAdd(ctx, pendingSetKey, redis.Z{Score: float64(p.CreatedAt.Unix()), Member: p.SessionID})
	pipe.Expire(ctx, pendingSetKey, PendingTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("save pending checkout: %w", err)
	}
	return nil
}

func (s *PendingStore) Get(ctx context.Context, sessionID string) (*domain.PendingCheckout, error) {
	data, err := s.client.Get(ctx, s.key(sessionID)).Result()
	if err == redis.Nil {
		return nil, errs.NotFound("checkout session %s not found", sessionID)
	}
	if err != nil {
		return nil, fmt.Errorf("get pending checkout: %w", err)
	}
	var p domain.PendingCheckout
	if err := json.Unmarshal([]byte(data), &p); err != nil {
		return nil, fmt.Errorf("unmarshal pending checkout: %w", err)
	}
	return &p, nil
}

func (s *PendingStore) Remove(ctx context.Context, sessionID string) error {
	pipe := s.client.Pipeline()
	pipe.Del(ctx, s.key(sessionID))
	pipe.ZRem(ctx, pendingSetKey, sessionID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("remove pending checkout: %w", err)
	}
	return nil
}

// List returns pending sessions oldest first. Ids whose data expired are
// pruned from the index.
func (s *PendingStore) List(ctx context.Context) ([]domain.PendingCheckout, error) {
	ids, err := s.client.ZRange(ctx, pendingSetKey, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list pending checkouts: %w", err)
	}

	out := make([]domain.PendingCheckout, 0, len(ids))
	var stale []any
	for _, id := range ids {
		p, err := s.Get(ctx, id)
		if err != nil {
			if errs.KindOf(err) == errs.KindNotFound {
				stale = append(stale, id)
				continue
			}
			return nil, err
		}
		out = append(out, *p)
	}
	if len(stale) > 0 {
		s.client.ZRem(ctx, pendingSetKey, stale...)
	}
	return out, nil
}

func (s *PendingStore) key(sessionID string) string {
	return fmt.Sprintf("%s%s", checkoutKeyPrefix, sessionID)
}
