package access

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/bloodlink/bloodlink-backend/internal/donors/domain"
	"github.com/bloodlink/bloodlink-backend/internal/errs"
)

const (
	roleKeyPrefix = "bd:role:"     // bd:role:{email} -> "{role}|{status}|{registered}"
	roleGenPrefix = "bd:role:gen:" // bd:role:gen:{email} -> invalidation counter
	roleGenTTL    = 24 * time.Hour
)

var errStaleResolution = errors.New("role changed during lookup")

// DonorLookup is the read side of the donor directory.
type DonorLookup interface {
	GetByEmail(ctx context.Context, email string) (*domain.Donor, error)
}

// Resolver maps an identity's email to its role and status, caching results in
// Redis. A missing donor record resolves to donor/active.
type Resolver struct {
	donors DonorLookup
	cache  *redis.Client
	ttl    time.Duration
	log    *zap.Logger
}

// NewResolver builds a resolver; a nil cache disables caching.
func NewResolver(donors DonorLookup, cache *redis.Client, ttl time.Duration, log *zap.Logger) *Resolver {
	return &Resolver{donors: donors, cache: cache, ttl: ttl, log: log}
}

type Resolution struct {
	Role       domain.Role
	Status     domain.Status
	Registered bool
}

func (r *Resolver) Resolve(ctx context.Context, email string) (Resolution, error) {
	if res, ok := r.cached(ctx, email); ok {
		return res, nil
	}

	gen := r.generation(ctx, email)
	res := Resolution{Role: domain.RoleDonor, Status: domain.StatusActive}
	d, err := r.donors.GetByEmail(ctx, email)
	switch {
	case err == nil:
		res = Resolution{Role: d.Role, Status: d.Status, Registered: true}
	case errors.Is(err, errs.ErrNotFound):
	default:
		return Resolution{}, err
	}

	r.store(ctx, email, gen, res)
	return res, nil
}

// Invalidate drops the cached resolution after a role or status change and
// bumps the generation so an in-flight Resolve does not re-cache stale data.
func (r *Resolver) Invalidate(ctx context.Context, email string) {
	if r.cache == nil {
		return
	}
	_, err := r.cache.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Incr(ctx, roleGenPrefix+email)
		p.Expire(ctx, roleGenPrefix+email, roleGenTTL)
		p.Del(ctx, roleKeyPrefix+email)
		return nil
	})
	if err != nil {
		r.log.Warn("role cache invalidate failed", zap.String("email", email), zap.Error(err))
	}
}

func (r *Resolver) generation(ctx context.Context, email string) string {
	if r.cache == nil {
		return ""
	}
	v, err := r.cache.Get(ctx, roleGenPrefix+email).Result()
	if err != nil && err != redis.Nil {
		r.log.Warn("role generation read failed", zap.String("email", email), zap.Error(err))
	}
	return v
}

// store caches res only if no Invalidate ran since gen was read.
func (r *Resolver) store(ctx context.Context, email, gen string, res Resolution) {
	if r.cache == nil {
		return
	}
	genKey := roleGenPrefix + email
	err := r.cache.Watch(ctx, func(tx *redis.Tx) error {
		cur, err := tx.Get(ctx, genKey).Result()
		if err != nil && err != redis.Nil {
			return err
		}
		if cur != gen {
			return errStaleResolution
		}
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.Set(ctx, roleKeyPrefix+email, encode(res), r.ttl)
			return nil
		})
		return err
	}, genKey)
	switch {
	case err == nil, errors.Is(err, errStaleResolution), errors.Is(err, redis.TxFailedErr):
	default:
		r.log.Warn("role cache write failed", zap.String("email", email), zap.Error(err))
	}
}

func (r *Resolver) cached(ctx context.Context, email string) (Resolution, bool) {
	if r.cache == nil {
		return Resolution{}, false
	}
	v, err := r.cache.Get(ctx, roleKeyPrefix+email).Result()
	if err != nil {
		if err != redis.Nil {
			r.log.Warn("role cache read failed", zap.String("email", email), zap.Error(err))
		}
		return Resolution{}, false
	}
	return decode(v)
}

func encode(res Resolution) string {
	reg := "0"
	if res.Registered {
		reg = "1"
	}
	return string(res.Role) + "|" + string(res.Status) + "|" + reg
}

func decode(v string) (Resolution, bool) {
	parts := strings.Split(v, "|")
	if len(parts) != 3 {
		return Resolution{}, false
	}
	res := Resolution{Role: domain.Role(parts[0]), Status: domain.Status(parts[1]), Registered: parts[2] == "1"}
	if !res.Role.Valid() || !res.Status.Valid() {
		return Resolution{}, false
	}
	return res, true
}
