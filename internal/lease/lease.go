// Package lease grants short-lived single-owner locks per (resource, operation)
// on top of Redis. Acquire fails closed: a store error means no lease.
package lease

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	r "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/SirClappington/autobook/internal/domain"
)

var ErrNotAcquired = errors.New("lease not acquired")

// The owner token must still match, otherwise the key belongs to a newer holder.
var releaseScript = r.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

var extendScript = r.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0`)

var operations = []domain.Operation{
	domain.OpSearch, domain.OpMonitor, domain.OpBook, domain.OpNotify, domain.OpTick,
}

type Store struct {
	rdb *r.Client
	log *zap.Logger
	now func() time.Time
}

func New(rdb *r.Client, log *zap.Logger) *Store {
	return &Store{rdb: rdb, log: log.Named("lease"), now: time.Now}
}

func Key(resourceID string, op domain.Operation) string {
	return "lock:" + string(op) + ":" + resourceID
}

// Acquire claims (resourceID, op) for ttl using a single SET NX PX.
// A zero ttl uses the operation default.
func (s *Store) Acquire(ctx context.Context, resourceID string, op domain.Operation, ttl time.Duration) (*domain.Lease, error) {
	if ttl <= 0 {
		ttl = op.DefaultTTL()
	}
	key := Key(resourceID, op)
	token := uuid.NewString()
	ok, err := s.rdb.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		s.log.Warn("acquire failed, treating as not acquired", zap.String("key", key), zap.Error(err))
		return nil, errors.Wrapf(ErrNotAcquired, "store error: %v", err)
	}
	if !ok {
		return nil, ErrNotAcquired
	}
	return &domain.Lease{
		ResourceID: resourceID,
		Operation:  op,
		Key:        key,
		Token:      token,
		ExpiresAt:  s.now().Add(ttl),
	}, nil
}

// Release drops the lease if this owner still holds it. Errors are logged and
// swallowed; the ttl bounds how long a stuck key can live.
func (s *Store) Release(ctx context.Context, l *domain.Lease) bool {
	if l == nil {
		return false
	}
	n, err := releaseScript.Run(ctx, s.rdb, []string{l.Key}, l.Token).Int()
	if err != nil {
		s.log.Warn("release failed, lease will expire", zap.String("key", l.Key), zap.Error(err))
		return false
	}
	return n == 1
}

// Extend pushes the expiry of an owned lease to ttl from now. It returns
// ErrNotAcquired when the lease has already expired or changed hands.
func (s *Store) Extend(ctx context.Context, l *domain.Lease, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = l.Operation.DefaultTTL()
	}
	n, err := extendScript.Run(ctx, s.rdb, []string{l.Key}, l.Token, ttl.Milliseconds()).Int()
	if err != nil {
		return errors.Wrapf(err, "extend %s", l.Key)
	}
	if n == 0 {
		return ErrNotAcquired
	}
	l.ExpiresAt = s.now().Add(ttl)
	return nil
}

// IsLocked reports whether any operation currently holds resourceID.
func (s *Store) IsLocked(ctx context.Context, resourceID string) (bool, error) {
	keys := make([]string, 0, len(operations))
	for _, op := range operations {
		keys = append(keys, Key(resourceID, op))
	}
	n, err := s.rdb.Exists(ctx, keys...).Result()
	if err != nil {
		return false, errors.Wrap(err, "lease exists")
	}
	return n > 0, nil
}
