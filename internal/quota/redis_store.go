package quota

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/tbourn/go-pattern-backend/internal/domain"
)

// ErrContention is returned when an optimistic Redis transaction keeps losing
// to concurrent writers.
var ErrContention = errors.New("quota: too much contention on user window")

// RedisStore keeps one JSON-encoded window per user key and mutates it with
// WATCH/MULTI, so several processes can share one quota backend.
type RedisStore struct {
	Client     redis.UniversalClient
	Prefix     string
	MaxRetries int
}

// NewRedisStore returns a RedisStore with the "quota:" key prefix.
func NewRedisStore(client redis.UniversalClient) *RedisStore {
	return &RedisStore{Client: client, Prefix: "quota:", MaxRetries: 16}
}

func (s *RedisStore) key(userID string) string { return s.Prefix + userID }

// Get implements Store.
func (s *RedisStore) Get(ctx context.Context, userID string) (domain.QuotaWindow, bool, error) {
	return load(ctx, s.Client, s.key(userID), userID)
}

// Update implements Store.
func (s *RedisStore) Update(ctx context.Context, userID string, fn UpdateFunc) (domain.QuotaWindow, error) {
	key := s.key(userID)
	retries := s.MaxRetries
	if retries <= 0 {
		retries = 16
	}

	for i := 0; i < retries; i++ {
		var out domain.QuotaWindow
		err := s.Client.Watch(ctx, func(tx *redis.Tx) error {
			w, found, err := load(ctx, tx, key, userID)
			if err != nil {
				return err
			}
			if err := fn(&w, found); err != nil {
				return err
			}
			w.UpdatedAt = time.Now().UTC()
			data, err := json.Marshal(w)
			if err != nil {
				return err
			}
			_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
				p.Set(ctx, key, data, expiry(w))
				return nil
			})
			if err != nil {
				return err
			}
			out = w
			return nil
		}, key)
		if err == nil {
			return out, nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return domain.QuotaWindow{}, err
	}
	return domain.QuotaWindow{}, ErrContention
}

// stringGetter is satisfied by both clients and *redis.Tx.
type stringGetter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func load(ctx context.Context, c stringGetter, key, userID string) (domain.QuotaWindow, bool, error) {
	raw, err := c.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.QuotaWindow{UserID: userID}, false, nil
	}
	if err != nil {
		return domain.QuotaWindow{}, false, err
	}
	var w domain.QuotaWindow
	if err := json.Unmarshal(raw, &w); err != nil {
		return domain.QuotaWindow{}, false, err
	}
	w.UserID = userID
	return w, true, nil
}

// expiry keeps a key one day past its monthly reset; an expired key is
// indistinguishable from a freshly reset window.
func expiry(w domain.QuotaWindow) time.Duration {
	if w.MonthlyResetAt.IsZero() {
		return 0
	}
	d := time.Until(w.MonthlyResetAt) + 24*time.Hour
	if d <= 0 {
		return 0
	}
	return d
}
