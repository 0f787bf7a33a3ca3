package access

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/best-technologies/embedded-door-lock/internal/model"
)

// expiredGrace keeps an expired record readable for a short while past its
// logical expiry so verification can report "expired" instead of "invalid".
const expiredGrace = time.Hour

var ErrRedisNotConfigured = errors.New("redis_not_configured")

// CodeStore keeps single-use temporary access codes in redis. Each code is a
// JSON record under access_code:<code>; a reverse key access_code_user:<id>
// enforces at most one active code per user.
type CodeStore struct {
	redis *redis.Client
	ttl   time.Duration
}

func NewCodeStore(client *redis.Client, ttl time.Duration) *CodeStore {
	return &CodeStore{redis: client, ttl: ttl}
}

func codeKey(code string) string {
	return fmt.Sprintf("access_code:%s", code)
}

func codeUserKey(userID string) string {
	return fmt.Sprintf("access_code_user:%s", userID)
}

func randomCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1000000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}

// Issue generates a fresh 6-digit code for the user, deleting any prior
// unused code first so only one code is live per user.
func (c *CodeStore) Issue(ctx context.Context, userID string) (string, model.TemporaryCode, error) {
	if c.redis == nil {
		return "", model.TemporaryCode{}, ErrRedisNotConfigured
	}

	prior, err := c.redis.Get(ctx, codeUserKey(userID)).Result()
	if err != nil && err != redis.Nil {
		return "", model.TemporaryCode{}, err
	}
	if prior != "" {
		if err := c.redis.Del(ctx, codeKey(prior)).Err(); err != nil {
			return "", model.TemporaryCode{}, err
		}
	}

	now := time.Now().UTC()
	record := model.TemporaryCode{
		UserID:    userID,
		IssuedAt:  now.Unix(),
		ExpiresAt: now.Add(c.ttl).Unix(),
	}
	data, err := json.Marshal(record)
	if err != nil {
		return "", model.TemporaryCode{}, err
	}

	for attempt := 0; attempt < 5; attempt++ {
		code, err := randomCode()
		if err != nil {
			return "", model.TemporaryCode{}, err
		}
		ok, err := c.redis.SetNX(ctx, codeKey(code), data, c.ttl+expiredGrace).Result()
		if err != nil {
			return "", model.TemporaryCode{}, err
		}
		if !ok {
			continue
		}
		if err := c.redis.Set(ctx, codeUserKey(userID), code, c.ttl+expiredGrace).Err(); err != nil {
			return "", model.TemporaryCode{}, err
		}
		return code, record, nil
	}
	return "", model.TemporaryCode{}, errors.New("code space exhausted")
}

func (c *CodeStore) Get(ctx context.Context, code string) (model.TemporaryCode, bool, error) {
	if c.redis == nil {
		return model.TemporaryCode{}, false, ErrRedisNotConfigured
	}
	value, err := c.redis.Get(ctx, codeKey(code)).Result()
	if err == redis.Nil {
		return model.TemporaryCode{}, false, nil
	}
	if err != nil {
		return model.TemporaryCode{}, false, err
	}
	var record model.TemporaryCode
	if err := json.Unmarshal([]byte(value), &record); err != nil {
		return model.TemporaryCode{}, false, err
	}
	return record, true, nil
}

// Consume removes and returns the code in one round trip. Of two racing
// callers exactly one sees the record; the other sees a miss.
func (c *CodeStore) Consume(ctx context.Context, code string) (model.TemporaryCode, bool, error) {
	if c.redis == nil {
		return model.TemporaryCode{}, false, ErrRedisNotConfigured
	}
	value, err := c.redis.GetDel(ctx, codeKey(code)).Result()
	if err == redis.Nil {
		return model.TemporaryCode{}, false, nil
	}
	if err != nil {
		return model.TemporaryCode{}, false, err
	}
	var record model.TemporaryCode
	if err := json.Unmarshal([]byte(value), &record); err != nil {
		return model.TemporaryCode{}, false, err
	}
	_ = c.redis.Del(ctx, codeUserKey(record.UserID)).Err()
	return record, true, nil
}

func (c *CodeStore) Delete(ctx context.Context, code string) error {
	if c.redis == nil {
		return ErrRedisNotConfigured
	}
	record, found, err := c.Get(ctx, code)
	if err != nil {
		return err
	}
	if found {
		_ = c.redis.Del(ctx, codeUserKey(record.UserID)).Err()
	}
	return c.redis.Del(ctx, codeKey(code)).Err()
}
