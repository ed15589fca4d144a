package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/smallbiznis/authcore/internal/login"
)

const codePrefix = "auth:code:"

// RedisCodeStore implements login.CodeStore backed by Redis. GETDEL makes
// consumption atomic: of two concurrent verifications, only one sees the code.
type RedisCodeStore struct {
	client redis.UniversalClient
}

var _ login.CodeStore = (*RedisCodeStore)(nil)

// NewRedisCodeStore constructs a Redis-backed code store.
func NewRedisCodeStore(client redis.UniversalClient) *RedisCodeStore {
	return &RedisCodeStore{client: client}
}

// Put stores the sealed code under the email key, replacing any pending one.
func (s *RedisCodeStore) Put(ctx context.Context, email string, code login.StoredCode, retain time.Duration) error {
	payload, err := json.Marshal(code)
	if err != nil {
		return fmt.Errorf("marshal code: %w", err)
	}
	if err := s.client.Set(ctx, codePrefix+email, payload, retain).Err(); err != nil {
		return fmt.Errorf("persist code: %w", err)
	}
	return nil
}

// Take removes and decodes the stored code.
func (s *RedisCodeStore) Take(ctx context.Context, email string) (*login.StoredCode, error) {
	bytes, err := s.client.GetDel(ctx, codePrefix+email).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("load code: %w", err)
	}
	var code login.StoredCode
	if err := json.Unmarshal(bytes, &code); err != nil {
		return nil, fmt.Errorf("decode code: %w", err)
	}
	return &code, nil
}
