package safety

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

const quotaKeyPrefix = "dirtyapply:quota:"

// Counter keys outlive the day they count by one day, then expire.
const quotaKeyTTLSeconds = 2 * 24 * 60 * 60

// incrIfBelow runs the read-check-increment as a single script so the
// counter is a serialized single-writer across every engine process.
var incrIfBelow = redis.NewScript(`
local current = tonumber(redis.call('GET', KEYS[1]) or '0')
if current >= tonumber(ARGV[1]) then
	return 0
end
redis.call('INCR', KEYS[1])
redis.call('EXPIRE', KEYS[1], ARGV[2])
return 1
`)

// RedisQuotaStore backs the quota counter with redis, making the increment
// atomic across concurrent plans and processes.
type RedisQuotaStore struct {
	client *redis.Client
}

func NewRedisQuotaStore(client *redis.Client) *RedisQuotaStore {
	return &RedisQuotaStore{client: client}
}

// NewRedisQuotaStoreURL connects from a redis URL, e.g.
// redis://127.0.0.1:6379/0.
func NewRedisQuotaStoreURL(redisURL string) (*RedisQuotaStore, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parsing redis URL: %w", err)
	}
	return &RedisQuotaStore{client: redis.NewClient(opt)}, nil
}

func (s *RedisQuotaStore) Get(ctx context.Context, date string) (int, error) {
	n, err := s.client.Get(ctx, quotaKeyPrefix+date).Int()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("reading quota counter: %w", err)
	}
	return n, nil
}

func (s *RedisQuotaStore) IncrementIfBelow(ctx context.Context, date string, max int) (bool, error) {
	res, err := incrIfBelow.Run(ctx, s.client, []string{quotaKeyPrefix + date}, max, quotaKeyTTLSeconds).Int()
	if err != nil {
		return false, fmt.Errorf("incrementing quota counter: %w", err)
	}
	return res == 1, nil
}

func (s *RedisQuotaStore) Close() error {
	return s.client.Close()
}
