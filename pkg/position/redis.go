package position

import (
	"context"
	"strconv"

	"github.com/cuemby/binlogtap/pkg/types"
	"github.com/redis/go-redis/v9"
)

const (
	keyLogFile = "log_file"
	keyLogPos  = "log_pos"
)

// RedisStore is the primary position store backend, a thin wrapper around
// two string keys in a Redis logical database dedicated to positions.
type RedisStore struct {
	client *redis.Client
	ctx    context.Context
}

// NewRedisStore opens a position store against the given redis://
// connection URL.
func NewRedisStore(url string) (*RedisStore, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	return &RedisStore{
		client: redis.NewClient(opt),
		ctx:    context.Background(),
	}, nil
}

func (s *RedisStore) Get() (types.Position, bool, error) {
	file, err := s.client.Get(s.ctx, keyLogFile).Result()
	if err == redis.Nil {
		return types.Position{}, false, nil
	}
	if err != nil {
		return types.Position{}, false, err
	}

	posStr, err := s.client.Get(s.ctx, keyLogPos).Result()
	if err == redis.Nil {
		return types.Position{LogFile: file}, true, nil
	}
	if err != nil {
		return types.Position{}, false, err
	}

	parsed, err := strconv.ParseUint(posStr, 10, 32)
	if err != nil {
		return types.Position{}, false, err
	}
	return types.Position{LogFile: file, LogPos: uint32(parsed)}, true, nil
}

func (s *RedisStore) SetFile(file string) error {
	return s.client.Set(s.ctx, keyLogFile, file, 0).Err()
}

func (s *RedisStore) SetPos(pos uint32) error {
	return s.client.Set(s.ctx, keyLogPos, strconv.FormatUint(uint64(pos), 10), 0).Err()
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
