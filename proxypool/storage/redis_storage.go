package storage

import (
	"fmt"
	"strings"

	"github.com/go-redis/redis/v7"

	"openweb_proxy/internal/shared/logger"
	"openweb_proxy/proxypool/model"
)

// RedisStorage keeps the proxy list in a Redis list, one canonical string per element.
type RedisStorage struct {
	client *redis.Client
	key    string
}

func NewRedisStorage(addr string, db int, key string) *RedisStorage {
	return &RedisStorage{
		client: redis.NewClient(&redis.Options{
			Addr: addr,
			DB:   db,
		}),
		key: key,
	}
}

// Ping checks the connection.
func (rs *RedisStorage) Ping() error {
	if err := rs.client.Ping().Err(); err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}
	return nil
}

func (rs *RedisStorage) Close() error {
	return rs.client.Close()
}

func (rs *RedisStorage) Load(protocol model.Protocol) (*model.ProxySet, error) {
	l := logger.WithComponent("ProxyPool/Storage")

	items, err := rs.client.LRange(rs.key, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read redis list %s: %w", rs.key, err)
	}

	set := model.NewProxySet()
	for i, item := range items {
		e, err := parseEntry(protocol, strings.TrimSpace(item))
		if err != nil {
			l.Warn().Err(err).Int("index", i).Str("entry", item).Msg("Skipping invalid proxy entry.")
			continue
		}
		set.Add(e)
	}

	l.Info().Int("count", set.Len()).Str("key", rs.key).Msg("Successfully loaded proxies from redis.")
	return set, nil
}

// Save replaces the list atomically (MULTI/EXEC).
func (rs *RedisStorage) Save(set *model.ProxySet) error {
	if set.Len() == 0 {
		return ErrEmptySet
	}
	l := logger.WithComponent("ProxyPool/Storage")

	values := make([]interface{}, 0, set.Len())
	for _, s := range set.Strings() {
		values = append(values, s)
	}

	_, err := rs.client.TxPipelined(func(pipe redis.Pipeliner) error {
		pipe.Del(rs.key)
		pipe.RPush(rs.key, values...)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to write redis list %s: %w", rs.key, err)
	}

	l.Info().Int("count", set.Len()).Str("key", rs.key).Msg("Successfully saved proxies to redis.")
	return nil
}

// parseEntry parses a persisted canonical string and checks its protocol.
func parseEntry(protocol model.Protocol, s string) (model.Endpoint, error) {
	e, err := model.ParseEndpoint(s)
	if err != nil {
		return model.Endpoint{}, err
	}
	if e.Protocol != protocol {
		return model.Endpoint{}, fmt.Errorf("protocol %s does not match %s", e.Protocol, protocol)
	}
	return e, nil
}
