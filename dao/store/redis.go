package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"B2P/task"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	statusTTL     = 7 * 24 * time.Hour
	lockTTL       = 15 * time.Minute
	lockRetryWait = 500 * time.Millisecond
)

// releaseScript 只有 token 一致才删除, 避免误删别人的锁
const releaseScript = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
	return redis.call('DEL', KEYS[1])
end
return 0
`

// RedisStore implements StatusStore and Locker on one Redis client.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore connects and pings addr.
func NewRedisStore(ctx context.Context, addr string) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}
	return &RedisStore{client: client}, nil
}

func (r *RedisStore) Close() error {
	return r.client.Close()
}

func statusKey(taskName string) string { return "b2p:task:" + taskName + ":status" }
func lockKey(taskName string) string   { return "b2p:task:" + taskName + ":lock" }

func (r *RedisStore) SetStatus(ctx context.Context, s task.Status) error {
	data, err := json.Marshal(s)
	if err != nil {
		return err
	}
	if err := r.client.Set(ctx, statusKey(s.Task), data, statusTTL).Err(); err != nil {
		zap.L().Error("failed to store task status", zap.String("task", s.Task), zap.Error(err))
		return err
	}
	return nil
}

func (r *RedisStore) GetStatus(ctx context.Context, taskName string) (task.Status, error) {
	data, err := r.client.Get(ctx, statusKey(taskName)).Bytes()
	if errors.Is(err, redis.Nil) {
		return task.Status{}, ErrNotFound
	}
	if err != nil {
		return task.Status{}, err
	}
	var s task.Status
	err = json.Unmarshal(data, &s)
	return s, err
}

// Lock polls SET NX until it wins. The TTL keeps a crashed holder from
// blocking the task forever.
func (r *RedisStore) Lock(ctx context.Context, key string) (func(), error) {
	token := uuid.NewString()
	k := lockKey(key)
	for {
		ok, err := r.client.SetNX(ctx, k, token, lockTTL).Result()
		if err != nil {
			return nil, fmt.Errorf("redis lock %s: %w", key, err)
		}
		if ok {
			break
		}
		t := time.NewTimer(lockRetryWait)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil, ctx.Err()
		case <-t.C:
		}
	}
	return func() {
		// 调用方的 ctx 可能已经结束
		releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := r.client.Eval(releaseCtx, releaseScript, []string{k}, token).Err(); err != nil && !errors.Is(err, redis.Nil) {
			zap.L().Warn("failed to release task lock", zap.String("task", key), zap.Error(err))
		}
	}, nil
}
