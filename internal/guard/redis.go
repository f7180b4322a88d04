package guard

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// 自分が取得したロックだけを解放する
const releaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`

// RedisGuard は複数のポーラープロセスで共有する分散ロックです
// TTLはポーリング1回の上限より長くしておきます
type RedisGuard struct {
	client *redis.Client
	script *redis.Script
	key    string
	ttl    time.Duration
	logger *zap.Logger
}

// NewRedisGuard は新しいRedisGuardを作成します
func NewRedisGuard(client *redis.Client, key string, ttl time.Duration, logger *zap.Logger) (*RedisGuard, error) {
	if client == nil {
		return nil, errors.New("redis client is required")
	}
	if key == "" {
		return nil, errors.New("lock key is empty")
	}
	if ttl <= 0 {
		return nil, errors.New("lock ttl must be positive")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisGuard{
		client: client,
		script: redis.NewScript(releaseScript),
		key:    key,
		ttl:    ttl,
		logger: logger.Named("guard"),
	}, nil
}

func (g *RedisGuard) TryAcquire(ctx context.Context) (func(), bool, error) {
	token := uuid.NewString()
	ok, err := g.client.SetNX(ctx, g.key, token, g.ttl).Result()
	if err != nil {
		return func() {}, false, err
	}
	if !ok {
		return func() {}, false, nil
	}

	return func() {
		// 呼び出し元のcontextがキャンセル済みでも解放できるようにする
		releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := g.script.Run(releaseCtx, g.client, []string{g.key}, token).Err(); err != nil {
			g.logger.Warn("failed to release poll lock", zap.String("key", g.key), zap.Error(err))
		}
	}, true, nil
}
