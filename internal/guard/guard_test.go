package guard

import (
	"context"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalGuard(t *testing.T) {
	ctx := context.Background()
	g := NewLocalGuard()

	release, ok, err := g.TryAcquire(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, g.Running())

	// 実行中は取得できない
	_, ok, err = g.TryAcquire(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	release()
	// 2回呼んでも問題ない
	release()
	assert.False(t, g.Running())

	release, ok, err = g.TryAcquire(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	release()
}

func TestLocalGuard_Concurrent(t *testing.T) {
	g := NewLocalGuard()
	var acquired atomic.Int32
	var wg sync.WaitGroup
	start := make(chan struct{})

	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			if _, ok, _ := g.TryAcquire(context.Background()); ok {
				acquired.Add(1)
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, int32(1), acquired.Load())
}

func TestNewRedisGuard_Validation(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
	defer client.Close()

	tests := []struct {
		name   string
		client *redis.Client
		key    string
		ttl    time.Duration
	}{
		{name: "クライアントなし", client: nil, key: "k", ttl: time.Minute},
		{name: "キーなし", client: client, key: "", ttl: time.Minute},
		{name: "TTLなし", client: client, key: "k", ttl: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewRedisGuard(tt.client, tt.key, tt.ttl, nil)
			assert.Error(t, err)
		})
	}
}

// REDIS_ADDRが設定されている場合のみ実際のRedisで確認する
func TestRedisGuard(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR is not set")
	}

	ctx := context.Background()
	client := redis.NewClient(&redis.Options{Addr: addr})
	defer client.Close()

	key := "asset-notifier:test:" + t.Name()
	t.Cleanup(func() { client.Del(context.Background(), key) })

	g1, err := NewRedisGuard(client, key, time.Minute, nil)
	require.NoError(t, err)
	g2, err := NewRedisGuard(client, key, time.Minute, nil)
	require.NoError(t, err)

	release, ok, err := g1.TryAcquire(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = g2.TryAcquire(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	release()

	release, ok, err = g2.TryAcquire(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	release()
}
