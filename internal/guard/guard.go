// Package guard はポーリングが同時に1つしか走らないようにする再入ガードです
package guard

import (
	"context"
	"sync/atomic"
)

// Guard は取得できた場合だけ処理を進めるための排他です
// TryAcquireは待たずに結果を返し、okがfalseなら今回のポーリングは見送ります
type Guard interface {
	TryAcquire(ctx context.Context) (release func(), ok bool, err error)
}

// LocalGuard はプロセス内で1つのポーラーを前提としたガードです
type LocalGuard struct {
	running atomic.Bool
}

// NewLocalGuard は新しいLocalGuardを作成します
func NewLocalGuard() *LocalGuard {
	return &LocalGuard{}
}

func (g *LocalGuard) TryAcquire(ctx context.Context) (func(), bool, error) {
	if !g.running.CompareAndSwap(false, true) {
		return func() {}, false, nil
	}
	var once atomic.Bool
	return func() {
		if once.CompareAndSwap(false, true) {
			g.running.Store(false)
		}
	}, true, nil
}

// Running は現在ポーリング中かを返します
func (g *LocalGuard) Running() bool {
	return g.running.Load()
}
