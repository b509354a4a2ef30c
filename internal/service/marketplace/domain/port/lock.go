package port

import (
	"context"
	"errors"
)

// ErrSweepBusy 表示同名任务正在其他副本上运行，本次应跳过
var ErrSweepBusy = errors.New("sweep is running elsewhere")

// SweepLock 保证同一个后台任务在多个副本之间不会同时运行
type SweepLock interface {
	// Acquire 获取锁，返回的 release 必须被调用；锁被占用时返回 ErrSweepBusy
	Acquire(ctx context.Context, name string) (release func(), err error)
}

// NoopLock 单实例部署时使用
type NoopLock struct{}

func (NoopLock) Acquire(context.Context, string) (func(), error) {
	return func() {}, nil
}
