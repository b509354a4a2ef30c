package adapter

import (
	"context"
	"errors"

	"rentbot/internal/pkg/logger"
	"rentbot/internal/service/marketplace/domain/port"
	"rentbot/internal/zookeeper"
)

// ZKSweepLock 实现了 port.SweepLock 接口，每个任务名对应一把 ZooKeeper 锁
type ZKSweepLock struct {
	conn *zookeeper.Conn
}

func NewZKSweepLock(conn *zookeeper.Conn) *ZKSweepLock {
	return &ZKSweepLock{conn: conn}
}

// Acquire 不等待：别的副本正在执行同一任务时直接返回 port.ErrSweepBusy
func (l *ZKSweepLock) Acquire(ctx context.Context, name string) (func(), error) {
	lock, err := zookeeper.NewDistributedLock(l.conn, "sweep-"+name)
	if err != nil {
		return nil, err
	}
	if err := lock.TryLock(); err != nil {
		if errors.Is(err, zookeeper.ErrLockHeld) {
			return nil, port.ErrSweepBusy
		}
		return nil, err
	}
	return func() {
		if err := lock.Unlock(); err != nil {
			logger.Ctx(ctx).Warn().Err(err).Str("job", name).Msg("failed to release sweep lock")
		}
	}, nil
}
