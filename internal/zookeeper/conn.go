// internal/zookeeper/conn.go
package zookeeper

import (
	"fmt"
	"time"

	"github.com/go-zookeeper/zk"

	"rentbot/internal/pkg/logger"
)

// Conn 是底层 ZooKeeper 连接
type Conn = zk.Conn

type zkLogger struct{}

func (zkLogger) Printf(format string, args ...interface{}) {
	logger.L().Debug().Str("component", "zookeeper").Msgf(format, args...)
}

// Connect 建立连接并等待会话建立
func Connect(servers []string, sessionTimeout time.Duration) (*Conn, error) {
	conn, events, err := zk.Connect(servers, sessionTimeout, zk.WithLogger(zkLogger{}))
	if err != nil {
		return nil, fmt.Errorf("failed to connect zookeeper: %w", err)
	}

	timeout := time.After(10 * time.Second)
	for {
		select {
		case ev := <-events:
			if ev.State == zk.StateHasSession {
				return conn, nil
			}
		case <-timeout:
			conn.Close()
			return nil, fmt.Errorf("timeout waiting for zookeeper session")
		}
	}
}
