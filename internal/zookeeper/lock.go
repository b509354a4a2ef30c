// internal/zookeeper/lock.go
package zookeeper

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/go-zookeeper/zk"
)

const (
	lockRoot = "/rentbot/locks" // 所有分布式锁的根节点
)

var ErrLockHeld = errors.New("lock is held by another owner")

// DistributedLock 基于临时顺序节点实现的分布式锁
type DistributedLock struct {
	conn     *Conn  // ZooKeeper连接
	path     string // 锁的路径，例如 /rentbot/locks/sweep-cleanup
	lockNode string // 成功获取锁后，自己创建的节点路径
}

// NewDistributedLock 创建一个新的分布式锁实例，并确保锁路径存在
func NewDistributedLock(conn *Conn, resourceID string) (*DistributedLock, error) {
	lockPath := lockRoot + "/" + resourceID
	if err := ensurePath(conn, lockPath); err != nil {
		return nil, err
	}
	return &DistributedLock{
		conn: conn,
		path: lockPath,
	}, nil
}

func ensurePath(conn *Conn, p string) error {
	cur := ""
	for _, part := range strings.Split(strings.Trim(p, "/"), "/") {
		cur += "/" + part
		exists, _, err := conn.Exists(cur)
		if err != nil {
			return fmt.Errorf("failed to check lock path %s: %w", cur, err)
		}
		if exists {
			continue
		}
		_, err = conn.Create(cur, []byte(""), 0, zk.WorldACL(zk.PermAll))
		if err != nil && !errors.Is(err, zk.ErrNodeExists) {
			return fmt.Errorf("failed to create lock path %s: %w", cur, err)
		}
	}
	return nil
}

// TryLock 不等待，其他持有者存在时返回 ErrLockHeld
func (l *DistributedLock) TryLock() error {
	if err := l.createNode(); err != nil {
		return err
	}
	prev, err := l.predecessor()
	if err != nil {
		_ = l.Unlock()
		return err
	}
	if prev != "" {
		_ = l.Unlock()
		return ErrLockHeld
	}
	return nil
}

func (l *DistributedLock) createNode() error {
	// 格式为: /rentbot/locks/resourceID/lock-
	nodePath, err := l.conn.CreateProtectedEphemeralSequential(l.path+"/lock-", []byte(""), zk.WorldACL(zk.PermAll))
	if err != nil {
		return fmt.Errorf("failed to create sequential node: %w", err)
	}
	l.lockNode = nodePath
	return nil
}

// predecessor 返回排在自己前面的节点名，自己最小时返回空串
func (l *DistributedLock) predecessor() (string, error) {
	children, _, err := l.conn.Children(l.path)
	if err != nil {
		return "", fmt.Errorf("failed to get children nodes: %w", err)
	}
	myNodeName := strings.TrimPrefix(l.lockNode, l.path+"/")
	return predecessorOf(children, myNodeName)
}

// predecessorOf 按顺序号比较。受保护节点的名字带有 GUID 前缀，
// 不能直接按字符串排序，只能比较末尾的 10 位序号。
func predecessorOf(children []string, mine string) (string, error) {
	sort.Slice(children, func(i, j int) bool { return sequence(children[i]) < sequence(children[j]) })
	for i, child := range children {
		if child == mine {
			if i == 0 {
				return "", nil
			}
			return children[i-1], nil
		}
	}
	return "", errors.New("cannot find own lock node, session may have expired")
}

func sequence(node string) string {
	if len(node) < 10 {
		return node
	}
	return node[len(node)-10:]
}

// Unlock 释放锁
func (l *DistributedLock) Unlock() error {
	if l.lockNode == "" {
		return errors.New("no lock to unlock")
	}
	err := l.conn.Delete(l.lockNode, -1)
	if err != nil && !errors.Is(err, zk.ErrNoNode) {
		return fmt.Errorf("failed to delete lock node: %w", err)
	}
	l.lockNode = ""
	return nil
}
