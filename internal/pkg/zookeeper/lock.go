package zookeeper

import (
	"fmt"

	"github.com/go-zookeeper/zk"
)

const lockRoot = "/bazaar/locks"

// lockConn 是 LeaderLock 需要的最小连接面，*zk.Conn 天然满足。
type lockConn interface {
	Create(path string, data []byte, flags int32, acl []zk.ACL) (string, error)
	Exists(path string) (bool, *zk.Stat, error)
	Delete(path string, version int32) error
}

// LeaderLock 是基于 ZooKeeper 临时节点的抢占式锁。
// 多实例部署时由它保证同一时刻只有一个实例在执行后台清扫，
// 实例崩溃后会话过期，节点自动删除，锁随之释放。
type LeaderLock struct {
	conn lockConn
	path string
	held bool
}

// NewLeaderLock 创建一个命名资源的抢占锁。
func NewLeaderLock(conn *Conn, resource string) (*LeaderLock, error) {
	if err := conn.EnsurePath("/bazaar"); err != nil {
		return nil, fmt.Errorf("failed to ensure zk base path: %w", err)
	}
	if err := conn.EnsurePath(lockRoot); err != nil {
		return nil, fmt.Errorf("failed to ensure zk lock root: %w", err)
	}
	return &LeaderLock{
		conn: conn,
		path: lockRoot + "/" + resource,
	}, nil
}

// TryAcquire 尝试抢锁，抢不到立即返回 false，不阻塞。
// 自认持有时也要确认临时节点仍然存在：会话过期会让节点
// 悄悄消失，本地标志还留着的话两个清扫器就会同时开跑。
func (l *LeaderLock) TryAcquire() (bool, error) {
	if l.held {
		exists, _, err := l.conn.Exists(l.path)
		if err != nil {
			l.held = false
			return false, fmt.Errorf("failed to check lock node %s: %w", l.path, err)
		}
		if exists {
			return true, nil
		}
		// 会话过期，锁已经丢了，走正常抢锁路径
		l.held = false
	}

	_, err := l.conn.Create(l.path, []byte(""), zk.FlagEphemeral, zk.WorldACL(zk.PermAll))
	if err == zk.ErrNodeExists {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to create lock node %s: %w", l.path, err)
	}
	l.held = true
	return true, nil
}

// Release 释放锁。未持有时是空操作。
func (l *LeaderLock) Release() error {
	if !l.held {
		return nil
	}
	if err := l.conn.Delete(l.path, -1); err != nil && err != zk.ErrNoNode {
		return fmt.Errorf("failed to delete lock node %s: %w", l.path, err)
	}
	l.held = false
	return nil
}
