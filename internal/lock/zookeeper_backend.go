package lock

import (
	"context"
	"strings"
	"time"

	"github.com/go-zookeeper/zk"
)

const zkLockRoot = "/boxoffice/locks"

// ZookeeperBackend implements Backend on one ZooKeeper ensemble using
// TTL nodes that carry the holder's token as payload. Release and
// extension are fenced by comparing the stored token and the znode
// version, so they behave as compare-and-delete / compare-and-touch.
type ZookeeperBackend struct {
	name string
	conn *zk.Conn
}

// NewZookeeperBackend connects to the ensemble and makes sure the lock
// root exists.
func NewZookeeperBackend(name string, addrs []string, sessionTimeout time.Duration) (*ZookeeperBackend, error) {
	conn, _, err := zk.Connect(addrs, sessionTimeout)
	if err != nil {
		return nil, err
	}

	// Create parents one level at a time; ErrNodeExists is fine.
	path := ""
	for _, part := range strings.Split(strings.Trim(zkLockRoot, "/"), "/") {
		path += "/" + part
		if _, err := conn.Create(path, nil, 0, zk.WorldACL(zk.PermAll)); err != nil && err != zk.ErrNodeExists {
			conn.Close()
			return nil, err
		}
	}

	return &ZookeeperBackend{name: name, conn: conn}, nil
}

func (b *ZookeeperBackend) Name() string { return b.name }

func (b *ZookeeperBackend) TryAcquire(ctx context.Context, key, token string, ttl time.Duration) (bool, error) {
	_, err := b.conn.CreateTTL(b.nodePath(key), []byte(token), zk.FlagTTL, zk.WorldACL(zk.PermAll), ttl)
	if err == zk.ErrNodeExists {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (b *ZookeeperBackend) Release(ctx context.Context, key, token string) (bool, error) {
	path := b.nodePath(key)
	data, stat, err := b.conn.Get(path)
	if err == zk.ErrNoNode {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if string(data) != token {
		return false, nil
	}
	if err := b.conn.Delete(path, stat.Version); err != nil {
		if err == zk.ErrNoNode || err == zk.ErrBadVersion {
			// Lost to expiry or to a racing holder; nothing to clear.
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (b *ZookeeperBackend) Extend(ctx context.Context, key, token string, ttl time.Duration) (bool, error) {
	path := b.nodePath(key)
	data, stat, err := b.conn.Get(path)
	if err == zk.ErrNoNode {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if string(data) != token {
		return false, nil
	}
	// Rewriting the payload bumps the node's modification time, which
	// restarts the TTL countdown.
	if _, err := b.conn.Set(path, data, stat.Version); err != nil {
		if err == zk.ErrNoNode || err == zk.ErrBadVersion {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// Close shuts the ensemble connection down.
func (b *ZookeeperBackend) Close() {
	b.conn.Close()
}

func (b *ZookeeperBackend) nodePath(key string) string {
	return zkLockRoot + "/" + strings.ReplaceAll(key, "/", "_")
}
