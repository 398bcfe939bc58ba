// Package storage etcd 分布式锁实现
package storage

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
	"go.etcd.io/etcd/client/v3/concurrency"
)

// Locker 互斥锁抽象，工作区创建等非幂等流程串行化用
//
// Unlock 函数必须在持锁方退出临界区时调用，重复调用无害
type Locker interface {
	Lock(ctx context.Context, key string) (unlock func(), err error)
	Close() error
}

// EtcdLocker 基于 etcd lease 的分布式锁，多实例部署时使用
type EtcdLocker struct {
	client *clientv3.Client
	prefix string
}

// EtcdLockerConfig etcd 锁配置
type EtcdLockerConfig struct {
	Endpoints   []string
	DialTimeout time.Duration
	Prefix      string
}

// NewEtcdLocker 创建 etcd 分布式锁
func NewEtcdLocker(cfg EtcdLockerConfig) (*EtcdLocker, error) {
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = 5 * time.Second
	}
	if cfg.Prefix == "" {
		cfg.Prefix = "/gitguide/locks"
	}

	client, err := clientv3.New(clientv3.Config{
		Endpoints:   cfg.Endpoints,
		DialTimeout: cfg.DialTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to etcd: %w", err)
	}

	// 测试连接
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if _, err := client.Status(ctx, cfg.Endpoints[0]); err != nil {
		client.Close()
		return nil, fmt.Errorf("etcd health check failed: %w", err)
	}

	log.Printf("[etcd] Connected to %v", cfg.Endpoints)
	return &EtcdLocker{client: client, prefix: cfg.Prefix}, nil
}

// Lock 获取 key 对应的互斥锁
//
// session 绑定 30 秒 lease，持锁方崩溃后锁随 lease 过期自动释放
func (l *EtcdLocker) Lock(ctx context.Context, key string) (func(), error) {
	session, err := concurrency.NewSession(l.client, concurrency.WithTTL(30))
	if err != nil {
		return nil, fmt.Errorf("failed to create etcd session: %w", err)
	}

	mutex := concurrency.NewMutex(session, l.prefix+"/"+key)
	if err := mutex.Lock(ctx); err != nil {
		session.Close()
		return nil, fmt.Errorf("failed to acquire lock %s: %w", key, err)
	}

	var once sync.Once
	unlock := func() {
		once.Do(func() {
			if err := mutex.Unlock(context.Background()); err != nil {
				log.Printf("[etcd] Failed to release lock %s: %v", key, err)
			}
			session.Close()
		})
	}
	return unlock, nil
}

// Close 关闭连接
func (l *EtcdLocker) Close() error {
	return l.client.Close()
}

// LocalLocker 进程内互斥锁，单实例部署或 etcd 未启用时的兜底
type LocalLocker struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewLocalLocker 创建进程内锁
func NewLocalLocker() *LocalLocker {
	return &LocalLocker{locks: make(map[string]*sync.Mutex)}
}

// Lock 获取 key 对应的互斥锁
func (l *LocalLocker) Lock(ctx context.Context, key string) (func(), error) {
	l.mu.Lock()
	m, ok := l.locks[key]
	if !ok {
		m = &sync.Mutex{}
		l.locks[key] = m
	}
	l.mu.Unlock()

	// 锁竞争时仍要尊重 ctx 取消
	acquired := make(chan struct{})
	go func() {
		m.Lock()
		close(acquired)
	}()

	select {
	case <-acquired:
	case <-ctx.Done():
		go func() {
			<-acquired
			m.Unlock()
		}()
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(m.Unlock)
	}, nil
}

// Close 进程内锁无资源可释放
func (l *LocalLocker) Close() error {
	return nil
}
