// Package storage 提供数据存储层
package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore Redis 存储层，用于验证报告缓存、提交去重和限频状态
type RedisStore struct {
	client    *redis.Client
	reportTTL time.Duration
}

// NewRedisStore 创建 Redis 存储实例
func NewRedisStore(addr, password string, db int, reportTTL time.Duration) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	// 测试连接
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	if reportTTL <= 0 {
		reportTTL = 24 * time.Hour
	}

	log.Printf("[Redis] Connected to %s", addr)
	return &RedisStore{client: client, reportTTL: reportTTL}, nil
}

// NewRedisStoreFromURL 从连接字符串创建 Redis 存储实例
func NewRedisStoreFromURL(url string, reportTTL time.Duration) (*RedisStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	return NewRedisStore(opts.Addr, opts.Password, opts.DB, reportTTL)
}

// Close 关闭 Redis 连接
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Client 返回底层 Redis 客户端
func (s *RedisStore) Client() *redis.Client {
	return s.client
}

// === Key 前缀常量 ===

const (
	// 验证报告 JSON
	keyVerifyReport = "verify_report:"
	// 验证运行时状态 Hash
	keyVerifyState = "verify_state:"
	// 验证阶段事件 Stream
	keyVerifyEvents = "verify_events:"
	// 终端提交去重集合
	keySeenCommits = "seen_commits:"
	// 远端对账限频时间戳
	keyReconcileCheck = "reconcile_check:"
)

// === TTL 常量 ===

const (
	// 验证运行时状态 TTL: 1 小时
	ttlVerifyState = 1 * time.Hour
	// 提交去重集合 TTL: 24 小时
	ttlSeenCommits = 24 * time.Hour
	// 事件流最大长度
	maxStreamLength = 1000
)

// === 验证报告缓存 ===

// CacheVerifyReport 缓存任务会话的最新验证报告
func (s *RedisStore) CacheVerifyReport(ctx context.Context, sessionID string, report interface{}) error {
	data, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("failed to marshal verify report: %w", err)
	}

	key := keyVerifyReport + sessionID
	if err := s.client.Set(ctx, key, data, s.reportTTL).Err(); err != nil {
		return fmt.Errorf("failed to cache verify report: %w", err)
	}

	log.Printf("[Redis] Cached verify report for session %s", sessionID)
	return nil
}

// GetVerifyReport 读取缓存的验证报告，out 为目标结构体指针，不存在返回 false
func (s *RedisStore) GetVerifyReport(ctx context.Context, sessionID string, out interface{}) (bool, error) {
	data, err := s.client.Get(ctx, keyVerifyReport+sessionID).Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to get verify report: %w", err)
	}

	if err := json.Unmarshal([]byte(data), out); err != nil {
		return false, fmt.Errorf("failed to unmarshal verify report: %w", err)
	}
	return true, nil
}

// DeleteVerifyReport 删除缓存的验证报告
func (s *RedisStore) DeleteVerifyReport(ctx context.Context, sessionID string) error {
	return s.client.Del(ctx, keyVerifyReport+sessionID).Err()
}

// === 验证运行时状态 ===

// VerifyState 验证流水线运行时状态
type VerifyState struct {
	Stage    string `json:"stage" redis:"stage"`
	Progress int    `json:"progress" redis:"progress"`
	Error    string `json:"error,omitempty" redis:"error"`
}

// SetVerifyState 设置验证运行时状态
func (s *RedisStore) SetVerifyState(ctx context.Context, sessionID string, state *VerifyState) error {
	key := keyVerifyState + sessionID

	data := map[string]interface{}{
		"stage":    state.Stage,
		"progress": state.Progress,
		"error":    state.Error,
	}

	pipe := s.client.Pipeline()
	pipe.HSet(ctx, key, data)
	pipe.Expire(ctx, key, ttlVerifyState)
	_, err := pipe.Exec(ctx)

	return err
}

// GetVerifyState 获取验证运行时状态
func (s *RedisStore) GetVerifyState(ctx context.Context, sessionID string) (*VerifyState, error) {
	result, err := s.client.HGetAll(ctx, keyVerifyState+sessionID).Result()
	if err != nil {
		return nil, err
	}

	if len(result) == 0 {
		return nil, nil
	}

	state := &VerifyState{
		Stage: result["stage"],
		Error: result["error"],
	}

	if progress, err := strconv.Atoi(result["progress"]); err == nil {
		state.Progress = progress
	}

	return state, nil
}

// DeleteVerifyState 删除验证运行时状态
func (s *RedisStore) DeleteVerifyState(ctx context.Context, sessionID string) error {
	return s.client.Del(ctx, keyVerifyState+sessionID).Err()
}

// === 验证阶段事件 (Redis Streams) ===

// VerifyEvent 验证阶段事件，供前端实时展示进度
type VerifyEvent struct {
	ID        string                 `json:"id"`
	Stage     string                 `json:"stage"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data,omitempty"`
}

// PublishVerifyEvent 发布验证阶段事件
func (s *RedisStore) PublishVerifyEvent(ctx context.Context, sessionID string, event *VerifyEvent) error {
	key := keyVerifyEvents + sessionID

	dataJSON, err := json.Marshal(event.Data)
	if err != nil {
		return fmt.Errorf("failed to marshal event data: %w", err)
	}

	args := &redis.XAddArgs{
		Stream: key,
		MaxLen: maxStreamLength,
		Approx: true,
		Values: map[string]interface{}{
			"stage":     event.Stage,
			"timestamp": event.Timestamp.Format(time.RFC3339Nano),
			"data":      string(dataJSON),
		},
	}

	if err := s.client.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("failed to publish verify event: %w", err)
	}
	return nil
}

// GetVerifyEvents 获取验证阶段事件列表
func (s *RedisStore) GetVerifyEvents(ctx context.Context, sessionID string, fromID string, count int64) ([]*VerifyEvent, error) {
	key := keyVerifyEvents + sessionID

	if fromID == "" {
		fromID = "0"
	}

	msgs, err := s.client.XRange(ctx, key, fromID, "+").Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get verify events: %w", err)
	}

	var events []*VerifyEvent
	for _, msg := range msgs {
		events = append(events, parseVerifyEvent(msg))
		if count > 0 && int64(len(events)) >= count {
			break
		}
	}

	return events, nil
}

// SubscribeVerifyEvents 订阅验证阶段事件（实时推送）
func (s *RedisStore) SubscribeVerifyEvents(ctx context.Context, sessionID string) (<-chan *VerifyEvent, error) {
	key := keyVerifyEvents + sessionID
	ch := make(chan *VerifyEvent, 100)

	go func() {
		defer close(ch)
		lastID := "$" // 只获取新事件

		for {
			select {
			case <-ctx.Done():
				return
			default:
			}

			streams, err := s.client.XRead(ctx, &redis.XReadArgs{
				Streams: []string{key, lastID},
				Count:   10,
				Block:   5 * time.Second,
			}).Result()

			if err != nil {
				if err == redis.Nil {
					continue // 超时，继续等待
				}
				log.Printf("[Redis] Verify event subscription error: %v", err)
				return
			}

			for _, stream := range streams {
				for _, msg := range stream.Messages {
					select {
					case ch <- parseVerifyEvent(msg):
						lastID = msg.ID
					case <-ctx.Done():
						return
					}
				}
			}
		}
	}()

	return ch, nil
}

func parseVerifyEvent(msg redis.XMessage) *VerifyEvent {
	event := &VerifyEvent{ID: msg.ID}

	if stage, ok := msg.Values["stage"].(string); ok {
		event.Stage = stage
	}
	if ts, ok := msg.Values["timestamp"].(string); ok {
		if t, err := time.Parse(time.RFC3339Nano, ts); err == nil {
			event.Timestamp = t
		}
	}
	if dataStr, ok := msg.Values["data"].(string); ok {
		var data map[string]interface{}
		if err := json.Unmarshal([]byte(dataStr), &data); err == nil {
			event.Data = data
		}
	}

	return event
}

// DeleteVerifyEvents 删除验证事件流
func (s *RedisStore) DeleteVerifyEvents(ctx context.Context, sessionID string) error {
	return s.client.Del(ctx, keyVerifyEvents+sessionID).Err()
}

// === 终端提交去重 ===

// MarkCommitSeen 标记终端会话已上报过某提交，返回 true 表示首次出现
func (s *RedisStore) MarkCommitSeen(ctx context.Context, sessionID, sha string) (bool, error) {
	key := keySeenCommits + sessionID

	pipe := s.client.Pipeline()
	added := pipe.SAdd(ctx, key, sha)
	pipe.Expire(ctx, key, ttlSeenCommits)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("failed to mark commit seen: %w", err)
	}

	return added.Val() == 1, nil
}

// ClearSeenCommits 清空终端会话的提交去重集合
func (s *RedisStore) ClearSeenCommits(ctx context.Context, sessionID string) error {
	return s.client.Del(ctx, keySeenCommits+sessionID).Err()
}

// === 远端对账限频 ===

// TryReconcileCheck 尝试获取对账窗口，窗口内的重复请求返回 false
//
// SET NX + TTL，窗口过期前同一工作区只放行一次远端查询
func (s *RedisStore) TryReconcileCheck(ctx context.Context, workspaceID string, window time.Duration) (bool, error) {
	key := keyReconcileCheck + workspaceID
	ok, err := s.client.SetNX(ctx, key, time.Now().Format(time.RFC3339), window).Result()
	if err != nil {
		return false, fmt.Errorf("failed to acquire reconcile window: %w", err)
	}
	return ok, nil
}

// ClearReconcileCheck 释放对账窗口，强制对账前调用
func (s *RedisStore) ClearReconcileCheck(ctx context.Context, workspaceID string) error {
	return s.client.Del(ctx, keyReconcileCheck+workspaceID).Err()
}
