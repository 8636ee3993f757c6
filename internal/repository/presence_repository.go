package repository

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
)

// PresenceRepository 记录参与方当前打开着哪些会话。
// 同一参与方可能有多个连接，因此按打开次数计数。
type PresenceRepository interface {
	Open(ctx context.Context, partyID, conversationID string) error
	Close(ctx context.Context, partyID, conversationID string) error
	IsOpen(ctx context.Context, partyID, conversationID string) (bool, error)
}

type redisPresenceRepository struct {
	redisClient *redis.Client
	ttl         time.Duration
}

// NewPresenceRepository 创建基于 Redis 的 PresenceRepository。
func NewPresenceRepository(redisClient *redis.Client, ttl time.Duration) PresenceRepository {
	return &redisPresenceRepository{redisClient: redisClient, ttl: ttl}
}

func presenceKey(partyID string) string {
	return fmt.Sprintf("presence:%s:open", partyID)
}

func (r *redisPresenceRepository) Open(ctx context.Context, partyID, conversationID string) error {
	key := presenceKey(partyID)
	pipe := r.redisClient.TxPipeline()
	pipe.HIncrBy(ctx, key, conversationID, 1)
	pipe.Expire(ctx, key, r.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to record presence: %w", err)
	}
	return nil
}

func (r *redisPresenceRepository) Close(ctx context.Context, partyID, conversationID string) error {
	key := presenceKey(partyID)
	n, err := r.redisClient.HIncrBy(ctx, key, conversationID, -1).Result()
	if err != nil {
		return fmt.Errorf("failed to clear presence: %w", err)
	}
	if n <= 0 {
		if err := r.redisClient.HDel(ctx, key, conversationID).Err(); err != nil {
			return fmt.Errorf("failed to clear presence: %w", err)
		}
	}
	return nil
}

func (r *redisPresenceRepository) IsOpen(ctx context.Context, partyID, conversationID string) (bool, error) {
	val, err := r.redisClient.HGet(ctx, presenceKey(partyID), conversationID).Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read presence: %w", err)
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return false, nil
	}
	return n > 0, nil
}

type memoryPresenceRepository struct {
	mu    sync.Mutex
	count map[string]int
}

// NewMemoryPresenceRepository 创建进程内的 PresenceRepository，用于单节点部署和测试。
func NewMemoryPresenceRepository() PresenceRepository {
	return &memoryPresenceRepository{count: make(map[string]int)}
}

func (r *memoryPresenceRepository) Open(_ context.Context, partyID, conversationID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.count[partyID+"|"+conversationID]++
	return nil
}

func (r *memoryPresenceRepository) Close(_ context.Context, partyID, conversationID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := partyID + "|" + conversationID
	if r.count[key] <= 1 {
		delete(r.count, key)
		return nil
	}
	r.count[key]--
	return nil
}

func (r *memoryPresenceRepository) IsOpen(_ context.Context, partyID, conversationID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count[partyID+"|"+conversationID] > 0, nil
}
