package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/go-redis/redis/v8"
	"mind-namo-go/pkg/log"
)

// Bus 在多个中继实例之间分发投递。每个实例都把收到的投递交给本地 Hub。
type Bus interface {
	Publish(ctx context.Context, d Delivery) error
	Start(ctx context.Context, onDelivery func(Delivery)) error
	Close() error
}

// LocalBus 是单实例的总线，Publish 同步交给本地处理函数。
type LocalBus struct {
	mu         sync.RWMutex
	onDelivery func(Delivery)
}

// NewLocalBus 创建一个进程内总线。
func NewLocalBus() *LocalBus { return &LocalBus{} }

func (b *LocalBus) Publish(_ context.Context, d Delivery) error {
	b.mu.RLock()
	fn := b.onDelivery
	b.mu.RUnlock()
	if fn == nil {
		return fmt.Errorf("local bus not started")
	}
	fn(d)
	return nil
}

func (b *LocalBus) Start(_ context.Context, onDelivery func(Delivery)) error {
	if onDelivery == nil {
		return fmt.Errorf("delivery callback required")
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onDelivery = onDelivery
	return nil
}

func (b *LocalBus) Close() error { return nil }

// RedisBus 通过 Redis Pub/Sub 在实例之间转发投递。
type RedisBus struct {
	rdb     *redis.Client
	channel string

	mu  sync.Mutex
	sub *redis.PubSub
}

// NewRedisBus 创建一个基于 Redis 频道的总线。
func NewRedisBus(rdb *redis.Client, channel string) *RedisBus {
	return &RedisBus{rdb: rdb, channel: channel}
}

func (b *RedisBus) Publish(ctx context.Context, d Delivery) error {
	raw, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("encode delivery: %w", err)
	}
	return b.rdb.Publish(ctx, b.channel, raw).Err()
}

// Start 订阅频道并在后台转发，ctx 取消时退订。
func (b *RedisBus) Start(ctx context.Context, onDelivery func(Delivery)) error {
	if onDelivery == nil {
		return fmt.Errorf("delivery callback required")
	}
	sub := b.rdb.Subscribe(ctx, b.channel)
	// 确认订阅已生效
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return fmt.Errorf("redis subscribe: %w", err)
	}
	b.mu.Lock()
	b.sub = sub
	b.mu.Unlock()

	go func() {
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				_ = sub.Close()
				return
			case m, ok := <-ch:
				if !ok || m == nil {
					return
				}
				var d Delivery
				if err := json.Unmarshal([]byte(m.Payload), &d); err != nil {
					log.Warnf("[Relay] 无法解析总线消息: %v", err)
					continue
				}
				onDelivery(d)
			}
		}
	}()
	log.Infof("[Relay] 已订阅 Redis 频道 %s", b.channel)
	return nil
}

func (b *RedisBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.sub == nil {
		return nil
	}
	err := b.sub.Close()
	b.sub = nil
	return err
}
