// Package kafka 提供了与 Kafka 消息队列交互的功能。
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/segmentio/kafka-go"
	"mind-namo-go/internal/config"
	"mind-namo-go/pkg/log"
	"mind-namo-go/pkg/tasks"
)

const (
	// maxAttempts 是单个任务的最大处理次数，超过后提交 offset 放弃重试。
	maxAttempts = 3
	// retryBackoff 是第一次重试前的等待时间，之后逐次翻倍。
	retryBackoff = 500 * time.Millisecond
)

// TaskProcessor defines the interface for any service that can process a task.
// This decouples the Kafka consumer from the concrete pipeline implementation.
type TaskProcessor interface {
	Process(ctx context.Context, task tasks.Task) error
}

// AttemptCounter 记录任务的失败次数。
type AttemptCounter interface {
	Incr(ctx context.Context, taskID string) (int64, error)
	Reset(ctx context.Context, taskID string) error
}

// Producer 把任务写入 Kafka 主题。
type Producer struct {
	writer *kafka.Writer
}

func brokers(cfg config.KafkaConfig) []string {
	var out []string
	for _, b := range strings.Split(cfg.Brokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}

// NewProducer 初始化 Kafka 生产者。同一会话的任务使用相同的 key，保证顺序。
func NewProducer(cfg config.KafkaConfig) *Producer {
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers(cfg)...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
	}
	log.Info("Kafka 生产者初始化成功")
	return &Producer{writer: w}
}

// Publish 发送一个任务到 Kafka。
func (p *Producer) Publish(ctx context.Context, task tasks.Task) error {
	taskBytes, err := json.Marshal(task)
	if err != nil {
		return err
	}
	return p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(task.Key()),
		Value: taskBytes,
	})
}

// Close 刷新并关闭生产者。
func (p *Producer) Close() error {
	return p.writer.Close()
}

// redisAttempts 使用 Redis 计数失败次数，计数 24 小时后过期。
type redisAttempts struct {
	rdb *redis.Client
}

// NewRedisAttempts 创建基于 Redis 的 AttemptCounter。
func NewRedisAttempts(rdb *redis.Client) AttemptCounter {
	return &redisAttempts{rdb: rdb}
}

func attemptsKey(taskID string) string {
	return fmt.Sprintf("kafka:attempts:%s", taskID)
}

func (a *redisAttempts) Incr(ctx context.Context, taskID string) (int64, error) {
	key := attemptsKey(taskID)
	n, err := a.rdb.Incr(ctx, key).Result()
	if err != nil {
		return 0, err
	}
	_ = a.rdb.Expire(ctx, key, 24*time.Hour).Err()
	return n, nil
}

func (a *redisAttempts) Reset(ctx context.Context, taskID string) error {
	return a.rdb.Del(ctx, attemptsKey(taskID)).Err()
}

// StartConsumer 启动一个 Kafka 消费者来处理任务，ctx 取消时返回。
func StartConsumer(ctx context.Context, cfg config.KafkaConfig, attempts AttemptCounter, processor TaskProcessor) {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers(cfg),
		Topic:    cfg.Topic,
		GroupID:  cfg.GroupID,
		MinBytes: 1,
		MaxBytes: 10e6, // 10MB
	})

	log.Infof("Kafka 消费者已启动，正在监听主题 '%s'", cfg.Topic)

	for {
		m, err := r.FetchMessage(ctx)
		if err != nil {
			if !errors.Is(err, context.Canceled) {
				log.Error("从 Kafka 读取消息失败", err)
			}
			break
		}

		log.Debugf("收到 Kafka 消息: offset %d", m.Offset)
		if handle(ctx, m.Value, attempts, processor, retryBackoff) {
			if err := r.CommitMessages(ctx, m); err != nil {
				log.Errorf("提交 Kafka 消息 offset 失败: %v", err)
			}
		}
	}

	if err := r.Close(); err != nil {
		log.Errorf("关闭 Kafka 消费者失败: %v", err)
	}
}

// handle 处理一条消息，返回是否应提交 offset。
// 处理失败时在进程内按指数退避重试同一条消息，累计失败达到 maxAttempts 后提交并放弃。
// 失败次数记在 Redis 中，消费者重启后继续累计；Redis 不可用时退回本地计数。
// 只有在退避期间 ctx 被取消时才不提交，由下一个消费者重新投递。
func handle(ctx context.Context, value []byte, attempts AttemptCounter, processor TaskProcessor, backoff time.Duration) bool {
	var task tasks.Task
	if err := json.Unmarshal(value, &task); err != nil || task.ID == "" {
		log.Errorf("无法解析 Kafka 消息: %v, value: %s", err, string(value))
		return true
	}

	var local int64
	for {
		err := processor.Process(ctx, task)
		if err == nil {
			log.Infof("任务处理成功: id=%s type=%s", task.ID, task.Type)
			_ = attempts.Reset(ctx, task.ID)
			return true
		}
		local++
		log.Errorf("处理任务失败: id=%s type=%s attempt=%d, Error: %v", task.ID, task.Type, local, err)

		n, incErr := attempts.Incr(ctx, task.ID)
		if incErr != nil {
			log.Warnf("记录任务失败次数失败，改用本地计数: %v", incErr)
			n = local
		}
		if n < local {
			n = local
		}
		if n >= maxAttempts {
			log.Errorf("任务多次失败(>=%d)，提交 offset 终止重试: id=%s", maxAttempts, task.ID)
			_ = attempts.Reset(ctx, task.ID)
			return true
		}

		delay := backoff << (n - 1)
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			log.Warnf("等待重试时消费者退出，不提交 offset: id=%s", task.ID)
			return false
		case <-timer.C:
		}
	}
}
