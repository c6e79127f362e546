package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"

	"attendance-bridge/internal/config"
)

// Message types
const (
	TypePunch      = "attendance.punch"
	TypeSyncResult = "device.sync"
)

// maxRetries is how often Consume re-queues a failing message before it
// goes to the dead letter list.
const maxRetries = 3

// Message represents a queue message
type Message struct {
	ID        string                 `json:"id"`
	Type      string                 `json:"type"`
	DeviceID  string                 `json:"device_id,omitempty"`
	Data      map[string]interface{} `json:"data"`
	Timestamp time.Time              `json:"timestamp"`
	Retries   int                    `json:"retries"`
	Signature string                 `json:"signature,omitempty"`
}

// RedisQueue publishes bridge output to a Redis list
type RedisQueue struct {
	client *redis.Client
	name   string
	signer *Signer
	logger logrus.FieldLogger
}

// NewRedisQueue connects to Redis and checks the connection
func NewRedisQueue(ctx context.Context, cfg config.RedisConfig, logger logrus.FieldLogger) (*RedisQueue, error) {
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisQueue{
		client: client,
		name:   cfg.Queue,
		signer: NewSigner(cfg.SigningKey),
		logger: logger.WithField("component", "queue"),
	}, nil
}

// Close closes the Redis connection
func (q *RedisQueue) Close() error {
	return q.client.Close()
}

// Name returns the list messages are pushed to
func (q *RedisQueue) Name() string {
	return q.name
}

// Publish pushes a message onto the queue
func (q *RedisQueue) Publish(ctx context.Context, message *Message) error {
	return q.publishTo(ctx, q.name, message)
}

func (q *RedisQueue) publishTo(ctx context.Context, list string, message *Message) error {
	if message.Timestamp.IsZero() {
		message.Timestamp = time.Now()
	}
	if q.signer != nil && message.Signature == "" {
		if err := q.signer.Sign(message); err != nil {
			return err
		}
	}

	data, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	if err := q.client.LPush(ctx, list, data).Err(); err != nil {
		return fmt.Errorf("failed to publish message %s: %w", message.ID, err)
	}
	return nil
}

// Consume pops messages and hands them to handler until ctx is done.
// With a signing key, messages that fail verification are dropped.
// Failing messages are retried through the queue, then dead-lettered.
func (q *RedisQueue) Consume(ctx context.Context, handler func(*Message) error) error {
	for {
		result, err := q.client.BRPop(ctx, time.Second, q.name).Result()
		if err != nil {
			if err == redis.Nil {
				continue
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("failed to receive message: %w", err)
		}

		if len(result) < 2 {
			continue
		}

		var message Message
		if err := json.Unmarshal([]byte(result[1]), &message); err != nil {
			q.logger.WithError(err).Warn("Dropping malformed queue message")
			continue
		}

		if q.signer != nil {
			if err := q.signer.Verify(&message); err != nil {
				q.logger.WithError(err).WithField("message_id", message.ID).Warn("Dropping unsigned queue message")
				continue
			}
		}

		if err := handler(&message); err != nil {
			q.logger.WithError(err).WithField("message_id", message.ID).Warn("Failed to process message")

			message.Retries++
			target := q.name
			if message.Retries >= maxRetries {
				target = q.name + ":dlq"
			}
			if err := q.publishTo(ctx, target, &message); err != nil {
				q.logger.WithError(err).WithField("message_id", message.ID).Error("Failed to re-queue message")
			}
		}
	}
}

// Length returns the number of messages waiting
func (q *RedisQueue) Length(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, q.name).Result()
}

// Health checks the Redis connection health
func (q *RedisQueue) Health(ctx context.Context) error {
	return q.client.Ping(ctx).Err()
}
