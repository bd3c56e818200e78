package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/portfolio-assistant/backend/pkg/logger"
)

const instructionKey = "instruction:live"

// Client caches the synthesized system instruction and, optionally, answers
// keyed by question hash. Both caches are invalidated whenever the insight
// set or the operator override changes.
type Client struct {
	client *redis.Client
}

func NewClient(host string, port int, password string, db int) (*Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", host, port),
		Password: password,
		DB:       db,
	})

	ctx := context.Background()
	_, err := client.Ping(ctx).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	logger.Info("Redis client initialized", zap.String("addr", fmt.Sprintf("%s:%d", host, port)))

	return &Client{client: client}, nil
}

func (c *Client) Close() error {
	return c.client.Close()
}

func (c *Client) SetInstruction(ctx context.Context, text string, ttl time.Duration) error {
	err := c.client.Set(ctx, instructionKey, text, ttl).Err()
	if err != nil {
		return fmt.Errorf("failed to cache instruction: %w", err)
	}

	logger.Debug("Instruction cached", zap.Int("length", len(text)))
	return nil
}

func (c *Client) GetInstruction(ctx context.Context) (string, bool, error) {
	text, err := c.client.Get(ctx, instructionKey).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to get cached instruction: %w", err)
	}

	return text, true, nil
}

func (c *Client) InvalidateInstruction(ctx context.Context) error {
	if err := c.client.Del(ctx, instructionKey).Err(); err != nil {
		return fmt.Errorf("failed to invalidate instruction cache: %w", err)
	}

	logger.Debug("Instruction cache invalidated")
	return nil
}

func (c *Client) SetAnswer(ctx context.Context, questionHash, answer string, ttl time.Duration) error {
	err := c.client.Set(ctx, fmt.Sprintf("answer:%s", questionHash), answer, ttl).Err()
	if err != nil {
		return fmt.Errorf("failed to cache answer: %w", err)
	}

	logger.Debug("Answer cached", zap.String("question_hash", questionHash))
	return nil
}

func (c *Client) GetAnswer(ctx context.Context, questionHash string) (string, bool, error) {
	answer, err := c.client.Get(ctx, fmt.Sprintf("answer:%s", questionHash)).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to get cached answer: %w", err)
	}

	logger.Debug("Answer cache hit", zap.String("question_hash", questionHash))
	return answer, true, nil
}

func (c *Client) InvalidateAnswers(ctx context.Context) error {
	iter := c.client.Scan(ctx, 0, "answer:*", 0).Iterator()
	for iter.Next(ctx) {
		if err := c.client.Del(ctx, iter.Val()).Err(); err != nil {
			logger.Warn("Failed to delete cache key", zap.Error(err))
		}
	}

	if err := iter.Err(); err != nil {
		return fmt.Errorf("failed to iterate cache keys: %w", err)
	}

	logger.Info("Answer cache invalidated")
	return nil
}
