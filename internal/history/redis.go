package history

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"vod-publisher/internal/domain"
)

const (
	successKeyPrefix = "history:success:"
	failureKeyPrefix = "history:failure:"
)

// RedisCache implements Cache on Redis lists. Append-then-trim runs as a
// single pipelined LPUSH+LTRIM, so the exactly-N bound holds under
// concurrent recorders without any client-side locking.
type RedisCache struct {
	client redis.UniversalClient
	logger *slog.Logger
}

// NewRedisCache creates a RedisCache on the given client.
func NewRedisCache(client redis.UniversalClient, logger *slog.Logger) *RedisCache {
	return &RedisCache{
		client: client,
		logger: logger,
	}
}

// RecordSuccess appends to the channel's success log and trims it.
func (c *RedisCache) RecordSuccess(ctx context.Context, entry domain.HistoryEntry) error {
	return c.record(ctx, successKeyPrefix+entry.ChannelID, entry)
}

// RecordFailure appends to the channel's failure log and trims it.
func (c *RedisCache) RecordFailure(ctx context.Context, entry domain.HistoryEntry) error {
	return c.record(ctx, failureKeyPrefix+entry.ChannelID, entry)
}

func (c *RedisCache) record(ctx context.Context, key string, entry domain.HistoryEntry) error {
	payload, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to encode history entry: %w", err)
	}

	pipe := c.client.TxPipeline()
	pipe.LPush(ctx, key, payload)
	pipe.LTrim(ctx, key, 0, domain.HistoryMaxEntries-1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("%w: failed to record history entry: %v", domain.ErrStorageFailure, err)
	}

	c.logger.Debug("History entry recorded",
		slog.String("key", key),
		slog.String("job_id", entry.JobID),
	)

	return nil
}

// ListSuccess returns the channel's success log, most recent first.
func (c *RedisCache) ListSuccess(ctx context.Context, channelID string) ([]domain.HistoryEntry, error) {
	return c.list(ctx, successKeyPrefix+channelID)
}

// ListFailure returns the channel's failure log, most recent first.
func (c *RedisCache) ListFailure(ctx context.Context, channelID string) ([]domain.HistoryEntry, error) {
	return c.list(ctx, failureKeyPrefix+channelID)
}

func (c *RedisCache) list(ctx context.Context, key string) ([]domain.HistoryEntry, error) {
	raw, err := c.client.LRange(ctx, key, 0, domain.HistoryMaxEntries-1).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read history: %v", domain.ErrStorageFailure, err)
	}

	entries := make([]domain.HistoryEntry, 0, len(raw))
	for _, item := range raw {
		var entry domain.HistoryEntry
		if err := json.Unmarshal([]byte(item), &entry); err != nil {
			c.logger.Warn("Skipping undecodable history entry",
				slog.String("key", key),
				slog.String("error", err.Error()),
			)
			continue
		}
		entries = append(entries, entry)
	}

	return entries, nil
}

// ReplaceSuccess atomically swaps the channel's success log.
func (c *RedisCache) ReplaceSuccess(ctx context.Context, channelID string, entries []domain.HistoryEntry) error {
	key := successKeyPrefix + channelID

	if len(entries) > domain.HistoryMaxEntries {
		entries = entries[:domain.HistoryMaxEntries]
	}

	pipe := c.client.TxPipeline()
	pipe.Del(ctx, key)
	// RPUSH keeps the given order, which is already most recent first.
	for _, entry := range entries {
		payload, err := json.Marshal(entry)
		if err != nil {
			return fmt.Errorf("failed to encode history entry: %w", err)
		}
		pipe.RPush(ctx, key, payload)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("%w: failed to replace history: %v", domain.ErrStorageFailure, err)
	}

	c.logger.Info("History success log replaced",
		slog.String("channel_id", channelID),
		slog.Int("entries", len(entries)),
	)

	return nil
}
