package history

import (
	"context"
	"sync"

	"vod-publisher/internal/domain"
)

// MemoryCache is an in-process Cache with the same append-then-trim
// semantics as the Redis implementation. It backs tests and single-node
// setups that run without Redis.
type MemoryCache struct {
	mu        sync.Mutex
	successes map[string][]domain.HistoryEntry
	failures  map[string][]domain.HistoryEntry
}

// NewMemoryCache creates an empty MemoryCache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{
		successes: make(map[string][]domain.HistoryEntry),
		failures:  make(map[string][]domain.HistoryEntry),
	}
}

// RecordSuccess appends to the channel's success log and trims it.
func (c *MemoryCache) RecordSuccess(_ context.Context, entry domain.HistoryEntry) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.successes[entry.ChannelID] = prependTrim(c.successes[entry.ChannelID], entry)
	return nil
}

// RecordFailure appends to the channel's failure log and trims it.
func (c *MemoryCache) RecordFailure(_ context.Context, entry domain.HistoryEntry) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failures[entry.ChannelID] = prependTrim(c.failures[entry.ChannelID], entry)
	return nil
}

func prependTrim(log []domain.HistoryEntry, entry domain.HistoryEntry) []domain.HistoryEntry {
	log = append([]domain.HistoryEntry{entry}, log...)
	if len(log) > domain.HistoryMaxEntries {
		log = log[:domain.HistoryMaxEntries]
	}
	return log
}

// ListSuccess returns the channel's success log, most recent first.
func (c *MemoryCache) ListSuccess(_ context.Context, channelID string) ([]domain.HistoryEntry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]domain.HistoryEntry(nil), c.successes[channelID]...), nil
}

// ListFailure returns the channel's failure log, most recent first.
func (c *MemoryCache) ListFailure(_ context.Context, channelID string) ([]domain.HistoryEntry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]domain.HistoryEntry(nil), c.failures[channelID]...), nil
}

// ReplaceSuccess swaps the channel's success log.
func (c *MemoryCache) ReplaceSuccess(_ context.Context, channelID string, entries []domain.HistoryEntry) error {
	if len(entries) > domain.HistoryMaxEntries {
		entries = entries[:domain.HistoryMaxEntries]
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.successes[channelID] = append([]domain.HistoryEntry(nil), entries...)
	return nil
}
