package store

import (
	"context"
	"slices"
	"time"

	"github.com/bitechdev/tagstream/pkg/cache"
	"github.com/bitechdev/tagstream/pkg/logger"
)

// HistorySource loads stored samples for a set of tags
type HistorySource interface {
	HistoricalTagData(ctx context.Context, tagIDs []int64, start, end time.Time) ([]HistoryPoint, error)
}

// CachedHistory memoizes history lookups. Entries are keyed by the sorted
// tag set and the time window, so every session opening the same card
// within ttl shares one query.
type CachedHistory struct {
	source HistorySource
	cache  *cache.Cache
	ttl    time.Duration
}

// NewCachedHistory wraps source. ttl <= 0 means cache.DefaultTTL.
func NewCachedHistory(source HistorySource, c *cache.Cache, ttl time.Duration) *CachedHistory {
	if ttl <= 0 {
		ttl = cache.DefaultTTL
	}
	return &CachedHistory{source: source, cache: c, ttl: ttl}
}

func (h *CachedHistory) HistoricalTagData(ctx context.Context, tagIDs []int64, start, end time.Time) ([]HistoryPoint, error) {
	if h.cache == nil {
		return h.source.HistoricalTagData(ctx, tagIDs, start, end)
	}

	key := historyKey(tagIDs, start, end)
	return cache.GetOrLoad(ctx, h.cache, key, h.ttl, func(ctx context.Context) ([]HistoryPoint, error) {
		logger.Debug("[Store] History cache miss for %d tags", len(tagIDs))
		return h.source.HistoricalTagData(ctx, tagIDs, start, end)
	})
}

func historyKey(tagIDs []int64, start, end time.Time) string {
	sorted := slices.Clone(tagIDs)
	slices.Sort(sorted)
	sorted = slices.Compact(sorted)
	return cache.BuildKey("history", sorted, start.UTC().Format(time.RFC3339Nano), end.UTC().Format(time.RFC3339Nano))
}
