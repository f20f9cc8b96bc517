package reconcile

import (
	"sort"

	"stevedore/internal/models"
)

// Sync budget bounds. The scrape provider is priced per item processed, so
// the per-subject limit is clamped to a sane range.
const (
	MinSyncLimit     = 10
	MaxSyncLimit     = 200
	DefaultSyncLimit = 50
)

// ClampSyncLimit bounds a configured per-subject item limit
func ClampSyncLimit(limit int) int {
	if limit <= 0 {
		return DefaultSyncLimit
	}
	if limit < MinSyncLimit {
		return MinSyncLimit
	}
	if limit > MaxSyncLimit {
		return MaxSyncLimit
	}
	return limit
}

// SelectTop ranks items descending by views and truncates to limit, spending
// the sync budget on the subject's best-performing content rather than
// arbitrary recency order. The sort is stable: ties keep provider order.
func SelectTop(items []models.ExternalItem, limit int) []models.ExternalItem {
	out := make([]models.ExternalItem, len(items))
	copy(out, items)

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Metrics.Views > out[j].Metrics.Views
	})

	if limit < len(out) {
		out = out[:limit]
	}
	return out
}
