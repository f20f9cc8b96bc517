package scrape

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// ErrBudgetExhausted is returned when a subject has used its daily provider
// request allowance. The run aborts before any provider call is issued.
var ErrBudgetExhausted = errors.New("provider request budget exhausted")

// DefaultDailyRequests is the default per-subject provider call allowance
// per UTC day.
const DefaultDailyRequests = 24

// budget keys outlive the day they count so a late reader can still see
// yesterday's usage
const budgetKeyTTL = 48 * time.Hour

// RedisRequestBudget counts provider requests per subject per UTC day in
// Redis. The counter is shared between replicas, so concurrent runs draw
// from the same allowance.
type RedisRequestBudget struct {
	client goredis.UniversalClient
	limit  int64
}

// NewRedisRequestBudget creates a request budget with the given daily limit
func NewRedisRequestBudget(client goredis.UniversalClient, dailyLimit int) *RedisRequestBudget {
	if dailyLimit <= 0 {
		dailyLimit = DefaultDailyRequests
	}
	return &RedisRequestBudget{client: client, limit: int64(dailyLimit)}
}

// Consume takes one request from the subject's daily allowance. Returns
// ErrBudgetExhausted when the allowance is spent.
func (b *RedisRequestBudget) Consume(ctx context.Context, subjectID string) error {
	key := fmt.Sprintf("stevedore:scrape_budget:%s:%s", subjectID, time.Now().UTC().Format("2006-01-02"))

	count, err := b.client.Incr(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("increment request budget: %w", err)
	}
	if count == 1 {
		// First request of the day sets the key's lifetime
		if err := b.client.Expire(ctx, key, budgetKeyTTL).Err(); err != nil {
			return fmt.Errorf("set budget key expiry: %w", err)
		}
	}

	if count > b.limit {
		return fmt.Errorf("%w: %d/%d requests used today", ErrBudgetExhausted, count, b.limit)
	}
	return nil
}
