package storage

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// Reports is the report persistence surface used by the scheduler and API.
type Reports interface {
	SaveReport(ctx context.Context, r Report) error
	LatestReport(ctx context.Context, typ string) (Report, error)
	GetReport(ctx context.Context, id string) (Report, error)
	ListReports(ctx context.Context, typ string, limit int) ([]Report, error)
}

// CachedStore keeps the latest report per type in an expiring LRU. Reads of
// the dashboard endpoints hit the cache; SaveReport invalidates the type.
// The TTL bounds staleness when another process writes the same table.
type CachedStore struct {
	next   Reports
	latest *expirable.LRU[string, Report]
}

// NewCachedStore wraps next. size <= 0 defaults to 16, ttl <= 0 to one minute.
func NewCachedStore(next Reports, size int, ttl time.Duration) *CachedStore {
	if size <= 0 {
		size = 16
	}
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &CachedStore{
		next:   next,
		latest: expirable.NewLRU[string, Report](size, nil, ttl),
	}
}

func (c *CachedStore) SaveReport(ctx context.Context, r Report) error {
	c.latest.Remove(r.Type)
	if err := c.next.SaveReport(ctx, r); err != nil {
		return err
	}
	c.latest.Remove(r.Type)
	return nil
}

func (c *CachedStore) LatestReport(ctx context.Context, typ string) (Report, error) {
	if r, ok := c.latest.Get(typ); ok {
		return r, nil
	}
	r, err := c.next.LatestReport(ctx, typ)
	if err != nil {
		return Report{}, err
	}
	c.latest.Add(typ, r)
	return r, nil
}

func (c *CachedStore) GetReport(ctx context.Context, id string) (Report, error) {
	return c.next.GetReport(ctx, id)
}

func (c *CachedStore) ListReports(ctx context.Context, typ string, limit int) ([]Report, error) {
	return c.next.ListReports(ctx, typ, limit)
}
