// Package ratelimit caps the number of webhook ingests in flight at
// once. The cap is shared through Redis so it holds across replicas;
// without Redis the cap is simply disabled.
package ratelimit

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"callboard/pkg/utils"
)

const slotTTL = 30 * time.Second

// IngestCap is a Redis-backed concurrency cap. A nil *IngestCap is
// valid and admits everything.
type IngestCap struct {
	rdb   *redis.Client
	key   string
	limit int
}

func NewIngestCap(rdb *redis.Client, key string, limit int) *IngestCap {
	if rdb == nil || limit <= 0 {
		return nil
	}
	return &IngestCap{rdb: rdb, key: key, limit: limit}
}

// Acquire takes one slot. A Redis error admits the request: the cap is
// load shedding, not an auth gate, and must fail open.
func (c *IngestCap) Acquire(ctx context.Context) bool {
	if c == nil {
		return true
	}
	ok, err := utils.AcquireConcurrencyCap(ctx, c.rdb, c.key, c.limit, slotTTL)
	if err != nil {
		return true
	}
	return ok
}

// Release frees a slot taken by Acquire.
func (c *IngestCap) Release(ctx context.Context) {
	if c == nil {
		return
	}
	_ = utils.ReleaseConcurrencyCap(ctx, c.rdb, c.key)
}
