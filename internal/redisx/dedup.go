package redisx

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// KeyWebhookDedup — обработанные webhook-события: dedup:webhook:{provider}:{event_id}.
	KeyWebhookDedup = "dedup:webhook:%s:%s"
)

var (
	TTLWebhookDedup = 24 * time.Hour
)

// Deduper отсекает повторную обработку webhook-событий по их идентификатору.
// Nil-получатель пропускает всё: dedup выключен без redis.
type Deduper struct {
	rdb *redis.Client
}

// NewDeduper создаёт dedup поверх redis-клиента.
func NewDeduper(rdb *redis.Client) *Deduper {
	return &Deduper{rdb: rdb}
}

// Seen атомарно помечает событие обработанным. Возвращает true, если
// событие уже встречалось и его нужно пропустить.
func (d *Deduper) Seen(ctx context.Context, provider, eventID string) (bool, error) {
	if d == nil || d.rdb == nil || eventID == "" {
		return false, nil
	}
	key := fmt.Sprintf(KeyWebhookDedup, provider, eventID)
	stored, err := d.rdb.SetNX(ctx, key, time.Now().UTC().Format(time.RFC3339), TTLWebhookDedup).Result()
	if err != nil {
		return false, fmt.Errorf("redis setnx: %w", err)
	}
	return !stored, nil
}
