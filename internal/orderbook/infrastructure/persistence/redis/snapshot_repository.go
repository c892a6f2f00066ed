// Package redis 订单簿深度快照的 Redis 仓储实现
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

// DepthSnapshot 序列化后的深度快照
type DepthSnapshot struct {
	SeriesID  uint64       `json:"series_id"`
	Bids      []DepthLevel `json:"bids"`
	Asks      []DepthLevel `json:"asks"`
	Timestamp int64        `json:"timestamp"`
}

// DepthLevel 单档价格与数量
type DepthLevel struct {
	Price    decimal.Decimal `json:"price"`
	Quantity decimal.Decimal `json:"quantity"`
}

type SnapshotRepository struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

func NewSnapshotRepository(client redis.UniversalClient) *SnapshotRepository {
	return &SnapshotRepository{
		client: client,
		prefix: "options:orderbook:",
		ttl:    2 * time.Second,
	}
}

// SaveDepth 写入两侧深度，带短 TTL，仅作行情缓存
func (r *SnapshotRepository) SaveDepth(ctx context.Context, seriesID uint64, bids, asks [][2]decimal.Decimal) error {
	snapshot := DepthSnapshot{
		SeriesID:  seriesID,
		Bids:      toLevels(bids),
		Asks:      toLevels(asks),
		Timestamp: time.Now().Unix(),
	}
	data, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("failed to marshal depth snapshot: %w", err)
	}
	return r.client.Set(ctx, r.key(seriesID), data, r.ttl).Err()
}

// LoadDepth 读取快照；缓存未命中时 ok 为 false
func (r *SnapshotRepository) LoadDepth(ctx context.Context, seriesID uint64) (bids, asks [][2]decimal.Decimal, ok bool, err error) {
	data, err := r.client.Get(ctx, r.key(seriesID)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, nil, false, nil
		}
		return nil, nil, false, fmt.Errorf("failed to get depth snapshot from redis: %w", err)
	}
	var snapshot DepthSnapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return nil, nil, false, fmt.Errorf("failed to unmarshal depth snapshot: %w", err)
	}
	return fromLevels(snapshot.Bids), fromLevels(snapshot.Asks), true, nil
}

func (r *SnapshotRepository) key(seriesID uint64) string {
	return fmt.Sprintf("%s%d", r.prefix, seriesID)
}

func toLevels(levels [][2]decimal.Decimal) []DepthLevel {
	out := make([]DepthLevel, 0, len(levels))
	for _, l := range levels {
		out = append(out, DepthLevel{Price: l[0], Quantity: l[1]})
	}
	return out
}

func fromLevels(levels []DepthLevel) [][2]decimal.Decimal {
	out := make([][2]decimal.Decimal, 0, len(levels))
	for _, l := range levels {
		out = append(out, [2]decimal.Decimal{l.Price, l.Quantity})
	}
	return out
}
