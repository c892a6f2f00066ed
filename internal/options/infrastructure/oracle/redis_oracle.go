// Package oracle 基于 Redis 的价格预言机适配器。
// 喂价进程把现货价写入 Redis，本适配器只读。
package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/lmckeown27/avila-protocol-testnet-sub003/internal/options/domain"
)

const (
	spotKeyPrefix    = "options:oracle:spot:"
	historyKeyPrefix = "options:oracle:history:"
)

// RedisOracle 实现 domain.PriceOracle
type RedisOracle struct {
	client redis.UniversalClient
}

func NewRedisOracle(client redis.UniversalClient) *RedisOracle {
	return &RedisOracle{client: client}
}

type spotPayload struct {
	Price     decimal.Decimal `json:"price"`
	Timestamp int64           `json:"timestamp"`
}

// GetCurrentPrice 读取单条原子的 (price, timestamp) 现货价
func (o *RedisOracle) GetCurrentPrice(ctx context.Context, asset string) (domain.PricePoint, error) {
	raw, err := o.client.Get(ctx, spotKeyPrefix+asset).Bytes()
	if err != nil {
		if err == redis.Nil {
			return domain.PricePoint{}, fmt.Errorf("no spot price for %s", asset)
		}
		return domain.PricePoint{}, fmt.Errorf("read spot price: %w", err)
	}

	var payload spotPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return domain.PricePoint{}, fmt.Errorf("decode spot price: %w", err)
	}
	return domain.PricePoint{
		Price:     payload.Price,
		Timestamp: time.Unix(payload.Timestamp, 0).UTC(),
	}, nil
}

// GetSettlementPrice 对窗口内的历史报价取等权平均作为 TWAP 结算价。
// 历史报价存于 sorted set，score 为 unix 秒，member 为 "price@unix"。
func (o *RedisOracle) GetSettlementPrice(ctx context.Context, asset string, windowStart, windowEnd time.Time) (decimal.Decimal, error) {
	members, err := o.client.ZRangeByScore(ctx, historyKeyPrefix+asset, &redis.ZRangeBy{
		Min: strconv.FormatInt(windowStart.Unix(), 10),
		Max: strconv.FormatInt(windowEnd.Unix(), 10),
	}).Result()
	if err != nil {
		return decimal.Zero, fmt.Errorf("read price history: %w", err)
	}
	if len(members) == 0 {
		return decimal.Zero, fmt.Errorf("no price samples for %s in window", asset)
	}

	sum := decimal.Zero
	for _, member := range members {
		priceStr := member
		if at := strings.IndexByte(member, '@'); at >= 0 {
			priceStr = member[:at]
		}
		price, err := decimal.NewFromString(priceStr)
		if err != nil {
			return decimal.Zero, fmt.Errorf("decode price sample %q: %w", member, err)
		}
		sum = sum.Add(price)
	}
	return sum.Div(decimal.NewFromInt(int64(len(members)))), nil
}
