package domain

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	r := NewRegistry(DefaultLimits())
	require.NoError(t, r.CreateBook(1))
	return r
}

func d(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

// 校验 sum(remaining) == totalVolume 的不变量
func assertVolumeInvariant(t *testing.T, r *Registry, seriesID uint64) {
	t.Helper()
	state, err := r.GetState(seriesID)
	require.NoError(t, err)

	bidSum, askSum := decimal.Zero, decimal.Zero
	for _, ref := range r.orders {
		if ref.order.SeriesID != seriesID {
			continue
		}
		if ref.order.Side == SideBid {
			bidSum = bidSum.Add(ref.order.RemainingQuantity)
		} else {
			askSum = askSum.Add(ref.order.RemainingQuantity)
		}
	}
	assert.True(t, state.TotalBidVolume.Equal(bidSum), "bid volume %s != sum %s", state.TotalBidVolume, bidSum)
	assert.True(t, state.TotalAskVolume.Equal(askSum), "ask volume %s != sum %s", state.TotalAskVolume, askSum)
}

func TestCreateBookTwice(t *testing.T) {
	r := newTestRegistry(t)
	assert.ErrorIs(t, r.CreateBook(1), ErrBookExists)
}

func TestPlaceOrderValidation(t *testing.T) {
	r := newTestRegistry(t)

	_, err := r.PlaceOrder(99, "alice", SideBid, d(10), d(1))
	assert.ErrorIs(t, err, ErrBookNotFound)

	_, err = r.PlaceOrder(1, "alice", "SIDEWAYS", d(10), d(1))
	assert.ErrorIs(t, err, ErrInvalidSide)

	_, err = r.PlaceOrder(1, "alice", SideBid, d(-5), d(1))
	assert.ErrorIs(t, err, ErrInvalidPrice)

	_, err = r.PlaceOrder(1, "alice", SideBid, d(10), decimal.Zero)
	assert.ErrorIs(t, err, ErrInvalidQuantity)
}

func TestPerMakerOpenOrderCap(t *testing.T) {
	limits := DefaultLimits()
	limits.MaxOpenOrders = 3
	r := NewRegistry(limits)
	require.NoError(t, r.CreateBook(1))

	for i := 0; i < 3; i++ {
		_, err := r.PlaceOrder(1, "alice", SideBid, d(10), d(1))
		require.NoError(t, err)
	}
	_, err := r.PlaceOrder(1, "alice", SideBid, d(10), d(1))
	assert.ErrorIs(t, err, ErrOpenOrderCapHit)

	// 其他 maker 不受影响
	_, err = r.PlaceOrder(1, "bob", SideBid, d(10), d(1))
	assert.NoError(t, err)
}

func TestCancelOrder(t *testing.T) {
	r := newTestRegistry(t)

	id, err := r.PlaceOrder(1, "alice", SideBid, d(95), d(5))
	require.NoError(t, err)

	assert.ErrorIs(t, r.CancelOrder(id, "mallory"), ErrUnauthorized)
	assert.NoError(t, r.CancelOrder(id, "alice"))
	// 已移除的订单再次撤单：NotFound，绝不双重移除
	assert.ErrorIs(t, r.CancelOrder(id, "alice"), ErrOrderNotFound)
	assertVolumeInvariant(t, r, 1)
}

// 盘口价在最优档撤单后必须重新推导，不允许陈旧值
func TestBestPriceAfterCancelTopOfBook(t *testing.T) {
	r := newTestRegistry(t)

	best, _ := r.PlaceOrder(1, "alice", SideBid, d(100), d(1))
	_, err := r.PlaceOrder(1, "bob", SideBid, d(98), d(2))
	require.NoError(t, err)

	state, _ := r.GetState(1)
	assert.True(t, state.BestBid.Equal(d(100)))

	require.NoError(t, r.CancelOrder(best, "alice"))
	state, _ = r.GetState(1)
	require.True(t, state.HasBid)
	assert.True(t, state.BestBid.Equal(d(98)), "stale best bid: %s", state.BestBid)
	assertVolumeInvariant(t, r, 1)
}

func TestMatchPriceTimePriority(t *testing.T) {
	r := newTestRegistry(t)

	// 三张卖单：价格优先 97 < 98；98 档内 bob 先于 carol
	_, err := r.PlaceOrder(1, "dave", SideAsk, d(98), d(4))
	require.NoError(t, err)
	low, err := r.PlaceOrder(1, "erin", SideAsk, d(97), d(2))
	require.NoError(t, err)
	_, err = r.PlaceOrder(1, "carol", SideAsk, d(98), d(4))
	require.NoError(t, err)

	taker, err := r.PlaceOrder(1, "alice", SideBid, d(98), d(7))
	require.NoError(t, err)

	fills, err := r.MatchOrders(taker, nil)
	require.NoError(t, err)
	require.Len(t, fills, 3)

	// 最优价 97 先成交
	assert.Equal(t, low, fills[0].MakerOrderID)
	assert.True(t, fills[0].Price.Equal(d(97)))
	assert.True(t, fills[0].Quantity.Equal(d(2)))

	// 98 档内时间优先：dave 先于 carol
	assert.Equal(t, "dave", fills[1].Seller)
	assert.True(t, fills[1].Quantity.Equal(d(4)))
	assert.Equal(t, "carol", fills[2].Seller)
	assert.True(t, fills[2].Quantity.Equal(d(1)))

	// taker 全部成交后离开簿
	_, err = r.GetOrder(taker)
	assert.ErrorIs(t, err, ErrOrderNotFound)

	// carol 剩余 3 张驻留
	carol := r.GetUserActiveOrders("carol")
	require.Len(t, carol, 1)
	assert.True(t, carol[0].RemainingQuantity.Equal(d(3)))

	assertVolumeInvariant(t, r, 1)
}

// 买单只能与价格 <= 买价的卖单成交
func TestMatchRespectsPriceBoundary(t *testing.T) {
	r := newTestRegistry(t)

	_, err := r.PlaceOrder(1, "erin", SideAsk, d(105), d(5))
	require.NoError(t, err)

	taker, err := r.PlaceOrder(1, "alice", SideBid, d(100), d(5))
	require.NoError(t, err)

	fills, err := r.MatchOrders(taker, nil)
	require.NoError(t, err)
	assert.Empty(t, fills)

	// 两张单都还驻留
	state, _ := r.GetState(1)
	assert.True(t, state.TotalBidVolume.Equal(d(5)))
	assert.True(t, state.TotalAskVolume.Equal(d(5)))
}

func TestMatchAskTaker(t *testing.T) {
	r := newTestRegistry(t)

	_, err := r.PlaceOrder(1, "alice", SideBid, d(101), d(3))
	require.NoError(t, err)
	_, err = r.PlaceOrder(1, "bob", SideBid, d(100), d(3))
	require.NoError(t, err)

	taker, err := r.PlaceOrder(1, "erin", SideAsk, d(100), d(5))
	require.NoError(t, err)

	fills, err := r.MatchOrders(taker, nil)
	require.NoError(t, err)
	require.Len(t, fills, 2)

	// 最高买价先成交，成交价取驻留单价格
	assert.True(t, fills[0].Price.Equal(d(101)))
	assert.Equal(t, "alice", fills[0].Buyer)
	assert.Equal(t, "erin", fills[0].Seller)
	assert.True(t, fills[1].Price.Equal(d(100)))
	assert.True(t, fills[1].Quantity.Equal(d(2)))

	assertVolumeInvariant(t, r, 1)
}

// 记账回调失败时簿必须保持原状
func TestMatchAbortsOnBookerFailure(t *testing.T) {
	r := newTestRegistry(t)

	_, err := r.PlaceOrder(1, "erin", SideAsk, d(97), d(2))
	require.NoError(t, err)
	taker, err := r.PlaceOrder(1, "alice", SideBid, d(98), d(2))
	require.NoError(t, err)

	before, _ := r.GetState(1)
	bookErr := errors.New("margin check failed")

	fills, err := r.MatchOrders(taker, func(Fill) error { return bookErr })
	assert.ErrorIs(t, err, bookErr)
	assert.Nil(t, fills)

	after, _ := r.GetState(1)
	assert.True(t, after.TotalBidVolume.Equal(before.TotalBidVolume))
	assert.True(t, after.TotalAskVolume.Equal(before.TotalAskVolume))

	// 订单仍可撤
	assert.NoError(t, r.CancelOrder(taker, "alice"))
}

func TestStatsAccrue(t *testing.T) {
	r := newTestRegistry(t)

	_, err := r.PlaceOrder(1, "erin", SideAsk, d(100), d(10))
	require.NoError(t, err)
	taker, err := r.PlaceOrder(1, "alice", SideBid, d(100), d(10))
	require.NoError(t, err)

	_, err = r.MatchOrders(taker, nil)
	require.NoError(t, err)

	stats := r.Stats()
	assert.Equal(t, int64(1), stats.TradesMatched)
	assert.True(t, stats.VolumeNotional.Equal(d(1000)))
	assert.True(t, stats.FeesAccrued.Equal(d(1000).Mul(DefaultLimits().FeeRate)))
}

// 随机化一组挂单/撤单/撮合后复核体量不变量
func TestVolumeInvariantAfterMixedOps(t *testing.T) {
	r := newTestRegistry(t)

	var ids []uint64
	for i := int64(1); i <= 10; i++ {
		id, err := r.PlaceOrder(1, "maker", SideBid, d(90+i), d(i))
		require.NoError(t, err)
		ids = append(ids, id)
	}
	for i := int64(1); i <= 10; i++ {
		_, err := r.PlaceOrder(1, "writer", SideAsk, d(100+i), d(i))
		require.NoError(t, err)
	}

	require.NoError(t, r.CancelOrder(ids[3], "maker"))
	require.NoError(t, r.CancelOrder(ids[7], "maker"))

	taker, err := r.PlaceOrder(1, "taker", SideBid, d(103), d(9))
	require.NoError(t, err)
	_, err = r.MatchOrders(taker, nil)
	require.NoError(t, err)

	assertVolumeInvariant(t, r, 1)
}

func TestDepth(t *testing.T) {
	r := newTestRegistry(t)

	_, _ = r.PlaceOrder(1, "a", SideBid, d(100), d(1))
	_, _ = r.PlaceOrder(1, "b", SideBid, d(100), d(2))
	_, _ = r.PlaceOrder(1, "c", SideBid, d(99), d(3))
	_, _ = r.PlaceOrder(1, "e", SideAsk, d(101), d(4))

	bids, asks, err := r.Depth(1, 5)
	require.NoError(t, err)
	require.Len(t, bids, 2)
	assert.True(t, bids[0][0].Equal(d(100)))
	assert.True(t, bids[0][1].Equal(d(3)), "level qty aggregated")
	require.Len(t, asks, 1)
	assert.True(t, asks[0][0].Equal(d(101)))
}
