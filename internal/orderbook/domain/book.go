package domain

import (
	"container/list"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// priceLevel 同一价格档位的订单队列，队内时间优先 (FIFO)
type priceLevel struct {
	price  decimal.Decimal
	orders *list.List // 存储 *Order
}

func newPriceLevel(price decimal.Decimal) *priceLevel {
	return &priceLevel{price: price, orders: list.New()}
}

func (pl *priceLevel) totalQuantity() decimal.Decimal {
	total := decimal.Zero
	for el := pl.orders.Front(); el != nil; el = el.Next() {
		total = total.Add(el.Value.(*Order).RemainingQuantity)
	}
	return total
}

// bookSide 一侧的价格阶梯。买盘按价格降序、卖盘按升序排列，
// 盘口价永远取阶梯首档，撤单后不会出现过期的 best 价。
type bookSide struct {
	side   Side
	levels []*priceLevel
}

// search 返回 price 应处的下标以及是否已存在该档位
func (bs *bookSide) search(price decimal.Decimal) (int, bool) {
	idx := sort.Search(len(bs.levels), func(i int) bool {
		if bs.side == SideBid {
			return bs.levels[i].price.LessThanOrEqual(price)
		}
		return bs.levels[i].price.GreaterThanOrEqual(price)
	})
	if idx < len(bs.levels) && bs.levels[idx].price.Equal(price) {
		return idx, true
	}
	return idx, false
}

func (bs *bookSide) levelFor(price decimal.Decimal) *priceLevel {
	idx, found := bs.search(price)
	if found {
		return bs.levels[idx]
	}
	level := newPriceLevel(price)
	bs.levels = append(bs.levels, nil)
	copy(bs.levels[idx+1:], bs.levels[idx:])
	bs.levels[idx] = level
	return level
}

func (bs *bookSide) dropIfEmpty(price decimal.Decimal) {
	idx, found := bs.search(price)
	if found && bs.levels[idx].orders.Len() == 0 {
		bs.levels = append(bs.levels[:idx], bs.levels[idx+1:]...)
	}
}

func (bs *bookSide) best() (decimal.Decimal, bool) {
	if len(bs.levels) == 0 {
		return decimal.Zero, false
	}
	return bs.levels[0].price, true
}

// Book 单一期权系列的订单簿
type Book struct {
	seriesID uint64
	bids     *bookSide
	asks     *bookSide

	totalBidVolume decimal.Decimal
	totalAskVolume decimal.Decimal
}

func newBook(seriesID uint64) *Book {
	return &Book{
		seriesID:       seriesID,
		bids:           &bookSide{side: SideBid},
		asks:           &bookSide{side: SideAsk},
		totalBidVolume: decimal.Zero,
		totalAskVolume: decimal.Zero,
	}
}

func (b *Book) sideOf(s Side) *bookSide {
	if s == SideBid {
		return b.bids
	}
	return b.asks
}

func (b *Book) addVolume(s Side, qty decimal.Decimal) {
	if s == SideBid {
		b.totalBidVolume = b.totalBidVolume.Add(qty)
	} else {
		b.totalAskVolume = b.totalAskVolume.Add(qty)
	}
}

// restingRef 驻留订单的快速定位信息
type restingRef struct {
	order *Order
	elem  *list.Element
	level *priceLevel
	book  *Book
}

// Registry 订单簿注册表：持有全部系列的簿、单调递增的订单号
// 与全局成交统计。所有读改写在同一把锁下线性化。
type Registry struct {
	mu          sync.Mutex
	limits      Limits
	books       map[uint64]*Book
	orders      map[uint64]*restingRef
	makerOrders map[string]map[uint64]*Order
	nextOrderID uint64
	stats       Stats
}

// NewRegistry 创建注册表
func NewRegistry(limits Limits) *Registry {
	return &Registry{
		limits:      limits,
		books:       make(map[uint64]*Book),
		orders:      make(map[uint64]*restingRef),
		makerOrders: make(map[string]map[uint64]*Order),
		stats:       Stats{VolumeNotional: decimal.Zero, FeesAccrued: decimal.Zero},
	}
}

// CreateBook 为系列初始化空簿
func (r *Registry) CreateBook(seriesID uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.books[seriesID]; ok {
		return ErrBookExists
	}
	r.books[seriesID] = newBook(seriesID)
	return nil
}

// PlaceOrder 校验边界与挂单上限后将限价单挂入簿中，返回订单号
func (r *Registry) PlaceOrder(seriesID uint64, maker string, side Side, price, quantity decimal.Decimal) (uint64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	book, ok := r.books[seriesID]
	if !ok {
		return 0, ErrBookNotFound
	}
	if side != SideBid && side != SideAsk {
		return 0, ErrInvalidSide
	}
	if err := r.limits.validatePrice(price); err != nil {
		return 0, err
	}
	if err := r.limits.validateQuantity(quantity); err != nil {
		return 0, err
	}
	if len(r.makerOrders[maker]) >= r.limits.MaxOpenOrders {
		return 0, ErrOpenOrderCapHit
	}

	r.nextOrderID++
	order := &Order{
		ID:                r.nextOrderID,
		SeriesID:          seriesID,
		Maker:             maker,
		Side:              side,
		Price:             price,
		RemainingQuantity: quantity,
		CreatedAt:         time.Now(),
	}

	level := book.sideOf(side).levelFor(price)
	elem := level.orders.PushBack(order)
	r.orders[order.ID] = &restingRef{order: order, elem: elem, level: level, book: book}

	if r.makerOrders[maker] == nil {
		r.makerOrders[maker] = make(map[uint64]*Order)
	}
	r.makerOrders[maker][order.ID] = order
	book.addVolume(side, quantity)

	return order.ID, nil
}

// CancelOrder 撤单。订单已被并发撮合吃掉时返回 ErrOrderNotFound，
// 不会发生双重移除。
func (r *Registry) CancelOrder(orderID uint64, maker string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	ref, ok := r.orders[orderID]
	if !ok {
		return ErrOrderNotFound
	}
	if ref.order.Maker != maker {
		return ErrUnauthorized
	}

	r.removeLocked(ref)
	return nil
}

// removeLocked 从簿、档位、maker 索引中移除订单并扣减聚合量
func (r *Registry) removeLocked(ref *restingRef) {
	ref.level.orders.Remove(ref.elem)
	ref.book.sideOf(ref.order.Side).dropIfEmpty(ref.order.Price)
	ref.book.addVolume(ref.order.Side, ref.order.RemainingQuantity.Neg())
	delete(r.orders, ref.order.ID)
	delete(r.makerOrders[ref.order.Maker], ref.order.ID)
	if len(r.makerOrders[ref.order.Maker]) == 0 {
		delete(r.makerOrders, ref.order.Maker)
	}
}

// plannedFill 撮合计划中的一笔成交
type plannedFill struct {
	fill Fill
	ref  *restingRef
}

// MatchOrders 以 takerOrderID 为主动方按价格时间优先撮合。
// visitor 在任何簿状态变更前逐笔回调；任一回调失败则整次撮合作废，
// 簿保持原状（对外部记账失败零部分变更）。
func (r *Registry) MatchOrders(takerOrderID uint64, visitor func(Fill) error) ([]Fill, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	takerRef, ok := r.orders[takerOrderID]
	if !ok {
		return nil, ErrOrderNotFound
	}
	taker := takerRef.order
	book := takerRef.book

	opposite := book.asks
	if taker.Side == SideAsk {
		opposite = book.bids
	}

	// 第一阶段：只读地生成撮合计划
	var planned []plannedFill
	remaining := taker.RemainingQuantity
	now := time.Now()

	for _, level := range opposite.levels {
		if !remaining.IsPositive() {
			break
		}
		if taker.Side == SideBid && level.price.GreaterThan(taker.Price) {
			break
		}
		if taker.Side == SideAsk && level.price.LessThan(taker.Price) {
			break
		}

		for el := level.orders.Front(); el != nil && remaining.IsPositive(); el = el.Next() {
			resting := el.Value.(*Order)
			qty := decimal.Min(remaining, resting.RemainingQuantity)

			fill := Fill{
				SeriesID:     book.seriesID,
				TakerOrderID: taker.ID,
				MakerOrderID: resting.ID,
				Price:        level.price,
				Quantity:     qty,
				MatchedAt:    now,
			}
			if taker.Side == SideBid {
				fill.Buyer, fill.Seller = taker.Maker, resting.Maker
			} else {
				fill.Buyer, fill.Seller = resting.Maker, taker.Maker
			}

			planned = append(planned, plannedFill{fill: fill, ref: r.orders[resting.ID]})
			remaining = remaining.Sub(qty)
		}
	}

	if len(planned) == 0 {
		return nil, nil
	}

	// 第二阶段：外部记账回调，失败即整体作废
	if visitor != nil {
		for _, p := range planned {
			if err := visitor(p.fill); err != nil {
				return nil, err
			}
		}
	}

	// 第三阶段：应用计划到簿
	fills := make([]Fill, 0, len(planned))
	for _, p := range planned {
		resting := p.ref.order
		resting.RemainingQuantity = resting.RemainingQuantity.Sub(p.fill.Quantity)
		p.ref.book.addVolume(resting.Side, p.fill.Quantity.Neg())
		if resting.RemainingQuantity.IsZero() {
			r.removeLocked(p.ref)
		}

		taker.RemainingQuantity = taker.RemainingQuantity.Sub(p.fill.Quantity)
		book.addVolume(taker.Side, p.fill.Quantity.Neg())

		notional := p.fill.Notional()
		r.stats.TradesMatched++
		r.stats.VolumeNotional = r.stats.VolumeNotional.Add(notional)
		r.stats.FeesAccrued = r.stats.FeesAccrued.Add(notional.Mul(r.limits.FeeRate))
		fills = append(fills, p.fill)
	}
	if taker.RemainingQuantity.IsZero() {
		r.removeLocked(takerRef)
	}

	return fills, nil
}

// GetState 返回簿的聚合视图；盘口价每次都从价格阶梯推导
func (r *Registry) GetState(seriesID uint64) (State, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	book, ok := r.books[seriesID]
	if !ok {
		return State{}, ErrBookNotFound
	}

	state := State{
		SeriesID:       seriesID,
		TotalBidVolume: book.totalBidVolume,
		TotalAskVolume: book.totalAskVolume,
	}
	state.BestBid, state.HasBid = book.bids.best()
	state.BestAsk, state.HasAsk = book.asks.best()
	return state, nil
}

// GetOrder 按订单号查询驻留订单副本
func (r *Registry) GetOrder(orderID uint64) (Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ref, ok := r.orders[orderID]
	if !ok {
		return Order{}, ErrOrderNotFound
	}
	return *ref.order, nil
}

// GetUserActiveOrders 返回用户全部驻留订单的副本
func (r *Registry) GetUserActiveOrders(user string) []Order {
	r.mu.Lock()
	defer r.mu.Unlock()

	orders := make([]Order, 0, len(r.makerOrders[user]))
	for _, o := range r.makerOrders[user] {
		orders = append(orders, *o)
	}
	sort.Slice(orders, func(i, j int) bool { return orders[i].ID < orders[j].ID })
	return orders
}

// Depth 返回两侧前 depth 档的价格与数量，供行情快照使用
func (r *Registry) Depth(seriesID uint64, depth int) ([][2]decimal.Decimal, [][2]decimal.Decimal, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	book, ok := r.books[seriesID]
	if !ok {
		return nil, nil, ErrBookNotFound
	}

	collect := func(bs *bookSide) [][2]decimal.Decimal {
		out := make([][2]decimal.Decimal, 0, depth)
		for i := 0; i < len(bs.levels) && i < depth; i++ {
			out = append(out, [2]decimal.Decimal{bs.levels[i].price, bs.levels[i].totalQuantity()})
		}
		return out
	}
	return collect(book.bids), collect(book.asks), nil
}

// Stats 全局撮合统计快照
func (r *Registry) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stats
}
