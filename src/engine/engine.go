package engine

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// MatchingEngine is the top-level, thread-safe component of a single market.
// Every operation runs under one mutex, so all reads and mutations of the
// book are totally ordered.
type MatchingEngine struct {
	mu   sync.Mutex
	book *OrderBook

	// Last assigned order id. Only advanced while mu is held.
	lastID atomic.Int64

	log *zap.Logger
	now func() time.Time
}

// Option configures a MatchingEngine.
type Option func(*MatchingEngine)

// WithLogger sets the logger used for self-trade, stop and restore events.
func WithLogger(log *zap.Logger) Option {
	return func(me *MatchingEngine) { me.log = log }
}

// WithClock overrides the time source used for order and trade timestamps.
func WithClock(now func() time.Time) Option {
	return func(me *MatchingEngine) { me.now = now }
}

// NewMatchingEngine creates a new, thread-safe engine with an empty book.
func NewMatchingEngine(opts ...Option) *MatchingEngine {
	me := &MatchingEngine{
		log: zap.NewNop(),
		now: time.Now,
	}
	for _, opt := range opts {
		opt(me)
	}
	me.book = newOrderBook(me.log, me.now)
	return me
}

// SetInitialOrderID seeds the id counter with the highest order id ever seen,
// so ids keep increasing across restarts. Non-positive values are ignored.
func (me *MatchingEngine) SetInitialOrderID(maxID int64) {
	me.mu.Lock()
	defer me.mu.Unlock()

	if maxID <= 0 {
		me.log.Info("order id counter starts from zero")
		return
	}
	me.lastID.Store(maxID)
	me.log.Info("order id counter seeded", zap.Int64("max_id", maxID))
}

// LastOrderID returns the most recently assigned order id.
func (me *MatchingEngine) LastOrderID() int64 {
	return me.lastID.Load()
}

func (me *MatchingEngine) admit(order *Order) {
	order.ID = me.lastID.Add(1)
	order.Timestamp = unixMillis(me.now())
}

// SubmitOrder dispatches an order on its kind. Stop orders produce no trades.
func (me *MatchingEngine) SubmitOrder(order *Order) (ProcessOrderResponse, error) {
	switch order.Kind {
	case Limit:
		return me.SubmitLimitOrder(order), nil
	case Market:
		return me.SubmitMarketOrder(order)
	case Stop:
		return me.submitStop(order), nil
	default:
		return ProcessOrderResponse{}, fmt.Errorf("%w: %q", ErrUnknownOrderKind, order.Kind)
	}
}

// SubmitLimitOrder admits a limit order, matches it against the opposite side
// and rests any remainder. The returned trades list the order's own fills
// first, followed by trades of any stop orders it triggered.
func (me *MatchingEngine) SubmitLimitOrder(order *Order) ProcessOrderResponse {
	me.mu.Lock()
	defer me.mu.Unlock()

	me.admit(order)
	trades, inBook := me.book.processLimitOrder(order)
	trades = append(trades, me.book.checkStopOrders()...)

	return newResponse(order, trades, inBook)
}

// SubmitMarketOrder fills a market order completely or not at all. When the
// opposite side lacks enough liquidity from other owners it returns an
// *InsufficientLiquidityError and the book is unchanged.
func (me *MatchingEngine) SubmitMarketOrder(order *Order) (ProcessOrderResponse, error) {
	me.mu.Lock()
	defer me.mu.Unlock()

	if available, ok := me.book.checkMarketOrderLiquidity(order); !ok {
		return ProcessOrderResponse{}, &InsufficientLiquidityError{
			Requested: order.RemainingQuantity(),
			Available: available,
		}
	}

	if order.ID == UnassignedID {
		me.admit(order)
	}
	trades := me.book.executeMarketOrder(order)
	trades = append(trades, me.book.checkStopOrders()...)

	return newResponse(order, trades, false), nil
}

// SubmitStopOrder admits a stop order into the pending set and returns its id.
// The stop is first evaluated on the next book mutation, not on admission.
func (me *MatchingEngine) SubmitStopOrder(order *Order) int64 {
	return me.submitStop(order).OrderID
}

func (me *MatchingEngine) submitStop(order *Order) ProcessOrderResponse {
	me.mu.Lock()
	defer me.mu.Unlock()

	me.admit(order)
	me.book.addStopOrder(order)
	return newResponse(order, nil, false)
}

// CancelOrder removes the resting or pending order with the given id if it
// belongs to owner. Removing a resting order can move the best price, so
// stop orders are re-evaluated and their trades returned.
func (me *MatchingEngine) CancelOrder(orderID int64, owner string) (bool, []Trade) {
	me.mu.Lock()
	defer me.mu.Unlock()

	if me.book.cancelResting(orderID, owner) {
		return true, me.book.checkStopOrders()
	}
	return me.book.cancelStop(orderID, owner), nil
}

// GetOrderBookSnapshot aggregates up to depth price levels per side.
// A non-positive depth means DefaultBookDepth.
func (me *MatchingEngine) GetOrderBookSnapshot(depth int) BookView {
	me.mu.Lock()
	defer me.mu.Unlock()

	return me.book.topOfBook(depth)
}

// GetActiveOrders lists the resting limit orders and pending stop orders of owner.
func (me *MatchingEngine) GetActiveOrders(owner string) []ActiveOrderInfo {
	me.mu.Lock()
	defer me.mu.Unlock()

	return me.book.activeOrders(owner)
}

// CaptureState returns a copy of the whole book for persistence.
func (me *MatchingEngine) CaptureState() BookState {
	me.mu.Lock()
	defer me.mu.Unlock()

	return me.book.captureState()
}

// RestoreState replaces the book with state. It is meant to run once at
// startup, before any order is accepted. The id counter is raised to the
// highest restored id when that exceeds the current seed.
func (me *MatchingEngine) RestoreState(state BookState) {
	me.mu.Lock()
	defer me.mu.Unlock()

	maxID := me.book.restoreState(state)
	if maxID > me.lastID.Load() {
		me.lastID.Store(maxID)
	}
	me.log.Info("active book state restored",
		zap.Int("ask_levels", len(me.book.askPriceMap)),
		zap.Int("bid_levels", len(me.book.bidPriceMap)),
		zap.Int("stop_orders", len(me.book.stops)),
		zap.Int64("last_order_id", me.lastID.Load()))
}

func zapOrder(o *Order) []zap.Field {
	return []zap.Field{
		zap.Int64("order_id", o.ID),
		zap.String("owner", o.Owner),
		zap.String("side", string(o.Side)),
		zap.String("kind", string(o.Kind)),
	}
}
