package engine

import (
	"container/list"
	"time"

	"github.com/google/btree"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// --- B-Tree Comparators ---

// AsksSort sorts price levels from lowest price to highest price (min-heap)
func AsksSort(a, b *PriceLevel) bool {
	return a.Price < b.Price
}

// BidsSort sorts price levels from highest price to lowest price (max-heap)
func BidsSort(a, b *PriceLevel) bool {
	return a.Price > b.Price
}

// --- PriceLevel ---

// PriceLevel is a FIFO queue of resting limit orders at a specific price.
type PriceLevel struct {
	Price  int64
	Orders *list.List // Queue of *Order
}

// NewPriceLevel creates a new PriceLevel queue
func NewPriceLevel(price int64) *PriceLevel {
	return &PriceLevel{
		Price:  price,
		Orders: list.New(),
	}
}

// AddOrder adds an order to the back of the queue (FIFO).
func (pl *PriceLevel) AddOrder(order *Order) {
	order.element = pl.Orders.PushBack(order)
}

// RemoveOrder removes a specific order from the queue.
func (pl *PriceLevel) RemoveOrder(order *Order) {
	if order.element != nil {
		pl.Orders.Remove(order.element)
		order.element = nil
	}
}

// TotalQuantity sums the remaining quantity of every order at this price.
func (pl *PriceLevel) TotalQuantity() int64 {
	var total int64
	for e := pl.Orders.Front(); e != nil; e = e.Next() {
		total += e.Value.(*Order).RemainingQuantity()
	}
	return total
}

// --- OrderBook (Not Thread-Safe) ---

// OrderBook holds the resting limit orders of both sides plus the pending
// stop orders of a single market.
// It is NOT thread-safe and must be protected by a mutex.
type OrderBook struct {
	bids *btree.BTreeG[*PriceLevel] // Max-heap (highest price first)
	asks *btree.BTreeG[*PriceLevel] // Min-heap (lowest price first)

	bidPriceMap map[int64]*PriceLevel
	askPriceMap map[int64]*PriceLevel
	orderMap    map[int64]*Order // resting limit orders only

	// Pending stop orders in admission order.
	stops []*Order

	now func() time.Time
	log *zap.Logger
}

// NewOrderBook creates and initializes a new, empty OrderBook.
func NewOrderBook() *OrderBook {
	return newOrderBook(zap.NewNop(), time.Now)
}

func newOrderBook(log *zap.Logger, now func() time.Time) *OrderBook {
	return &OrderBook{
		bids:        btree.NewG(2, BidsSort),
		asks:        btree.NewG(2, AsksSort),
		bidPriceMap: make(map[int64]*PriceLevel),
		askPriceMap: make(map[int64]*PriceLevel),
		orderMap:    make(map[int64]*Order),
		now:         now,
		log:         log,
	}
}

func (ob *OrderBook) side(side Side) (*btree.BTreeG[*PriceLevel], map[int64]*PriceLevel) {
	if side == Bid {
		return ob.bids, ob.bidPriceMap
	}
	return ob.asks, ob.askPriceMap
}

// bestLevel returns the level with the best price on the given side.
func (ob *OrderBook) bestLevel(side Side) (*PriceLevel, bool) {
	tree, _ := ob.side(side)
	return tree.Min()
}

// BestBid returns the highest resting bid price.
func (ob *OrderBook) BestBid() (int64, bool) {
	level, ok := ob.bestLevel(Bid)
	if !ok {
		return 0, false
	}
	return level.Price, true
}

// BestAsk returns the lowest resting ask price.
func (ob *OrderBook) BestAsk() (int64, bool) {
	level, ok := ob.bestLevel(Ask)
	if !ok {
		return 0, false
	}
	return level.Price, true
}

// addOrder appends a limit order to its price level, creating the level if needed.
func (ob *OrderBook) addOrder(order *Order) {
	tree, priceMap := ob.side(order.Side)
	level, exists := priceMap[order.Price]
	if !exists {
		level = NewPriceLevel(order.Price)
		priceMap[order.Price] = level
		tree.ReplaceOrInsert(level) // O(log N)
	}

	level.AddOrder(order)
	ob.orderMap[order.ID] = order
}

// removeOrder takes a resting order out of its queue and drops the price
// level once it is empty.
func (ob *OrderBook) removeOrder(order *Order) {
	delete(ob.orderMap, order.ID)

	tree, priceMap := ob.side(order.Side)
	level, ok := priceMap[order.Price]
	if !ok {
		return
	}
	level.RemoveOrder(order)
	if level.Orders.Len() == 0 {
		delete(priceMap, order.Price)
		tree.Delete(level)
	}
}

// crosses reports whether an incoming order may trade against a resting price.
func crosses(order *Order, restingPrice int64) bool {
	if order.Kind != Limit {
		return true
	}
	if order.Side == Bid {
		return restingPrice <= order.Price
	}
	return restingPrice >= order.Price
}

// checkMarketOrderLiquidity scans the opposite side in price-time priority,
// counting only orders of other owners. It returns (totalQuantity, isSufficient).
func (ob *OrderBook) checkMarketOrderLiquidity(order *Order) (int64, bool) {
	var totalQuantity int64
	need := order.RemainingQuantity()
	tree, _ := ob.side(order.Side.Opposite())
	tree.Ascend(func(pl *PriceLevel) bool {
		for e := pl.Orders.Front(); e != nil; e = e.Next() {
			resting := e.Value.(*Order)
			if resting.Owner == order.Owner {
				continue
			}
			totalQuantity += resting.RemainingQuantity()
			if totalQuantity >= need {
				return false
			}
		}
		return true
	})
	return totalQuantity, totalQuantity >= need
}

// processLimitOrder matches a limit order against the opposite side and rests
// whatever remains. Stop orders are not evaluated here.
func (ob *OrderBook) processLimitOrder(order *Order) ([]Trade, bool) {
	trades := ob.consume(order)
	if order.RemainingQuantity() > 0 {
		ob.addOrder(order)
		return trades, true
	}
	return trades, false
}

// executeMarketOrder fills a market (or activated stop) order completely.
// The caller must have checked liquidity first.
func (ob *OrderBook) executeMarketOrder(order *Order) []Trade {
	trades := ob.consume(order)
	if order.RemainingQuantity() != 0 {
		panic("engine: market order left unfilled after a successful liquidity check")
	}
	return trades
}

// consume walks the opposite side best price first, FIFO within a level,
// until the order is filled, the side is empty or the price stops crossing.
// Resting orders of the same owner are cancelled instead of traded.
func (ob *OrderBook) consume(order *Order) []Trade {
	var trades []Trade
	opposite := order.Side.Opposite()

	for order.RemainingQuantity() > 0 {
		level, ok := ob.bestLevel(opposite)
		if !ok || !crosses(order, level.Price) {
			break
		}

		resting := level.Orders.Front().Value.(*Order)
		if resting.Owner == order.Owner {
			ob.removeOrder(resting)
			ob.log.Info("self-trade prevented, resting order cancelled",
				zap.Int64("order_id", resting.ID),
				zap.String("side", string(resting.Side)),
				zap.String("owner", resting.Owner))
			continue
		}

		quantity := min(order.RemainingQuantity(), resting.RemainingQuantity())
		trades = append(trades, ob.fill(order, resting, quantity))
	}
	return trades
}

// fill executes quantity between the aggressor and a resting order at the
// resting order's price.
func (ob *OrderBook) fill(aggressor, resting *Order, quantity int64) Trade {
	buy, sell := aggressor, resting
	if aggressor.Side == Ask {
		buy, sell = resting, aggressor
	}

	trade := Trade{
		TradeID:     uuid.New().String(),
		BuyOrderID:  buy.ID,
		SellOrderID: sell.ID,
		Size:        quantity,
		Price:       resting.Price,
		Buyer:       buy.Owner,
		Seller:      sell.Owner,
		Timestamp:   unixMillis(ob.now()),
		BuyerKind:   buy.Kind,
		SellerKind:  sell.Kind,
	}

	aggressor.FilledQuantity += quantity
	resting.FilledQuantity += quantity
	if resting.RemainingQuantity() == 0 {
		ob.removeOrder(resting)
	}
	return trade
}

// cancelResting removes a resting limit order owned by owner.
func (ob *OrderBook) cancelResting(orderID int64, owner string) bool {
	order, ok := ob.orderMap[orderID]
	if !ok || order.Owner != owner {
		return false
	}
	ob.removeOrder(order)
	return true
}
