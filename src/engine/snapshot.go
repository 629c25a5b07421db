package engine

import (
	"fmt"
	"strings"
)

// DefaultBookDepth is the number of price levels shown per side by default.
const DefaultBookDepth = 10

// AggregatedPriceLevel is the total remaining quantity resting at one price.
type AggregatedPriceLevel struct {
	Price    int64 `json:"price"`
	Quantity int64 `json:"quantity"`
}

// BookView is a point-in-time top of book, best price first on each side.
type BookView struct {
	Asks []AggregatedPriceLevel `json:"asks"`
	Bids []AggregatedPriceLevel `json:"bids"`
}

// Render formats the view as two price/quantity tables.
func (v BookView) Render() string {
	var sb strings.Builder
	renderSide(&sb, "ASKS", v.Asks)
	renderSide(&sb, "BIDS", v.Bids)
	return sb.String()
}

func renderSide(sb *strings.Builder, title string, levels []AggregatedPriceLevel) {
	fmt.Fprintf(sb, "--- %s ---\n", title)
	fmt.Fprintf(sb, "%-10s | %-15s\n", "PRICE", "QUANTITY")
	sb.WriteString("--------------------------\n")
	for _, l := range levels {
		fmt.Fprintf(sb, "%-10d | %-15d\n", l.Price, l.Quantity)
	}
	if len(levels) == 0 {
		sb.WriteString(" (empty)\n")
	}
}

func (ob *OrderBook) aggregate(side Side, depth int) []AggregatedPriceLevel {
	levels := []AggregatedPriceLevel{}
	tree, _ := ob.side(side)
	tree.Ascend(func(pl *PriceLevel) bool {
		if len(levels) >= depth {
			return false
		}
		levels = append(levels, AggregatedPriceLevel{Price: pl.Price, Quantity: pl.TotalQuantity()})
		return true
	})
	return levels
}

// topOfBook aggregates up to depth levels per side.
func (ob *OrderBook) topOfBook(depth int) BookView {
	if depth <= 0 {
		depth = DefaultBookDepth
	}
	return BookView{
		Asks: ob.aggregate(Ask, depth),
		Bids: ob.aggregate(Bid, depth),
	}
}

// activeOrders lists owner's resting asks, resting bids and pending stops, in
// that order.
func (ob *OrderBook) activeOrders(owner string) []ActiveOrderInfo {
	infos := []ActiveOrderInfo{}
	for _, side := range []Side{Ask, Bid} {
		tree, _ := ob.side(side)
		tree.Ascend(func(pl *PriceLevel) bool {
			for e := pl.Orders.Front(); e != nil; e = e.Next() {
				order := e.Value.(*Order)
				if order.Owner == owner {
					infos = append(infos, activeOrderInfo(order))
				}
			}
			return true
		})
	}
	for _, stop := range ob.stops {
		if stop.Owner == owner {
			infos = append(infos, activeOrderInfo(stop))
		}
	}
	return infos
}

func activeOrderInfo(o *Order) ActiveOrderInfo {
	return ActiveOrderInfo{
		OrderID: o.ID,
		Side:    o.Side,
		Kind:    o.Kind,
		Size:    o.RemainingQuantity(),
		Price:   o.Price,
	}
}

// --- Active book state ---

// BookState is the persistable content of an OrderBook: resting limit orders
// per price in queue order, and the pending stop orders in admission order.
type BookState struct {
	Asks       map[int64][]Order `json:"asks"`
	Bids       map[int64][]Order `json:"bids"`
	StopOrders []Order           `json:"stopOrders"`
}

// IsEmpty reports whether the state holds no orders at all.
func (s BookState) IsEmpty() bool {
	return len(s.Asks) == 0 && len(s.Bids) == 0 && len(s.StopOrders) == 0
}

func (ob *OrderBook) captureSide(side Side) map[int64][]Order {
	levels := make(map[int64][]Order)
	tree, _ := ob.side(side)
	tree.Ascend(func(pl *PriceLevel) bool {
		orders := make([]Order, 0, pl.Orders.Len())
		for e := pl.Orders.Front(); e != nil; e = e.Next() {
			o := *e.Value.(*Order)
			o.element = nil
			orders = append(orders, o)
		}
		levels[pl.Price] = orders
		return true
	})
	return levels
}

// captureState deep-copies the book so the result can be encoded without
// holding the engine lock.
func (ob *OrderBook) captureState() BookState {
	stops := make([]Order, 0, len(ob.stops))
	for _, s := range ob.stops {
		stops = append(stops, *s)
	}
	return BookState{
		Asks:       ob.captureSide(Ask),
		Bids:       ob.captureSide(Bid),
		StopOrders: stops,
	}
}

// restoreState replaces the book contents with state and returns the highest
// order id found. Orders with nothing left to fill, duplicate ids and stops
// with an unknown side are skipped.
func (ob *OrderBook) restoreState(state BookState) int64 {
	fresh := newOrderBook(ob.log, ob.now)
	*ob = *fresh

	var maxID int64
	seen := make(map[int64]bool)
	keep := func(o *Order) bool {
		if o.RemainingQuantity() <= 0 || seen[o.ID] {
			ob.log.Warn("skipping invalid order in restored state", zapOrder(o)...)
			return false
		}
		seen[o.ID] = true
		maxID = max(maxID, o.ID)
		return true
	}

	for _, side := range []Side{Ask, Bid} {
		levels := state.Asks
		if side == Bid {
			levels = state.Bids
		}
		for price, orders := range levels {
			for _, o := range orders {
				o.Side, o.Kind, o.Price, o.element = side, Limit, price, nil
				if keep(&o) {
					ob.addOrder(&o)
				}
			}
		}
	}
	for _, o := range state.StopOrders {
		o.Kind, o.element = Stop, nil
		if o.Side != Ask && o.Side != Bid {
			ob.log.Warn("skipping stop order without a side in restored state", zapOrder(&o)...)
			continue
		}
		if keep(&o) {
			ob.addStopOrder(&o)
		}
	}
	return maxID
}
