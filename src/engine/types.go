package engine

import (
	"container/list"
	"time"
)

// Side defines the side of an order (ASK or BID).
type Side string

// OrderKind tags which variant an Order is. It is also carried on both sides
// of every Trade for reporting.
type OrderKind string

const (
	Ask Side = "ask"
	Bid Side = "bid"
)

const (
	Limit  OrderKind = "limit"
	Market OrderKind = "market"
	Stop   OrderKind = "stop"
)

// UnassignedID marks an order that has not been admitted yet.
const UnassignedID int64 = -1

// Opposite returns the side an order of this side matches against.
func (s Side) Opposite() Side {
	if s == Bid {
		return Ask
	}
	return Bid
}

// Order is a limit, market or stop order. Price is the limit price for Limit
// orders, the stop price for Stop orders and unused for Market orders.
type Order struct {
	ID             int64     `json:"orderId"`
	Owner          string    `json:"owner"`
	Side           Side      `json:"side"`
	Kind           OrderKind `json:"kind"`
	Price          int64     `json:"price"`
	Quantity       int64     `json:"quantity"`
	FilledQuantity int64     `json:"filledQuantity"`
	Timestamp      int64     `json:"timestamp"` // Unix milliseconds, set on admission

	// Internal field to store its place in the PriceLevel queue.
	element *list.Element
}

// RemainingQuantity calculates the unfilled quantity.
func (o *Order) RemainingQuantity() int64 {
	return o.Quantity - o.FilledQuantity
}

func newOrder(kind OrderKind, owner string, side Side, quantity, price int64) *Order {
	return &Order{
		ID:        UnassignedID,
		Owner:     owner,
		Side:      side,
		Kind:      kind,
		Price:     price,
		Quantity:  quantity,
		Timestamp: -1,
	}
}

// NewLimitOrder creates a limit order that rests at limitPrice if not fully matched.
func NewLimitOrder(owner string, side Side, quantity, limitPrice int64) *Order {
	return newOrder(Limit, owner, side, quantity, limitPrice)
}

// NewMarketOrder creates an all-or-nothing market order.
func NewMarketOrder(owner string, side Side, quantity int64) *Order {
	return newOrder(Market, owner, side, quantity, 0)
}

// NewStopOrder creates a stop order that becomes a market order once the
// opposite best price reaches stopPrice.
func NewStopOrder(owner string, side Side, quantity, stopPrice int64) *Order {
	return newOrder(Stop, owner, side, quantity, stopPrice)
}

// Trade represents a single execution between a buy and a sell order.
// Price is always the resting order's price.
type Trade struct {
	TradeID     string    `json:"tradeId"`
	BuyOrderID  int64     `json:"buyOrderId"`
	SellOrderID int64     `json:"sellOrderId"`
	Size        int64     `json:"size"`
	Price       int64     `json:"price"`
	Buyer       string    `json:"buyer"`
	Seller      string    `json:"seller"`
	Timestamp   int64     `json:"timestamp"`
	BuyerKind   OrderKind `json:"buyerKind"`
	SellerKind  OrderKind `json:"sellerKind"`
}

// ProcessOrderResponse is the result of processing an order. The quantities
// are copied while the engine lock is held, since a resting order keeps
// changing as later orders fill it.
type ProcessOrderResponse struct {
	OrderID           int64
	Trades            []Trade
	OrderInBook       bool
	FilledQuantity    int64
	RemainingQuantity int64
}

func newResponse(order *Order, trades []Trade, inBook bool) ProcessOrderResponse {
	return ProcessOrderResponse{
		OrderID:           order.ID,
		Trades:            trades,
		OrderInBook:       inBook,
		FilledQuantity:    order.FilledQuantity,
		RemainingQuantity: order.RemainingQuantity(),
	}
}

// ActiveOrderInfo describes one resting limit order or pending stop order.
type ActiveOrderInfo struct {
	OrderID int64     `json:"orderId"`
	Side    Side      `json:"side"`
	Kind    OrderKind `json:"kind"`
	Size    int64     `json:"size"`
	Price   int64     `json:"price"`
}

func unixMillis(t time.Time) int64 {
	return t.UnixNano() / 1_000_000
}
