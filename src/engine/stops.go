package engine

import (
	"slices"

	"go.uber.org/zap"
)

// addStopOrder queues an admitted stop order. It is not evaluated until the
// next book mutation.
func (ob *OrderBook) addStopOrder(order *Order) {
	ob.stops = append(ob.stops, order)
}

func (ob *OrderBook) cancelStop(orderID int64, owner string) bool {
	for i, stop := range ob.stops {
		if stop.ID == orderID && stop.Owner == owner {
			ob.stops = slices.Delete(ob.stops, i, i+1)
			return true
		}
	}
	return false
}

// stopTriggered reads the current best prices. An ask stop fires once the best
// bid has fallen to its stop price; a bid stop fires once the best ask has
// risen to it.
func (ob *OrderBook) stopTriggered(stop *Order) bool {
	switch stop.Side {
	case Ask:
		bestBid, ok := ob.BestBid()
		return ok && bestBid <= stop.Price
	case Bid:
		bestAsk, ok := ob.BestAsk()
		return ok && bestAsk >= stop.Price
	}
	return false
}

// checkStopOrders activates every pending stop whose trigger condition holds,
// executing each one as an all-or-nothing market order. Pending stops are
// scanned in admission order; after each activation the book has moved, so the
// scan restarts from the head with fresh prices to pick up cascades. A stop
// that cannot be filled is dropped.
func (ob *OrderBook) checkStopOrders() []Trade {
	var trades []Trade

	for i := 0; i < len(ob.stops); {
		stop := ob.stops[i]
		if !ob.stopTriggered(stop) {
			i++
			continue
		}
		ob.stops = slices.Delete(ob.stops, i, i+1)
		i = 0

		if available, ok := ob.checkMarketOrderLiquidity(stop); !ok {
			ob.log.Warn("stop order activated but failed",
				zap.Int64("order_id", stop.ID),
				zap.String("owner", stop.Owner),
				zap.Error(&InsufficientLiquidityError{Requested: stop.RemainingQuantity(), Available: available}))
			continue
		}

		ob.log.Info("stop order activated",
			zap.Int64("order_id", stop.ID),
			zap.String("side", string(stop.Side)),
			zap.Int64("stop_price", stop.Price))
		trades = append(trades, ob.executeMarketOrder(stop)...)
	}
	return trades
}
