package engine

import (
	"errors"
	"fmt"
)

// ErrInsufficientLiquidity is matched by every InsufficientLiquidityError.
var ErrInsufficientLiquidity = errors.New("insufficient liquidity")

// ErrUnknownOrderKind is returned by SubmitOrder for a kind it cannot route.
var ErrUnknownOrderKind = errors.New("unknown order kind")

// InsufficientLiquidityError is returned when a market order cannot be fully
// filled by resting liquidity from other owners. The book is left untouched.
type InsufficientLiquidityError struct {
	Requested int64
	Available int64
}

func (e *InsufficientLiquidityError) Error() string {
	return fmt.Sprintf("insufficient liquidity: only %d shares available, requested %d", e.Available, e.Requested)
}

func (e *InsufficientLiquidityError) Is(target error) bool {
	return target == ErrInsufficientLiquidity
}
