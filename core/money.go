package core

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// MONEY - Fixed-point monetary amount (single currency)
// =============================================================================

// Money is a monetary amount backed by decimal.Decimal. Intermediate
// computation keeps full precision; rounding to cents happens exactly once,
// at the final net-cost step (see RoundCents). Never use float64 for money.
type Money struct {
	Value decimal.Decimal
}

func NewMoney(d decimal.Decimal) Money { return Money{Value: d} }

// Cents constructs Money from an integer number of cents.
func Cents(c int64) Money {
	return Money{Value: decimal.NewFromInt(c).Div(decimal.NewFromInt(100))}
}

// MustParseMoney parses a decimal string (e.g. "10.50"). Returns zero on
// malformed input; intended for fixtures and tests.
func MustParseMoney(s string) Money {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Money{Value: decimal.Zero}
	}
	return Money{Value: d}
}

func Zero() Money { return Money{Value: decimal.Zero} }

func (m Money) Add(o Money) Money             { return Money{Value: m.Value.Add(o.Value)} }
func (m Money) Sub(o Money) Money             { return Money{Value: m.Value.Sub(o.Value)} }
func (m Money) Mul(s decimal.Decimal) Money   { return Money{Value: m.Value.Mul(s)} }
func (m Money) Div(s decimal.Decimal) Money   { return Money{Value: m.Value.Div(s)} }
func (m Money) Neg() Money                    { return Money{Value: m.Value.Neg()} }
func (m Money) IsZero() bool                  { return m.Value.IsZero() }
func (m Money) IsNegative() bool              { return m.Value.IsNegative() }
func (m Money) IsPositive() bool              { return m.Value.IsPositive() }
func (m Money) GreaterThan(o Money) bool      { return m.Value.GreaterThan(o.Value) }
func (m Money) LessThan(o Money) bool         { return m.Value.LessThan(o.Value) }
func (m Money) Equal(o Money) bool            { return m.Value.Equal(o.Value) }

// Max returns the larger of m and o.
func (m Money) Max(o Money) Money {
	if m.GreaterThan(o) {
		return m
	}
	return o
}

// FloorZero clamps negative amounts to zero. Net costs are never negative.
func (m Money) FloorZero() Money {
	if m.IsNegative() {
		return Zero()
	}
	return m
}

// RoundCents applies the single rounding step: round-half-up to cents.
func (m Money) RoundCents() Money {
	return Money{Value: m.Value.Round(2)}
}

// ToCents returns the amount as integer cents after rounding.
func (m Money) ToCents() int64 {
	return m.RoundCents().Value.Mul(decimal.NewFromInt(100)).IntPart()
}

func (m Money) String() string {
	return fmt.Sprintf("$%s", m.Value.StringFixed(2))
}
