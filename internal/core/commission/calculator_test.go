package commission

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/bikeshrana/qbtrader/pkg/types"
)

// TestCalculate_BuyVsSell mirrors spec scenario S4: 100 shares @ 75,000
// under the Korean equities schedule. Sell side carries the
// transaction tax and its rural surcharge on top of the buy side's fees.
func TestCalculate_BuyVsSell(t *testing.T) {
	calc := NewKoreanEquityCalculator(KoreanEquitySchedule())
	price := decimal.NewFromInt(75_000)
	qty := int64(100)

	buy := calc.Calculate(types.OrderSideBuy, price, qty, DiscountFlags{})
	sell := calc.Calculate(types.OrderSideSell, price, qty, DiscountFlags{})

	assert.True(t, buy.TransactionTax.IsZero(), "buy side carries no transaction tax")
	assert.True(t, buy.RuralTax.IsZero())
	assert.True(t, sell.TransactionTax.GreaterThan(decimal.Zero))
	assert.True(t, sell.RuralTax.GreaterThan(decimal.Zero))

	// sell must exceed buy by at least the statutory tax + rural surcharge
	// (invariant 5), with no discount applied to either side here.
	tradeAmount := price.Mul(decimal.NewFromInt(qty))
	minDelta := tradeAmount.Mul(decimal.NewFromFloat(0.0023)).
		Mul(decimal.NewFromFloat(1).Add(decimal.NewFromFloat(0.2)))
	assert.True(t, sell.Total.Sub(buy.Total).GreaterThanOrEqual(minDelta.Sub(decimal.NewFromFloat(1))),
		"sell commission must exceed buy by at least tax+rural (%s), got delta %s", minDelta, sell.Total.Sub(buy.Total))
}

func TestCalculate_MinBrokerageFeeFloor(t *testing.T) {
	calc := NewKoreanEquityCalculator(KoreanEquitySchedule())
	// Tiny trade: rate-based brokerage fee would be below the 100 floor.
	breakdown := calc.Calculate(types.OrderSideBuy, decimal.NewFromInt(1_000), 1, DiscountFlags{})
	assert.True(t, breakdown.BrokerageFee.Equal(decimal.NewFromInt(100)))
}

func TestCalculate_DiscountCappedAtMax(t *testing.T) {
	calc := NewKoreanEquityCalculator(KoreanEquitySchedule())
	flags := DiscountFlags{VIP: true, Online: true, Frequent: true} // 0.5+0.2+0.1 = 0.8, at the cap
	withDiscount := calc.Calculate(types.OrderSideSell, decimal.NewFromInt(75_000), 100, flags)
	withoutDiscount := calc.Calculate(types.OrderSideSell, decimal.NewFromInt(75_000), 100, DiscountFlags{})

	// Discount applies to the whole commission, taxes included, not
	// just the brokerage fee, so the fee breakdown fields are unchanged
	// but Total drops by ~80%.
	assert.True(t, withDiscount.BrokerageFee.Equal(withoutDiscount.BrokerageFee))
	assert.True(t, withDiscount.TransactionTax.Equal(withoutDiscount.TransactionTax))
	assert.True(t, withDiscount.Total.LessThan(withoutDiscount.Total))

	subtotal := withoutDiscount.BrokerageFee.Add(withoutDiscount.ExchangeFee).Add(withoutDiscount.ClearingFee).
		Add(withoutDiscount.TransactionTax).Add(withoutDiscount.RuralTax)
	expectedDiscount := subtotal.Mul(decimal.NewFromFloat(0.8))
	assert.True(t, withDiscount.DiscountApplied.Sub(expectedDiscount).Abs().LessThanOrEqual(decimal.NewFromFloat(0.5)))
}

func TestDiscountFlagsFromMetadata(t *testing.T) {
	assert.Equal(t, DiscountFlags{}, DiscountFlagsFromMetadata(nil))
	assert.Equal(t, DiscountFlags{Online: true}, DiscountFlagsFromMetadata(map[string]any{}))
	assert.Equal(t, DiscountFlags{Online: false}, DiscountFlagsFromMetadata(map[string]any{"online_order": false}))
	assert.Equal(t, DiscountFlags{VIP: true, Online: true},
		DiscountFlagsFromMetadata(map[string]any{"vip_customer": true}))
}
