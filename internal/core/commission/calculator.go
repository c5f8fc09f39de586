// Package commission implements a pure function from (order, fill
// price, fill quantity) to a fee breakdown for Korean equities. All
// arithmetic is decimal to avoid binary-float rounding drift; only
// the final reported totals are ever handed back as decimal.Decimal
// for the caller to format.
package commission

import (
	"github.com/shopspring/decimal"

	"github.com/bikeshrana/qbtrader/pkg/types"
)

// Schedule is the fee-rate configuration selected at construction.
// Field names mirror config.CommissionConfig, whose ToSchedule
// converts the viper-bound values into this struct.
type Schedule struct {
	BrokerageRate      decimal.Decimal
	MinBrokerageFee    decimal.Decimal
	TransactionTaxRate decimal.Decimal // sell-side only
	RuralTaxRate       decimal.Decimal // fraction of transaction tax
	ExchangeFeeRate    decimal.Decimal
	ClearingFeeRate    decimal.Decimal
	MinCurrencyUnit    decimal.Decimal // rounding granularity, e.g. 1 won

	VIPDiscountRate           decimal.Decimal
	OnlineDiscountRate        decimal.Decimal
	FrequentTraderDiscountRate decimal.Decimal
	MaxDiscountRate           decimal.Decimal
}

// KoreanEquitySchedule returns the default Korean equities fee
// schedule used by S4's worked example.
func KoreanEquitySchedule() Schedule {
	return Schedule{
		BrokerageRate:              decimal.NewFromFloat(0.00015),
		MinBrokerageFee:            decimal.NewFromInt(100),
		TransactionTaxRate:         decimal.NewFromFloat(0.0023),
		RuralTaxRate:               decimal.NewFromFloat(0.2),
		ExchangeFeeRate:            decimal.NewFromFloat(0.000008),
		ClearingFeeRate:            decimal.NewFromFloat(0.0000154),
		MinCurrencyUnit:            decimal.NewFromFloat(0.01),
		VIPDiscountRate:            decimal.NewFromFloat(0.5),
		OnlineDiscountRate:         decimal.NewFromFloat(0.2),
		FrequentTraderDiscountRate: decimal.NewFromFloat(0.1),
		MaxDiscountRate:            decimal.NewFromFloat(0.8),
	}
}

// DiscountFlags select which stacked discounts apply to a trade,
// carried on Order.Metadata as booleans ("vip_customer", "online_order",
// "frequent_trader").
type DiscountFlags struct {
	VIP      bool
	Online   bool
	Frequent bool
}

// DiscountFlagsFromMetadata extracts DiscountFlags from an order's
// metadata the way the original does: discounts only apply at all
// when metadata is present, and within that, an online order is the
// default (online_order defaults to true when the key is absent, not
// when metadata itself is absent).
func DiscountFlagsFromMetadata(metadata map[string]any) DiscountFlags {
	if metadata == nil {
		return DiscountFlags{}
	}
	online := true
	if v, ok := metadata["online_order"].(bool); ok {
		online = v
	}
	vip, _ := metadata["vip_customer"].(bool)
	frequent, _ := metadata["frequent_trader"].(bool)
	return DiscountFlags{VIP: vip, Online: online, Frequent: frequent}
}

// Breakdown is the itemized fee result of Calculate.
type Breakdown struct {
	TradeAmount     decimal.Decimal
	BrokerageFee    decimal.Decimal
	ExchangeFee     decimal.Decimal
	ClearingFee     decimal.Decimal
	TransactionTax  decimal.Decimal
	RuralTax        decimal.Decimal
	DiscountApplied decimal.Decimal
	Total           decimal.Decimal
}

// Calculator holds one fee schedule selected at construction — see
// DESIGN.md Open Question 3.
type Calculator struct {
	schedule Schedule
}

// NewKoreanEquityCalculator constructs a Calculator with the Korean equities schedule.
func NewKoreanEquityCalculator(schedule Schedule) *Calculator {
	return &Calculator{schedule: schedule}
}

// Calculate computes the fee breakdown for one fill.
func (c *Calculator) Calculate(side types.OrderSide, fillPrice decimal.Decimal, fillQuantity int64, flags DiscountFlags) Breakdown {
	s := c.schedule
	tradeAmount := fillPrice.Mul(decimal.NewFromInt(fillQuantity))

	brokerageFee := decimal.Max(tradeAmount.Mul(s.BrokerageRate), s.MinBrokerageFee)
	exchangeFee := tradeAmount.Mul(s.ExchangeFeeRate)
	clearingFee := tradeAmount.Mul(s.ClearingFeeRate)

	var transactionTax, ruralTax decimal.Decimal
	if side == types.OrderSideSell {
		transactionTax = tradeAmount.Mul(s.TransactionTaxRate)
		ruralTax = transactionTax.Mul(s.RuralTaxRate)
	}

	discountRate := decimal.Zero
	if flags.VIP {
		discountRate = discountRate.Add(s.VIPDiscountRate)
	}
	if flags.Online {
		discountRate = discountRate.Add(s.OnlineDiscountRate)
	}
	if flags.Frequent {
		discountRate = discountRate.Add(s.FrequentTraderDiscountRate)
	}
	if discountRate.GreaterThan(s.MaxDiscountRate) {
		discountRate = s.MaxDiscountRate
	}

	// Discounts apply to the whole commission (fees and taxes alike),
	// not to the brokerage fee alone — matching the original's
	// _apply_discounts(order, total_commission).
	subtotal := brokerageFee.Add(exchangeFee).Add(clearingFee).Add(transactionTax).Add(ruralTax)
	discountApplied := subtotal.Mul(discountRate)
	total := roundHalfUp(subtotal.Sub(discountApplied), s.MinCurrencyUnit)

	return Breakdown{
		TradeAmount:     tradeAmount,
		BrokerageFee:    roundHalfUp(brokerageFee, s.MinCurrencyUnit),
		ExchangeFee:     roundHalfUp(exchangeFee, s.MinCurrencyUnit),
		ClearingFee:     roundHalfUp(clearingFee, s.MinCurrencyUnit),
		TransactionTax:  roundHalfUp(transactionTax, s.MinCurrencyUnit),
		RuralTax:        roundHalfUp(ruralTax, s.MinCurrencyUnit),
		DiscountApplied: roundHalfUp(discountApplied, s.MinCurrencyUnit),
		Total:           total,
	}
}

// roundHalfUp rounds v to the nearest multiple of unit, ties away from
// zero, matching the Python original's ROUND_HALF_UP quantization.
func roundHalfUp(v, unit decimal.Decimal) decimal.Decimal {
	if unit.IsZero() {
		return v
	}
	scaled := v.Div(unit)
	rounded := scaled.Round(0) // decimal.Round uses half-away-from-zero
	return rounded.Mul(unit)
}
