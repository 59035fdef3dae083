package domain

import "github.com/shopspring/decimal"

// referenceRates approximates units of each currency per 1 KES. They scale
// fixed KES-denominated thresholds, not money movements.
var referenceRates = map[Currency]decimal.Decimal{
	KES: decimal.NewFromInt(1),
	UGX: decimal.NewFromInt(30),
	TZS: decimal.NewFromInt(20),
	RWF: decimal.NewFromInt(10),
	NGN: decimal.NewFromInt(12),
	GHS: decimal.RequireFromString("0.1"),
	ETB: decimal.RequireFromString("0.5"),
	XOF: decimal.NewFromInt(5),
	XAF: decimal.NewFromInt(5),
	ZAR: decimal.RequireFromString("0.15"),
	EGP: decimal.RequireFromString("0.4"),
	MWK: decimal.NewFromInt(15),
	ZMW: decimal.RequireFromString("0.2"),
	USD: decimal.RequireFromString("0.008"),
	EUR: decimal.RequireFromString("0.007"),
}

// ScaleThreshold converts a KES-denominated threshold into currency c.
// Unknown currencies are treated as KES.
func ScaleThreshold(kes decimal.Decimal, c Currency) decimal.Decimal {
	rate, ok := referenceRates[c]
	if !ok {
		return kes
	}
	return kes.Mul(rate)
}

// ToReference converts an amount in c into the KES reference scale.
func ToReference(amount decimal.Decimal, c Currency) decimal.Decimal {
	rate, ok := referenceRates[c]
	if !ok || rate.IsZero() {
		return amount
	}
	return amount.Div(rate)
}
