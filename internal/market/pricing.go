package market

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// PriceConverter turns USD prices into native crypto amounts at fixed
// configured rates. Decimal arithmetic keeps 900/100 at exactly 9, not
// 8.999999.
type PriceConverter struct {
	solUSDRate decimal.Decimal
}

// NewPriceConverter builds a converter with the configured SOL/USD rate.
// USDC is pegged 1:1.
func NewPriceConverter(solUSDRate float64) *PriceConverter {
	if solUSDRate <= 0 {
		solUSDRate = 100
	}
	return &PriceConverter{solUSDRate: decimal.NewFromFloat(solUSDRate)}
}

// USDToCrypto converts a USD amount into units of the given currency,
// rounded to 9 decimal places (one lamport of SOL precision).
func (c *PriceConverter) USDToCrypto(usd float64, currency string) (float64, error) {
	amount := decimal.NewFromFloat(usd)
	switch strings.ToUpper(currency) {
	case "SOL":
		amount = amount.Div(c.solUSDRate)
	case "USDC":
		// 1:1 peg
	default:
		return 0, fmt.Errorf("unsupported currency %q", currency)
	}
	out, _ := amount.Round(9).Float64()
	return out, nil
}
