// Package fees derives trade volume, fee and total cost from price and
// quantity. Only the buy side is charged; the seller receives the raw
// volume and the fee is retained by the exchange.
package fees

import "github.com/xtrntr/spot/internal/money"

// rate is the fixed taker fee rate applied to buy-side volume (1.5%).
var rate = money.MustParse("0.015", money.USDScale)

// Rate returns the fee rate. The schedule is fixed at build time.
func Rate() money.Dec {
	return rate
}

// Fee returns trunc(volume * rate, scale).
func Fee(volume money.Dec, scale int) money.Dec {
	return money.Mul(volume, rate, scale)
}

// Volume returns trunc(price * quantity, scale).
func Volume(price, quantity money.Dec, scale int) money.Dec {
	return money.Mul(price, quantity, scale)
}

// Total returns volume plus fee: the amount a buyer must reserve for an
// order at the given price and quantity.
func Total(price, quantity money.Dec, scale int) money.Dec {
	volume := Volume(price, quantity, scale)
	return money.Add(volume, Fee(volume, scale), scale)
}
