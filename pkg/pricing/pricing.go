// Package pricing implements the pure cost function (C4): a deterministic,
// rounded USD cost for a completed vendor call.
package pricing

import (
	"fmt"
	"math/big"
)

// PerThousandTokens is the wire-visible, immutable rate table: USD per 1000
// tokens, keyed by vendor name. It is surfaced to clients verbatim through
// the management plane.
var PerThousandTokens = map[string]float64{
	"vendorA": 0.002,
	"vendorB": 0.003,
}

// Cost computes round6((tokensIn + tokensOut) / 1000 * rate[vendor]) using
// round-half-to-even at 6 decimal places. An unknown vendor is a programmer
// error and panics rather than silently returning a wrong price.
func Cost(vendor string, tokensIn, tokensOut int) float64 {
	rate, ok := PerThousandTokens[vendor]
	if !ok {
		panic(fmt.Sprintf("pricing: unknown vendor %q", vendor))
	}

	raw := float64(tokensIn+tokensOut) / 1000 * rate
	return round6(raw)
}

// round6 rounds f to 6 decimal places using round-half-to-even (banker's
// rounding), matching IEEE 754 semantics rather than round-half-away-from-zero.
func round6(f float64) float64 {
	r := new(big.Float).SetPrec(64).SetFloat64(f)
	scaled := new(big.Float).Mul(r, big.NewFloat(1e6))

	i, _ := scaled.Int(nil)
	frac := new(big.Float).Sub(scaled, new(big.Float).SetInt(i))

	half := big.NewFloat(0.5)
	cmp := frac.Cmp(half)

	switch {
	case cmp > 0:
		i.Add(i, big.NewInt(1))
	case cmp == 0:
		// Round half to even: bump up only if the integer part is odd.
		mod := new(big.Int).Mod(i, big.NewInt(2))
		if mod.Sign() != 0 {
			i.Add(i, big.NewInt(1))
		}
	}

	result, _ := new(big.Float).SetInt(i).Float64()
	return result / 1e6
}
