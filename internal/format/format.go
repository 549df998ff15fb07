// Package format renders engine outputs for people. Amounts are truncated,
// never rounded up, so a displayed payout never overstates the projection.
package format

import (
	"fmt"
	"math"
	"math/big"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/shopspring/decimal"

	"github.com/R3E-Network/draw_auditor/internal/odds"
)

// DisplayPlaces is the fractional precision used for token amounts.
const DisplayPlaces int32 = 4

// ScenarioView is a display row for one odds scenario.
type ScenarioView struct {
	Label        string `json:"label"`
	AnnualPayout string `json:"annual_payout"`
	APR          string `json:"apr"`
}

// ToDisplay converts base units to token units.
func ToDisplay(amount *big.Int, decimals int32) decimal.Decimal {
	if amount == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(amount, -decimals)
}

// Amount truncates d to places and groups the integer part with commas.
func Amount(d decimal.Decimal, places int32) string {
	if places < 0 {
		places = 0
	}
	t := d.Truncate(places)
	sign := ""
	if t.IsNegative() {
		sign = "-"
		t = t.Neg()
	}
	intPart := t.Truncate(0)
	out := sign + humanize.BigComma(intPart.BigInt())
	if places == 0 {
		return out
	}
	frac := t.Sub(intPart).StringFixed(places)
	return out + strings.TrimPrefix(frac, "0")
}

// APR renders a percentage with two places, half away from zero.
func APR(d decimal.Decimal) string {
	return d.Round(2).StringFixed(2) + "%"
}

// Probability renders p as a percentage when it is at least 1%, and as
// "1 in N" below that.
func Probability(p float64) string {
	switch {
	case p <= 0 || math.IsNaN(p):
		return "0%"
	case p >= 1:
		return "100%"
	case p >= 0.01:
		return fmt.Sprintf("%.2f%%", p*100)
	}
	if n := math.Round(1 / p); n < math.MaxInt64 {
		return "1 in " + humanize.Comma(int64(n))
	}
	q := new(big.Float).Quo(big.NewFloat(1), big.NewFloat(p))
	n, _ := q.Add(q, big.NewFloat(0.5)).Int(nil)
	return "1 in " + humanize.BigComma(n)
}

var onePercent = big.NewRat(1, 100)

// RatProbability converts an exact probability for display. Below 1% the
// "1 in N" figure is computed on the rational itself, rounding half up.
func RatProbability(p *big.Rat) string {
	if p == nil || p.Sign() <= 0 {
		return Probability(0)
	}
	if p.Cmp(onePercent) >= 0 {
		f, _ := p.Float64()
		return Probability(f)
	}
	num := p.Num()
	n := new(big.Int).Lsh(p.Denom(), 1)
	n.Add(n, num)
	n.Quo(n, new(big.Int).Lsh(num, 1))
	return "1 in " + humanize.BigComma(n)
}

// Scenarios renders every scenario of proj in token units.
func Scenarios(proj odds.Projection, decimals int32, denom string) []ScenarioView {
	out := make([]ScenarioView, 0, len(proj.Scenarios))
	for _, s := range proj.Scenarios {
		payout := s.AnnualPayout.Shift(-decimals)
		amount := Amount(payout, DisplayPlaces)
		if denom != "" {
			amount += " " + denom
		}
		out = append(out, ScenarioView{
			Label:        s.Label,
			AnnualPayout: amount,
			APR:          APR(s.APR),
		})
	}
	return out
}
