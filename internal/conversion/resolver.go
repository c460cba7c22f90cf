// Package conversion resolves deterministic conversion rates for ordered
// currency pairs from an immutable rate table.
package conversion

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Pair is an ordered currency pair. Both codes are expected to be normalized.
type Pair struct {
	Source string
	Target string
}

func (p Pair) String() string {
	return p.Source + "/" + p.Target
}

// Table maps an ordered pair to the rate applied when converting from
// Source to Target.
type Table map[Pair]float64

// Rationale tells how a rate was chosen.
type Rationale string

const (
	RationaleIdentity Rationale = "identity"
	RationaleTable    Rationale = "table"
	RationaleFallback Rationale = "fallback"
)

// FallbackRate is applied to pairs missing from the table.
const FallbackRate = 1.0

// DefaultTable returns the demo rates the ledger ships with.
func DefaultTable() Table {
	return Table{
		{Source: "USD", Target: "EUR"}: 0.9,
		{Source: "EUR", Target: "USD"}: 1.1,
		{Source: "CAD", Target: "USD"}: 0.7,
		{Source: "USD", Target: "CAD"}: 1.4,
		{Source: "USD", Target: "BTC"}: 1.0 / 50000,
		{Source: "BTC", Target: "USD"}: 50000.0,
		{Source: "EUR", Target: "BTC"}: 1.0 / 55000,
		{Source: "BTC", Target: "EUR"}: 55000.0,
	}
}

// Merge returns a new table holding base overridden by override.
func Merge(base, override Table) Table {
	out := make(Table, len(base)+len(override))
	for p, rate := range base {
		out[p] = rate
	}
	for p, rate := range override {
		out[p] = rate
	}
	return out
}

// ParseTable builds a table from entries like "USD/EUR" -> "0.9".
func ParseTable(entries map[string]string) (Table, error) {
	table := make(Table, len(entries))
	for key, value := range entries {
		source, target, ok := strings.Cut(key, "/")
		if !ok {
			return nil, fmt.Errorf("invalid currency pair %q: expected SOURCE/TARGET", key)
		}
		source, target = NormalizeCurrency(source), NormalizeCurrency(target)
		if !ValidCurrency(source) || !ValidCurrency(target) {
			return nil, fmt.Errorf("invalid currency pair %q", key)
		}
		rate, err := decimal.NewFromString(strings.TrimSpace(value))
		if err != nil {
			return nil, fmt.Errorf("invalid rate for %s: %w", key, err)
		}
		if !rate.IsPositive() {
			return nil, fmt.Errorf("rate for %s must be positive", key)
		}
		table[Pair{Source: source, Target: target}] = rate.InexactFloat64()
	}
	return table, nil
}

// NormalizeCurrency trims and upper-cases a currency code.
func NormalizeCurrency(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// ValidCurrency reports whether a normalized code is at least three ASCII
// letters.
func ValidCurrency(code string) bool {
	if len(code) < 3 {
		return false
	}
	for i := 0; i < len(code); i++ {
		if code[i] < 'A' || code[i] > 'Z' {
			return false
		}
	}
	return true
}

// Conversion is the outcome of applying a rate to an amount.
type Conversion struct {
	Source          string
	Target          string
	Rate            float64
	Amount          float64
	ConvertedAmount float64
	Rationale       Rationale
}

// Resolver is safe for concurrent use; its table never changes after
// construction.
type Resolver struct {
	rates map[Pair]float64
}

// NewResolver copies table, normalizing its pairs. Later changes to table
// do not affect the resolver.
func NewResolver(table Table) *Resolver {
	rates := make(map[Pair]float64, len(table))
	for p, rate := range table {
		rates[Pair{Source: NormalizeCurrency(p.Source), Target: NormalizeCurrency(p.Target)}] = rate
	}
	return &Resolver{rates: rates}
}

func (r *Resolver) Resolve(source, target string) (float64, Rationale) {
	s, t := NormalizeCurrency(source), NormalizeCurrency(target)
	if s == t {
		return 1.0, RationaleIdentity
	}
	rate, ok := r.rates[Pair{Source: s, Target: t}]
	if !ok {
		return FallbackRate, RationaleFallback
	}
	return rate, RationaleTable
}

// Convert resolves the rate for the pair and applies it to amount. The
// product is computed in decimal arithmetic.
func (r *Resolver) Convert(amount float64, source, target string) Conversion {
	rate, rationale := r.Resolve(source, target)
	converted := decimal.NewFromFloat(amount).Mul(decimal.NewFromFloat(rate))
	return Conversion{
		Source:          NormalizeCurrency(source),
		Target:          NormalizeCurrency(target),
		Rate:            rate,
		Amount:          amount,
		ConvertedAmount: converted.InexactFloat64(),
		Rationale:       rationale,
	}
}
