package report

import (
	"math"
	"strings"

	"github.com/Rhymond/go-money"
	"github.com/shopspring/decimal"
)

var (
	maxMinor = decimal.NewFromInt(math.MaxInt64)
	minMinor = decimal.NewFromInt(math.MinInt64)
)

type formatter struct {
	currency *money.Currency
}

func newFormatter(code string) formatter {
	cur := money.GetCurrency(code)
	if cur == nil {
		cur = money.GetCurrency(DefaultCurrency)
	}
	return formatter{currency: cur}
}

// money formats an amount in the report currency, e.g. "$1,234.56".
// Amounts are rounded half away from zero to the currency's minor unit.
func (f formatter) money(amount decimal.Decimal) string {
	minor := amount.Shift(int32(f.currency.Fraction)).Round(0)
	if minor.GreaterThan(maxMinor) || minor.LessThan(minMinor) {
		return f.wide(amount)
	}
	return money.New(minor.IntPart(), f.currency.Code).Display()
}

// wide renders amounts whose minor units overflow int64 with the same
// currency layout go-money uses.
func (f formatter) wide(amount decimal.Decimal) string {
	fixed := amount.Abs().StringFixed(int32(f.currency.Fraction))
	whole, frac, _ := strings.Cut(fixed, ".")

	var b strings.Builder
	for i, r := range whole {
		if i > 0 && (len(whole)-i)%3 == 0 {
			b.WriteString(f.currency.Thousand)
		}
		b.WriteRune(r)
	}
	if frac != "" {
		b.WriteString(f.currency.Decimal)
		b.WriteString(frac)
	}

	out := strings.Replace(f.currency.Template, "1", b.String(), 1)
	out = strings.Replace(out, "$", f.currency.Grapheme, 1)
	if amount.IsNegative() {
		out = "-" + out
	}
	return out
}
