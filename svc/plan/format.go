package plan

import (
	"math"
	"strconv"

	"golang.org/x/text/currency"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// FormatPrice renders a minor-unit amount for display, e.g. "$ 5.00".
// Unknown currencies fall back to "<amount> <code>".
func FormatPrice(p Price, lang language.Tag) string {
	unit, err := currency.ParseISO(p.Currency)
	if err != nil {
		return strconv.FormatInt(p.Amount, 10) + " " + p.Currency
	}
	scale, _ := currency.Standard.Rounding(unit)
	major := float64(p.Amount) / math.Pow10(scale)

	return message.NewPrinter(lang).Sprint(currency.Symbol(unit.Amount(major)))
}

// FormatLimit renders a daily quota for display.
func FormatLimit(limit int, lang language.Tag) string {
	if limit == Unlimited {
		return "unlimited requests"
	}
	return message.NewPrinter(lang).Sprintf("%d requests per day", limit)
}
