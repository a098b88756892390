package analyzer

import (
	"strings"
	"unicode"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/unicode/norm"

	"github.com/agencyhub/api/pkg/domain/agency"
)

// formatter renders figures in the agency's locale.
type formatter struct {
	printer  *message.Printer
	currency string
}

func newFormatter(ag *agency.Agency) formatter {
	locale, currency := "en", "EUR"
	if ag != nil {
		locale, currency = ag.Locale(), ag.Currency()
	}
	tag, err := language.Parse(locale)
	if err != nil {
		tag = language.English
	}
	return formatter{printer: message.NewPrinter(tag), currency: currency}
}

// Money formats an amount given in cents.
func (f formatter) Money(cents float64) string {
	return f.printer.Sprintf("%s %.2f", f.currency, cents/100)
}

// Percent formats a ratio in [0,1].
func (f formatter) Percent(v float64) string {
	return f.printer.Sprintf("%.1f%%", v*100)
}

// Count formats an integer with grouping.
func (f formatter) Count(n int) string {
	return f.printer.Sprintf("%d", n)
}

const maxFreeText = 500

// sanitizeText normalizes user supplied text before it reaches a prompt:
// NFKC folding, control characters dropped, length capped.
func sanitizeText(s string) string {
	s = norm.NFKC.String(s)
	var sb strings.Builder
	n := 0
	for _, r := range s {
		if n >= maxFreeText {
			break
		}
		if unicode.IsControl(r) && r != '\n' {
			continue
		}
		sb.WriteRune(r)
		n++
	}
	return strings.TrimSpace(sb.String())
}
