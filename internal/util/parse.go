package util

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	moneyPattern = regexp.MustCompile(`(\d{1,3}(?:[\s.,]\d{3})+(?:[.,]\d{1,2})?|\d+(?:[.,]\d+)?)`)
	qtyPattern   = regexp.MustCompile(`(?i)(?:x\s*(\d+)|(\d+)\s*(?:pcs?|pieces?|шт)\b|qty[:\s]*(\d+)|quantity[:\s]*(\d+))`)
)

// ParseMoney extracts the first monetary amount from text like "US $12.34",
// "12,30 €" or "$1,299.00". The second return is false when no numeric
// token is present.
func ParseMoney(input string) (decimal.Decimal, bool) {
	line := strings.ReplaceAll(input, " ", " ")
	m := moneyPattern.FindStringSubmatch(line)
	if len(m) < 2 {
		return decimal.Zero, false
	}
	norm := normalizeNumericToken(m[1])
	parsed, err := decimal.NewFromString(norm)
	if err != nil {
		return decimal.Zero, false
	}
	return parsed, true
}

// ParseQuantity extracts a purchase quantity from marketplace item text:
// "x2", "2 pcs", "Qty: 3". Returns 0 when nothing matched.
func ParseQuantity(input string) int {
	m := qtyPattern.FindStringSubmatch(input)
	if m == nil {
		return 0
	}
	for _, g := range m[1:] {
		if g == "" {
			continue
		}
		if n, err := strconv.Atoi(g); err == nil && n > 0 {
			return n
		}
	}
	return 0
}

// normalizeNumericToken collapses thousand separators and unifies the
// decimal mark to a dot. "1 000" -> "1000", "1.299,00" stays sane, "1,5"
// -> "1.5".
func normalizeNumericToken(token string) string {
	compact := strings.ReplaceAll(token, " ", "")
	if regexp.MustCompile(`^\d{1,3}(?:\.\d{3})+(?:,\d+)?$`).MatchString(compact) {
		compact = strings.ReplaceAll(compact, ".", "")
		return strings.ReplaceAll(compact, ",", ".")
	}
	if regexp.MustCompile(`^\d{1,3}(?:,\d{3})+(?:\.\d+)?$`).MatchString(compact) {
		return strings.ReplaceAll(compact, ",", "")
	}
	if strings.Contains(compact, ",") && !strings.Contains(compact, ".") {
		return strings.ReplaceAll(compact, ",", ".")
	}
	return compact
}
