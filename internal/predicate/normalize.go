package predicate

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/Harshitk-cp/synapse/internal/domain"
)

// Normalize applies the schema's normalize mode to a claim value. The result
// goes into Claim.NormalizedValue and drives dedup and conflict comparison.
func Normalize(mode domain.NormalizeMode, value string) string {
	switch mode {
	case domain.NormalizeTrim:
		return strings.TrimSpace(value)
	case domain.NormalizeLowercase:
		return strings.ToLower(value)
	case domain.NormalizeLowercaseTrim:
		return strings.ToLower(strings.TrimSpace(value))
	case domain.NormalizeCurrency:
		return NormalizeCurrency(value)
	default:
		return value
	}
}

// currencySymbols maps money symbols to ISO codes. Longer symbols sort
// first in the pattern so "CA$" never half-matches as "$".
var currencySymbols = map[string]string{
	"US$": "USD",
	"CA$": "CAD",
	"AU$": "AUD",
	"C$":  "CAD",
	"A$":  "AUD",
	"$":   "USD",
	"€":   "EUR",
	"£":   "GBP",
	"¥":   "JPY",
	"₹":   "INR",
}

var currencyCodes = map[string]bool{
	"USD": true, "EUR": true, "GBP": true, "JPY": true,
	"CAD": true, "AUD": true, "INR": true,
}

const currencyToken = `US\$|CA\$|AU\$|C\$|A\$|\$|€|£|¥|₹|(?i:USD|EUR|GBP|JPY|CAD|AUD|INR)`

var currencyPattern = regexp.MustCompile(
	`^\s*(?:(` + currencyToken + `)\s*)?([0-9][0-9,]*(?:\.[0-9]+)?)(?:\s*(` + currencyToken + `))?\s*$`)

// NormalizeCurrency canonicalizes money values to "CODE AMOUNT" with the
// amount's trailing zeros trimmed to at most 12 fractional digits. Values
// where no known currency or no amount is found come back unchanged.
func NormalizeCurrency(value string) string {
	m := currencyPattern.FindStringSubmatch(value)
	if m == nil {
		return value
	}

	token := m[1]
	if token == "" {
		token = m[3]
	}
	if token == "" {
		return value
	}

	code := strings.ToUpper(token)
	if !currencyCodes[code] {
		sym, ok := currencySymbols[token]
		if !ok {
			return value
		}
		code = sym
	}

	amount, err := strconv.ParseFloat(strings.ReplaceAll(m[2], ",", ""), 64)
	if err != nil {
		return value
	}

	formatted := strconv.FormatFloat(amount, 'f', 12, 64)
	formatted = strings.TrimRight(formatted, "0")
	formatted = strings.TrimRight(formatted, ".")
	return code + " " + formatted
}
