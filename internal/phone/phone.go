// Package phone turns free-form phone input into a canonical international number.
package phone

import (
	"strings"
	"unicode"
)

// Policy describes the national numbering rule used to rewrite local mobile numbers.
type Policy struct {
	Country        string
	CountryCode    string
	TrunkPrefix    string
	MobilePrefix   string
	NationalLength int
}

var (
	UK = Policy{Country: "GB", CountryCode: "44", TrunkPrefix: "0", MobilePrefix: "7", NationalLength: 11}
	IE = Policy{Country: "IE", CountryCode: "353", TrunkPrefix: "0", MobilePrefix: "8", NationalLength: 10}
)

var policies = map[string]Policy{
	UK.Country: UK,
	"UK":       UK,
	IE.Country: IE,
}

// PolicyFor looks up a built-in policy by ISO country code.
func PolicyFor(country string) (Policy, bool) {
	p, ok := policies[strings.ToUpper(strings.TrimSpace(country))]
	return p, ok
}

// Normalize is best-effort and never fails; deliverability is the gateway's call.
func (p Policy) Normalize(raw string) string {
	digits := strings.Map(func(r rune) rune {
		if unicode.IsDigit(r) && r < unicode.MaxASCII {
			return r
		}
		return -1
	}, raw)

	if digits == "" {
		return strings.TrimSpace(raw)
	}

	if p.isNationalMobile(digits) {
		return "+" + p.CountryCode + strings.TrimPrefix(digits, p.TrunkPrefix)
	}
	// Already international, or unrecognised: only the plus sign is missing.
	return "+" + digits
}

func (p Policy) isNationalMobile(digits string) bool {
	if p.TrunkPrefix == "" || len(digits) != p.NationalLength {
		return false
	}
	return strings.HasPrefix(digits, p.TrunkPrefix+p.MobilePrefix)
}

// Normalize applies the UK policy.
func Normalize(raw string) string { return UK.Normalize(raw) }
