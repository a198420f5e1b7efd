package domain

import (
	"regexp"
	"time"

	"github.com/shopspring/decimal"
)

// AccountKind classifies an account by the kind of product backing it.
type AccountKind string

const (
	AccountPrimaryBank AccountKind = "PRIMARY_BANK"
	AccountCardWallet  AccountKind = "CARD_WALLET"
	AccountOther       AccountKind = "OTHER"
)

// DefaultCurrency is assumed when an account carries no currency code.
const DefaultCurrency = "EUR"

// Account is the root entity: every transaction and subscription is owned by
// exactly one account. Balance is a denormalized cache maintained by the
// repository's write operations; the authoritative balance is always
// OpeningBalance plus the signed sum of the account's transactions.
type Account struct {
	ID             string
	Name           string
	Kind           AccountKind
	OpeningBalance decimal.Decimal
	Balance        decimal.Decimal
	Currency       string
	IBAN           string
	Imported       bool
	UpdatedAt      time.Time
}

var ibanPattern = regexp.MustCompile(`^[A-Z]{2}[0-9]{2}[A-Z0-9]{11,30}$`)

// ibanLengths holds the total IBAN length for the countries we see in
// practice. Countries not listed fall back to the generic pattern bounds.
var ibanLengths = map[string]int{
	"AT": 20, "BE": 16, "CH": 21, "DE": 22, "ES": 24,
	"FR": 27, "GB": 22, "IE": 22, "IT": 27, "LU": 20,
	"NL": 18, "PT": 25,
}

// ValidIBAN reports whether s is syntactically plausible as an IBAN:
// two-letter country prefix, two check digits and a country-specific body.
// The checksum algorithm itself is not evaluated.
func ValidIBAN(s string) bool {
	if !ibanPattern.MatchString(s) {
		return false
	}
	if want, ok := ibanLengths[s[:2]]; ok {
		return len(s) == want
	}
	return true
}
