package domain

import (
	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"
)

// Frequency is a subscription's payment cadence expressed as the number of
// months in one billing period.
type Frequency int

const (
	Monthly    Frequency = 1
	Quarterly  Frequency = 3
	Semiannual Frequency = 6
	Annual     Frequency = 12
)

// Months returns the billing period length in months.
func (f Frequency) Months() int {
	return int(f)
}

// Valid reports whether f is one of the supported cadences.
func (f Frequency) Valid() bool {
	switch f {
	case Monthly, Quarterly, Semiannual, Annual:
		return true
	}
	return false
}

// DefaultSubscriptionCategory labels transactions generated from
// subscriptions unless the subscription overrides it.
const DefaultSubscriptionCategory = "Subscription"

// Subscription is a recurring commitment charged against one account.
// Deactivation is a soft delete: Active flips to false and EndDate records
// when; the convention Active ⇔ EndDate==nil is enforced at the write
// boundary, not by the store.
type Subscription struct {
	ID          string
	Name        string
	Description string
	Amount      decimal.Decimal
	Frequency   Frequency
	StartDate   civil.Date
	NextRenewal civil.Date
	EndDate     *civil.Date
	AccountID   string
	Category    string
	Active      bool
	Notes       string
}

// MonthlyCost is the subscription's cost normalized to one month,
// rounded to two decimal places.
func (s *Subscription) MonthlyCost() decimal.Decimal {
	return s.Amount.DivRound(decimal.NewFromInt(int64(s.Frequency.Months())), 2)
}

// AnnualCost is the subscription's cost over a full year.
func (s *Subscription) AnnualCost() decimal.Decimal {
	return s.Amount.Mul(decimal.NewFromInt(int64(12 / s.Frequency.Months())))
}
