package domain

import (
	"time"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"
)

// Transaction is a single signed movement on an account. Positive amounts are
// inflows, negative amounts are outflows. A recurring transaction additionally
// references the subscription that generated it; the reference is
// informational and may dangle after a subscription hard delete, so readers
// must not assume it resolves.
type Transaction struct {
	ID             string
	AccountID      string
	Date           civil.Date
	Description    string
	Amount         decimal.Decimal
	Category       string
	Notes          string
	Recurring      bool
	SubscriptionID string
	InsertedAt     time.Time
}

// IsIncome reports whether the transaction is an inflow. Zero-amount
// transactions are neither income nor expense.
func (t *Transaction) IsIncome() bool {
	return t.Amount.IsPositive()
}

// IsExpense reports whether the transaction is an outflow.
func (t *Transaction) IsExpense() bool {
	return t.Amount.IsNegative()
}
