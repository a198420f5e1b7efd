// Package store defines the query layer contract that both storage backends
// satisfy: typed reads and writes over accounts, transactions and
// subscriptions, live filtered lists and live scalar aggregates, plus the
// composite transactional primitives the repository builds on.
package store

import (
	"context"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"

	"github.com/mrovelli/conto/internal/domain"
	"github.com/mrovelli/conto/internal/live"
)

// DateRange is an inclusive calendar interval; both bounds belong to it.
type DateRange struct {
	From civil.Date
	To   civil.Date
}

// Contains reports whether d falls inside the range.
func (r DateRange) Contains(d civil.Date) bool {
	return !d.Before(r.From) && !d.After(r.To)
}

// AccountStore covers account persistence. DeleteAccount cascades to every
// transaction and subscription owned by the account.
type AccountStore interface {
	InsertAccount(ctx context.Context, a *domain.Account) (string, error)
	UpdateAccount(ctx context.Context, a *domain.Account) error
	DeleteAccount(ctx context.Context, id string) error
	GetAccount(ctx context.Context, id string) (*domain.Account, error)

	// WatchAccounts emits all accounts ordered by last update, newest first.
	WatchAccounts(ctx context.Context) *live.Feed[[]*domain.Account]
}

// TransactionStore covers transaction persistence and aggregation. Live list
// results are ordered by date descending; WatchCategories is the exception,
// ordered ascending.
type TransactionStore interface {
	InsertTransaction(ctx context.Context, t *domain.Transaction) (string, error)
	InsertTransactions(ctx context.Context, ts []*domain.Transaction) error
	UpdateTransaction(ctx context.Context, t *domain.Transaction) error
	DeleteTransaction(ctx context.Context, id string) error
	DeleteTransactionsForAccount(ctx context.Context, accountID string) error
	GetTransaction(ctx context.Context, id string) (*domain.Transaction, error)

	WatchAllTransactions(ctx context.Context) *live.Feed[[]*domain.Transaction]
	WatchTransactionsByAccount(ctx context.Context, accountID string) *live.Feed[[]*domain.Transaction]
	WatchTransactionsByDateRange(ctx context.Context, r DateRange) *live.Feed[[]*domain.Transaction]
	WatchTransactionsByCategory(ctx context.Context, category string) *live.Feed[[]*domain.Transaction]
	WatchRecurringTransactions(ctx context.Context) *live.Feed[[]*domain.Transaction]
	WatchTransactionsBySubscription(ctx context.Context, subscriptionID string) *live.Feed[[]*domain.Transaction]
	WatchCategories(ctx context.Context) *live.Feed[[]string]

	// One-shot aggregates.
	SumForAccount(ctx context.Context, accountID string) (decimal.Decimal, error)
	SumForAccountThrough(ctx context.Context, accountID string, through civil.Date) (decimal.Decimal, error)
	IncomeInRange(ctx context.Context, r DateRange) (decimal.Decimal, error)
	ExpenseInRange(ctx context.Context, r DateRange) (decimal.Decimal, error)

	// Live scalar aggregates.
	WatchSum(ctx context.Context, accountID string) *live.Feed[decimal.Decimal]
	WatchSumThrough(ctx context.Context, accountID string, through civil.Date) *live.Feed[decimal.Decimal]
	WatchIncome(ctx context.Context, r DateRange) *live.Feed[decimal.Decimal]
	WatchExpense(ctx context.Context, r DateRange) *live.Feed[decimal.Decimal]
	WatchTransactionCount(ctx context.Context, accountID string) *live.Feed[int64]
	WatchCategoryCount(ctx context.Context) *live.Feed[int64]
}

// SubscriptionStore covers subscription persistence. DeleteSubscription is a
// hard delete and deliberately leaves linked transactions in place, so their
// subscription reference may dangle afterwards.
type SubscriptionStore interface {
	InsertSubscription(ctx context.Context, s *domain.Subscription) (string, error)
	UpdateSubscription(ctx context.Context, s *domain.Subscription) error
	DeleteSubscription(ctx context.Context, id string) error
	GetSubscription(ctx context.Context, id string) (*domain.Subscription, error)

	WatchSubscriptionsByAccount(ctx context.Context, accountID string) *live.Feed[[]*domain.Subscription]
	WatchActiveSubscriptions(ctx context.Context) *live.Feed[[]*domain.Subscription]
}

// CompositeStore holds the multi-step operations that must run inside the
// backend's native transaction primitive.
type CompositeStore interface {
	// RecordTransaction inserts t and atomically adjusts the owning
	// account's cached balance by t.Amount, stamping its last update.
	// The adjustment is a guarded read-modify-write: the persisted balance
	// is read at adjustment time, never earlier.
	RecordTransaction(ctx context.Context, t *domain.Transaction) (string, error)

	// RemoveTransaction reads the transaction, applies the inverse balance
	// adjustment and deletes the row. If the id does not resolve it fails
	// with domain.ErrNotFound and performs no mutation.
	RemoveTransaction(ctx context.Context, id string) error

	// ReplaceTransactionsForAccount deletes every transaction of the
	// account, inserts ts and stamps the account's last update. Readers
	// observe either the prior state or the full new state.
	ReplaceTransactionsForAccount(ctx context.Context, accountID string, ts []*domain.Transaction) error

	// DeactivateSubscription soft-deletes: active=false, end date set.
	// Linked transactions are untouched.
	DeactivateSubscription(ctx context.Context, id string, end civil.Date) error
}

// Store is the full query-layer contract one backend implements.
type Store interface {
	AccountStore
	TransactionStore
	SubscriptionStore
	CompositeStore

	Close() error
}
