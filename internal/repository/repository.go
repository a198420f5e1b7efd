// Package repository is the façade the rest of the application calls. It
// composes the query layer and the balance engine, enforces validation and
// owner scoping before any write, and exposes the composite transactional
// operations with their atomicity contracts.
package repository

import (
	"context"
	"errors"
	"fmt"

	"cloud.google.com/go/civil"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/mrovelli/conto/internal/balance"
	"github.com/mrovelli/conto/internal/domain"
	"github.com/mrovelli/conto/internal/live"
	"github.com/mrovelli/conto/internal/store"
)

// Repository unifies both storage backends behind one contract. It is
// constructed once at the composition root and passed by reference; it never
// references a concrete store type.
type Repository struct {
	store  store.Store
	engine *balance.Engine
	owner  string
	log    zerolog.Logger
}

// New builds a repository scoped to the resolved owner identity. An empty
// owner is allowed at construction but every operation will fail with
// domain.ErrUnauthenticated until a real identity is supplied.
func New(st store.Store, owner string, log zerolog.Logger) *Repository {
	return &Repository{
		store:  st,
		engine: balance.New(st),
		owner:  owner,
		log:    log.With().Str("component", "repository").Logger(),
	}
}

func (r *Repository) authed() error {
	if r.owner == "" {
		return domain.ErrUnauthenticated
	}
	return nil
}

// --- Accounts ---

// CreateAccount validates and stores a new account, returning its assigned
// identifier.
func (r *Repository) CreateAccount(ctx context.Context, a *domain.Account) (string, error) {
	if err := r.authed(); err != nil {
		return "", err
	}
	if err := validateAccount(a); err != nil {
		return "", err
	}
	id, err := r.store.InsertAccount(ctx, a)
	if err != nil {
		return "", fmt.Errorf("CreateAccount: %w", err)
	}
	r.log.Info().Str("account_id", id).Str("name", a.Name).Msg("account created")
	return id, nil
}

// UpdateAccount validates and replaces the stored account record.
func (r *Repository) UpdateAccount(ctx context.Context, a *domain.Account) error {
	if err := r.authed(); err != nil {
		return err
	}
	if a.ID == "" {
		return domain.Invalid("id", "must not be empty")
	}
	if err := validateAccount(a); err != nil {
		return err
	}
	if err := r.store.UpdateAccount(ctx, a); err != nil {
		return fmt.Errorf("UpdateAccount: %w", err)
	}
	return nil
}

// DeleteAccount removes the account and everything it owns: all of its
// transactions and subscriptions go with it.
func (r *Repository) DeleteAccount(ctx context.Context, id string) error {
	if err := r.authed(); err != nil {
		return err
	}
	if err := r.store.DeleteAccount(ctx, id); err != nil {
		return fmt.Errorf("DeleteAccount: %w", err)
	}
	r.log.Info().Str("account_id", id).Msg("account deleted with cascade")
	return nil
}

// GetAccount fetches one account.
func (r *Repository) GetAccount(ctx context.Context, id string) (*domain.Account, error) {
	if err := r.authed(); err != nil {
		return nil, err
	}
	return r.store.GetAccount(ctx, id)
}

// WatchAccounts emits all accounts, most recently updated first.
func (r *Repository) WatchAccounts(ctx context.Context) *live.Feed[[]*domain.Account] {
	if err := r.authed(); err != nil {
		return live.Failed[[]*domain.Account](err)
	}
	return r.store.WatchAccounts(ctx)
}

// --- Transactions ---

// RecordTransaction inserts the transaction and atomically adjusts the
// owning account's cached balance by its signed amount. The adjustment is a
// guarded read-modify-write in the backing store, so concurrent recorders
// never lose updates.
func (r *Repository) RecordTransaction(ctx context.Context, t *domain.Transaction) (string, error) {
	if err := r.authed(); err != nil {
		return "", err
	}
	if err := r.validateTransaction(ctx, t); err != nil {
		return "", err
	}
	id, err := r.store.RecordTransaction(ctx, t)
	if err != nil {
		return "", fmt.Errorf("RecordTransaction: %w", err)
	}
	r.log.Debug().Str("transaction_id", id).Str("account_id", t.AccountID).
		Str("amount", t.Amount.String()).Msg("transaction recorded")
	return id, nil
}

// DeleteTransaction reads the transaction, applies the inverse balance
// adjustment and removes it. Unknown ids fail with domain.ErrNotFound and
// mutate nothing.
func (r *Repository) DeleteTransaction(ctx context.Context, id string) error {
	if err := r.authed(); err != nil {
		return err
	}
	if err := r.store.RemoveTransaction(ctx, id); err != nil {
		return fmt.Errorf("DeleteTransaction: %w", err)
	}
	return nil
}

// UpdateTransaction replaces a stored transaction wholesale; there is no
// partial patch.
func (r *Repository) UpdateTransaction(ctx context.Context, t *domain.Transaction) error {
	if err := r.authed(); err != nil {
		return err
	}
	if t.ID == "" {
		return domain.Invalid("id", "must not be empty")
	}
	if err := r.validateTransaction(ctx, t); err != nil {
		return err
	}
	if err := r.store.UpdateTransaction(ctx, t); err != nil {
		return fmt.Errorf("UpdateTransaction: %w", err)
	}
	return nil
}

// GetTransaction fetches one transaction.
func (r *Repository) GetTransaction(ctx context.Context, id string) (*domain.Transaction, error) {
	if err := r.authed(); err != nil {
		return nil, err
	}
	return r.store.GetTransaction(ctx, id)
}

// ImportTransactions bulk-inserts ready-made transaction records, e.g. from
// the external file-import adapter. Balances are not adjusted; importers
// follow with ReplaceTransactionsForAccount semantics or recompute via the
// balance engine.
func (r *Repository) ImportTransactions(ctx context.Context, ts []*domain.Transaction) error {
	if err := r.authed(); err != nil {
		return err
	}
	for _, t := range ts {
		if err := r.validateTransaction(ctx, t); err != nil {
			return err
		}
	}
	if err := r.store.InsertTransactions(ctx, ts); err != nil {
		return fmt.Errorf("ImportTransactions: %w", err)
	}
	r.log.Info().Int("count", len(ts)).Msg("transactions imported")
	return nil
}

// ReplaceTransactionsForAccount swaps the account's whole transaction set.
// On the relational backend the swap is atomic; the document backend accepts
// a documented risk window between delete and insert. Re-running the same
// replacement is idempotent.
func (r *Repository) ReplaceTransactionsForAccount(ctx context.Context, accountID string, ts []*domain.Transaction) error {
	if err := r.authed(); err != nil {
		return err
	}
	for _, t := range ts {
		if t.AccountID == "" {
			t.AccountID = accountID
		}
		if t.AccountID != accountID {
			return domain.Invalid("account_id", "all replacement transactions must belong to the target account")
		}
		if err := r.validateTransaction(ctx, t); err != nil {
			return err
		}
	}
	if err := r.store.ReplaceTransactionsForAccount(ctx, accountID, ts); err != nil {
		return fmt.Errorf("ReplaceTransactionsForAccount: %w", err)
	}
	r.log.Info().Str("account_id", accountID).Int("count", len(ts)).Msg("transactions replaced")
	return nil
}

// WatchAllTransactions emits every transaction, newest first.
func (r *Repository) WatchAllTransactions(ctx context.Context) *live.Feed[[]*domain.Transaction] {
	if err := r.authed(); err != nil {
		return live.Failed[[]*domain.Transaction](err)
	}
	return r.store.WatchAllTransactions(ctx)
}

// WatchTransactionsByAccount emits the account's transactions, newest first.
func (r *Repository) WatchTransactionsByAccount(ctx context.Context, accountID string) *live.Feed[[]*domain.Transaction] {
	if err := r.authed(); err != nil {
		return live.Failed[[]*domain.Transaction](err)
	}
	return r.store.WatchTransactionsByAccount(ctx, accountID)
}

// WatchTransactionsByDateRange emits transactions inside the inclusive range.
func (r *Repository) WatchTransactionsByDateRange(ctx context.Context, dr store.DateRange) *live.Feed[[]*domain.Transaction] {
	if err := r.authed(); err != nil {
		return live.Failed[[]*domain.Transaction](err)
	}
	return r.store.WatchTransactionsByDateRange(ctx, dr)
}

// WatchTransactionsByCategory emits transactions carrying the label.
func (r *Repository) WatchTransactionsByCategory(ctx context.Context, category string) *live.Feed[[]*domain.Transaction] {
	if err := r.authed(); err != nil {
		return live.Failed[[]*domain.Transaction](err)
	}
	return r.store.WatchTransactionsByCategory(ctx, category)
}

// WatchRecurringTransactions emits transactions flagged recurring.
func (r *Repository) WatchRecurringTransactions(ctx context.Context) *live.Feed[[]*domain.Transaction] {
	if err := r.authed(); err != nil {
		return live.Failed[[]*domain.Transaction](err)
	}
	return r.store.WatchRecurringTransactions(ctx)
}

// WatchTransactionsBySubscription emits transactions linked to the
// subscription, tolerating dangling links.
func (r *Repository) WatchTransactionsBySubscription(ctx context.Context, subscriptionID string) *live.Feed[[]*domain.Transaction] {
	if err := r.authed(); err != nil {
		return live.Failed[[]*domain.Transaction](err)
	}
	return r.store.WatchTransactionsBySubscription(ctx, subscriptionID)
}

// WatchCategories emits the distinct category labels, ascending.
func (r *Repository) WatchCategories(ctx context.Context) *live.Feed[[]string] {
	if err := r.authed(); err != nil {
		return live.Failed[[]string](err)
	}
	return r.store.WatchCategories(ctx)
}

// WatchIncome emits the live income total for the range.
func (r *Repository) WatchIncome(ctx context.Context, dr store.DateRange) *live.Feed[decimal.Decimal] {
	if err := r.authed(); err != nil {
		return live.Failed[decimal.Decimal](err)
	}
	return r.store.WatchIncome(ctx, dr)
}

// WatchExpense emits the live expense total for the range, as an absolute
// value.
func (r *Repository) WatchExpense(ctx context.Context, dr store.DateRange) *live.Feed[decimal.Decimal] {
	if err := r.authed(); err != nil {
		return live.Failed[decimal.Decimal](err)
	}
	return r.store.WatchExpense(ctx, dr)
}

// WatchTransactionCount emits the live per-account transaction count.
func (r *Repository) WatchTransactionCount(ctx context.Context, accountID string) *live.Feed[int64] {
	if err := r.authed(); err != nil {
		return live.Failed[int64](err)
	}
	return r.store.WatchTransactionCount(ctx, accountID)
}

// WatchCategoryCount emits the live distinct-category count.
func (r *Repository) WatchCategoryCount(ctx context.Context) *live.Feed[int64] {
	if err := r.authed(); err != nil {
		return live.Failed[int64](err)
	}
	return r.store.WatchCategoryCount(ctx)
}

// --- Balances & stats ---

// Balance returns the account's current balance: opening balance plus the
// signed sum of its transactions.
func (r *Repository) Balance(ctx context.Context, accountID string) (decimal.Decimal, error) {
	if err := r.authed(); err != nil {
		return decimal.Zero, err
	}
	return r.engine.Balance(ctx, accountID)
}

// BalanceAsOf returns the balance at end of the given date.
func (r *Repository) BalanceAsOf(ctx context.Context, accountID string, date civil.Date) (decimal.Decimal, error) {
	if err := r.authed(); err != nil {
		return decimal.Zero, err
	}
	return r.engine.BalanceAsOf(ctx, accountID, date)
}

// WatchBalance emits the live balance for the account.
func (r *Repository) WatchBalance(ctx context.Context, accountID string) (*live.Feed[decimal.Decimal], error) {
	if err := r.authed(); err != nil {
		return nil, err
	}
	return r.engine.WatchBalance(ctx, accountID)
}

// PeriodStats summarizes spending for an inclusive date range.
type PeriodStats struct {
	Income  decimal.Decimal
	Expense decimal.Decimal
	Net     decimal.Decimal
}

// Stats computes income, expense and net totals for the range.
func (r *Repository) Stats(ctx context.Context, dr store.DateRange) (PeriodStats, error) {
	if err := r.authed(); err != nil {
		return PeriodStats{}, err
	}
	income, err := r.store.IncomeInRange(ctx, dr)
	if err != nil {
		return PeriodStats{}, fmt.Errorf("Stats: %w", err)
	}
	expense, err := r.store.ExpenseInRange(ctx, dr)
	if err != nil {
		return PeriodStats{}, fmt.Errorf("Stats: %w", err)
	}
	return PeriodStats{
		Income:  income,
		Expense: expense,
		Net:     income.Sub(expense),
	}, nil
}

// --- Subscriptions ---

// CreateSubscription validates and stores a new subscription.
func (r *Repository) CreateSubscription(ctx context.Context, sub *domain.Subscription) (string, error) {
	if err := r.authed(); err != nil {
		return "", err
	}
	if err := validateSubscription(sub); err != nil {
		return "", err
	}
	normalizeSubscription(sub)
	id, err := r.store.InsertSubscription(ctx, sub)
	if err != nil {
		return "", fmt.Errorf("CreateSubscription: %w", err)
	}
	r.log.Info().Str("subscription_id", id).Str("name", sub.Name).Msg("subscription created")
	return id, nil
}

// UpdateSubscription validates and replaces the stored record.
func (r *Repository) UpdateSubscription(ctx context.Context, sub *domain.Subscription) error {
	if err := r.authed(); err != nil {
		return err
	}
	if sub.ID == "" {
		return domain.Invalid("id", "must not be empty")
	}
	if err := validateSubscription(sub); err != nil {
		return err
	}
	normalizeSubscription(sub)
	if err := r.store.UpdateSubscription(ctx, sub); err != nil {
		return fmt.Errorf("UpdateSubscription: %w", err)
	}
	return nil
}

// DeactivateSubscription soft-deletes: active=false, end date recorded.
// Linked transactions are left untouched.
func (r *Repository) DeactivateSubscription(ctx context.Context, id string, end civil.Date) error {
	if err := r.authed(); err != nil {
		return err
	}
	if err := r.store.DeactivateSubscription(ctx, id, end); err != nil {
		return fmt.Errorf("DeactivateSubscription: %w", err)
	}
	return nil
}

// DeleteSubscription hard-deletes on explicit request only. Transactions
// referencing it are not cascaded; their link dangles afterwards.
func (r *Repository) DeleteSubscription(ctx context.Context, id string) error {
	if err := r.authed(); err != nil {
		return err
	}
	if err := r.store.DeleteSubscription(ctx, id); err != nil {
		return fmt.Errorf("DeleteSubscription: %w", err)
	}
	return nil
}

// GetSubscription fetches one subscription.
func (r *Repository) GetSubscription(ctx context.Context, id string) (*domain.Subscription, error) {
	if err := r.authed(); err != nil {
		return nil, err
	}
	return r.store.GetSubscription(ctx, id)
}

// WatchSubscriptionsByAccount emits the account's subscriptions.
func (r *Repository) WatchSubscriptionsByAccount(ctx context.Context, accountID string) *live.Feed[[]*domain.Subscription] {
	if err := r.authed(); err != nil {
		return live.Failed[[]*domain.Subscription](err)
	}
	return r.store.WatchSubscriptionsByAccount(ctx, accountID)
}

// WatchActiveSubscriptions emits every active subscription.
func (r *Repository) WatchActiveSubscriptions(ctx context.Context) *live.Feed[[]*domain.Subscription] {
	if err := r.authed(); err != nil {
		return live.Failed[[]*domain.Subscription](err)
	}
	return r.store.WatchActiveSubscriptions(ctx)
}

// validateTransaction combines field checks with the opportunistic
// referential check on the subscription link. The check is best-effort by
// design: a subscription hard-deleted afterwards still leaves a dangling
// reference that readers tolerate.
func (r *Repository) validateTransaction(ctx context.Context, t *domain.Transaction) error {
	if err := validateTransactionFields(t); err != nil {
		return err
	}
	if t.Recurring {
		if _, err := r.store.GetSubscription(ctx, t.SubscriptionID); err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return domain.Invalid("subscription_id", "referenced subscription does not exist")
			}
			return fmt.Errorf("validating subscription reference: %w", err)
		}
	}
	return nil
}
