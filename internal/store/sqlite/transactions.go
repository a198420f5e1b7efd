package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"

	"github.com/mrovelli/conto/internal/domain"
	"github.com/mrovelli/conto/internal/live"
	"github.com/mrovelli/conto/internal/store"
)

const transactionColumns = `id, account_id, date, description, amount, category, notes, is_recurring, subscription_id, inserted_at`

func scanTransaction(row interface{ Scan(...any) error }) (*domain.Transaction, error) {
	var (
		t         domain.Transaction
		id        int64
		accountID int64
		date      string
		amount    int64
		notes     sql.NullString
		subID     sql.NullInt64
	)
	err := row.Scan(&id, &accountID, &date, &t.Description, &amount, &t.Category, &notes, &t.Recurring, &subID, &t.InsertedAt)
	if err != nil {
		return nil, err
	}
	d, err := civil.ParseDate(date)
	if err != nil {
		return nil, fmt.Errorf("parsing date %q: %w", date, err)
	}
	t.ID = formatID(id)
	t.AccountID = formatID(accountID)
	t.Date = d
	t.Amount = fromCents(amount)
	t.Notes = notes.String
	if subID.Valid {
		t.SubscriptionID = formatID(subID.Int64)
	}
	return &t, nil
}

func (s *Store) insertTransactionTx(ctx context.Context, tx *sql.Tx, t *domain.Transaction) (int64, error) {
	accountID, err := parseID(t.AccountID)
	if err != nil {
		return 0, err
	}
	var subID sql.NullInt64
	if t.SubscriptionID != "" {
		n, err := parseID(t.SubscriptionID)
		if err != nil {
			return 0, fmt.Errorf("subscription reference: %w", err)
		}
		subID = sql.NullInt64{Int64: n, Valid: true}
	}
	insertedAt := t.InsertedAt
	if insertedAt.IsZero() {
		insertedAt = time.Now().UTC()
	}
	res, err := tx.ExecContext(ctx, `
		INSERT INTO transactions (account_id, date, description, amount, category, notes, is_recurring, subscription_id, inserted_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		accountID, t.Date.String(), t.Description, cents(t.Amount), t.Category,
		nullString(t.Notes), t.Recurring, subID, insertedAt)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func txChange(t *domain.Transaction) change {
	return change{
		kind:           kindTransaction,
		accountID:      t.AccountID,
		date:           t.Date,
		hasDate:        true,
		category:       t.Category,
		recurring:      t.Recurring,
		subscriptionID: t.SubscriptionID,
	}
}

// InsertTransaction stores a single transaction without touching the owning
// account's cached balance. Use RecordTransaction for the balance-adjusting
// variant.
func (s *Store) InsertTransaction(ctx context.Context, t *domain.Transaction) (string, error) {
	var id int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		id, err = s.insertTransactionTx(ctx, tx, t)
		return err
	})
	if err != nil {
		return "", fmt.Errorf("InsertTransaction: %w", err)
	}
	s.hub.broadcast(txChange(t))
	return formatID(id), nil
}

// InsertTransactions stores a batch atomically: either all rows land or none.
func (s *Store) InsertTransactions(ctx context.Context, ts []*domain.Transaction) error {
	if len(ts) == 0 {
		return nil
	}
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		for _, t := range ts {
			if _, err := s.insertTransactionTx(ctx, tx, t); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("InsertTransactions: %w", err)
	}
	changes := make([]change, 0, len(ts))
	for _, t := range ts {
		changes = append(changes, txChange(t))
	}
	s.hub.broadcast(changes...)
	return nil
}

// UpdateTransaction replaces the stored row wholesale; there is no partial
// field patch.
func (s *Store) UpdateTransaction(ctx context.Context, t *domain.Transaction) error {
	id, err := parseID(t.ID)
	if err != nil {
		return fmt.Errorf("UpdateTransaction: %w", err)
	}
	accountID, err := parseID(t.AccountID)
	if err != nil {
		return fmt.Errorf("UpdateTransaction: %w", err)
	}
	var subID sql.NullInt64
	if t.SubscriptionID != "" {
		n, err := parseID(t.SubscriptionID)
		if err != nil {
			return fmt.Errorf("UpdateTransaction: subscription reference: %w", err)
		}
		subID = sql.NullInt64{Int64: n, Valid: true}
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE transactions
		SET account_id = ?, date = ?, description = ?, amount = ?, category = ?, notes = ?, is_recurring = ?, subscription_id = ?
		WHERE id = ?`,
		accountID, t.Date.String(), t.Description, cents(t.Amount), t.Category,
		nullString(t.Notes), t.Recurring, subID, id)
	if err != nil {
		return fmt.Errorf("UpdateTransaction: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("UpdateTransaction: transaction %s: %w", t.ID, domain.ErrNotFound)
	}
	s.hub.broadcast(txChange(t))
	return nil
}

// DeleteTransaction removes a row without adjusting the account balance.
func (s *Store) DeleteTransaction(ctx context.Context, id string) error {
	n, err := parseID(id)
	if err != nil {
		return fmt.Errorf("DeleteTransaction: %w", err)
	}
	old, err := s.GetTransaction(ctx, id)
	if err != nil {
		return fmt.Errorf("DeleteTransaction: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM transactions WHERE id = ?`, n); err != nil {
		return fmt.Errorf("DeleteTransaction: %w", err)
	}
	s.hub.broadcast(txChange(old))
	return nil
}

// DeleteTransactionsForAccount removes every transaction of one account.
func (s *Store) DeleteTransactionsForAccount(ctx context.Context, accountID string) error {
	n, err := parseID(accountID)
	if err != nil {
		return fmt.Errorf("DeleteTransactionsForAccount: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM transactions WHERE account_id = ?`, n); err != nil {
		return fmt.Errorf("DeleteTransactionsForAccount: %w", err)
	}
	s.hub.broadcast(change{kind: kindTransaction, accountID: accountID, broad: true})
	return nil
}

// GetTransaction fetches one transaction by identifier.
func (s *Store) GetTransaction(ctx context.Context, id string) (*domain.Transaction, error) {
	n, err := parseID(id)
	if err != nil {
		return nil, fmt.Errorf("GetTransaction: %w", err)
	}
	row := s.db.QueryRowContext(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE id = ?`, n)
	t, err := scanTransaction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("GetTransaction: transaction %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("GetTransaction: %w", err)
	}
	return t, nil
}

func (s *Store) queryTransactions(ctx context.Context, where string, args ...any) ([]*domain.Transaction, error) {
	q := `SELECT ` + transactionColumns + ` FROM transactions`
	if where != "" {
		q += ` WHERE ` + where
	}
	q += ` ORDER BY date DESC, id DESC`

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("queryTransactions: %w", err)
	}
	defer rows.Close()

	var out []*domain.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("queryTransactions: scanning: %w", err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("queryTransactions: iterating: %w", err)
	}
	return out, nil
}

// WatchAllTransactions emits every transaction, newest first.
func (s *Store) WatchAllTransactions(ctx context.Context) *live.Feed[[]*domain.Transaction] {
	return watchFeed(ctx, s, anyTransaction,
		func(ctx context.Context) ([]*domain.Transaction, error) {
			return s.queryTransactions(ctx, "")
		},
		equalTransactions)
}

// WatchTransactionsByAccount emits the account's transactions, newest first.
func (s *Store) WatchTransactionsByAccount(ctx context.Context, accountID string) *live.Feed[[]*domain.Transaction] {
	n, err := parseID(accountID)
	if err != nil {
		return live.Failed[[]*domain.Transaction](fmt.Errorf("WatchTransactionsByAccount: %w", err))
	}
	return watchFeed(ctx, s,
		func(c change) bool { return c.kind == kindTransaction && (c.broad || c.accountID == accountID) },
		func(ctx context.Context) ([]*domain.Transaction, error) {
			return s.queryTransactions(ctx, `account_id = ?`, n)
		},
		equalTransactions)
}

// WatchTransactionsByDateRange emits transactions inside the inclusive range.
// Writes dated outside the range do not trigger an emission.
func (s *Store) WatchTransactionsByDateRange(ctx context.Context, r store.DateRange) *live.Feed[[]*domain.Transaction] {
	return watchFeed(ctx, s,
		func(c change) bool {
			if c.kind != kindTransaction {
				return false
			}
			if c.broad || !c.hasDate {
				return true
			}
			return r.Contains(c.date)
		},
		func(ctx context.Context) ([]*domain.Transaction, error) {
			return s.queryTransactions(ctx, `date >= ? AND date <= ?`, r.From.String(), r.To.String())
		},
		equalTransactions)
}

// WatchTransactionsByCategory emits transactions carrying the category label.
func (s *Store) WatchTransactionsByCategory(ctx context.Context, category string) *live.Feed[[]*domain.Transaction] {
	return watchFeed(ctx, s,
		func(c change) bool { return c.kind == kindTransaction && (c.broad || c.category == category) },
		func(ctx context.Context) ([]*domain.Transaction, error) {
			return s.queryTransactions(ctx, `category = ?`, category)
		},
		equalTransactions)
}

// WatchRecurringTransactions emits transactions flagged as recurring.
func (s *Store) WatchRecurringTransactions(ctx context.Context) *live.Feed[[]*domain.Transaction] {
	return watchFeed(ctx, s,
		func(c change) bool { return c.kind == kindTransaction && (c.broad || c.recurring) },
		func(ctx context.Context) ([]*domain.Transaction, error) {
			return s.queryTransactions(ctx, `is_recurring = 1`)
		},
		equalTransactions)
}

// WatchTransactionsBySubscription emits transactions linked to one
// subscription. The link may dangle; no existence check is made.
func (s *Store) WatchTransactionsBySubscription(ctx context.Context, subscriptionID string) *live.Feed[[]*domain.Transaction] {
	n, err := parseID(subscriptionID)
	if err != nil {
		return live.Failed[[]*domain.Transaction](fmt.Errorf("WatchTransactionsBySubscription: %w", err))
	}
	return watchFeed(ctx, s,
		func(c change) bool {
			return c.kind == kindTransaction && (c.broad || c.subscriptionID == subscriptionID)
		},
		func(ctx context.Context) ([]*domain.Transaction, error) {
			return s.queryTransactions(ctx, `subscription_id = ?`, n)
		},
		equalTransactions)
}

// WatchCategories emits the distinct category labels, ascending.
func (s *Store) WatchCategories(ctx context.Context) *live.Feed[[]string] {
	return watchFeed(ctx, s, anyTransaction, s.listCategories, equalStrings)
}

func (s *Store) listCategories(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT category FROM transactions WHERE category <> '' ORDER BY category ASC`)
	if err != nil {
		return nil, fmt.Errorf("listCategories: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var c string
		if err := rows.Scan(&c); err != nil {
			return nil, fmt.Errorf("listCategories: scanning: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listCategories: iterating: %w", err)
	}
	return out, nil
}

func (s *Store) sumCents(ctx context.Context, query string, args ...any) (int64, error) {
	var total int64
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&total); err != nil {
		return 0, err
	}
	return total, nil
}

// SumForAccount returns the signed sum of the account's transactions; zero
// for an account with none.
func (s *Store) SumForAccount(ctx context.Context, accountID string) (decimal.Decimal, error) {
	n, err := parseID(accountID)
	if err != nil {
		return decimal.Zero, fmt.Errorf("SumForAccount: %w", err)
	}
	total, err := s.sumCents(ctx, `SELECT COALESCE(SUM(amount), 0) FROM transactions WHERE account_id = ?`, n)
	if err != nil {
		return decimal.Zero, fmt.Errorf("SumForAccount: %w", err)
	}
	return fromCents(total), nil
}

// SumForAccountThrough returns the signed sum of the account's transactions
// dated on or before the given date.
func (s *Store) SumForAccountThrough(ctx context.Context, accountID string, through civil.Date) (decimal.Decimal, error) {
	n, err := parseID(accountID)
	if err != nil {
		return decimal.Zero, fmt.Errorf("SumForAccountThrough: %w", err)
	}
	total, err := s.sumCents(ctx,
		`SELECT COALESCE(SUM(amount), 0) FROM transactions WHERE account_id = ? AND date <= ?`,
		n, through.String())
	if err != nil {
		return decimal.Zero, fmt.Errorf("SumForAccountThrough: %w", err)
	}
	return fromCents(total), nil
}

// IncomeInRange returns the sum of positive amounts dated inside the range.
func (s *Store) IncomeInRange(ctx context.Context, r store.DateRange) (decimal.Decimal, error) {
	total, err := s.sumCents(ctx,
		`SELECT COALESCE(SUM(amount), 0) FROM transactions WHERE amount > 0 AND date >= ? AND date <= ?`,
		r.From.String(), r.To.String())
	if err != nil {
		return decimal.Zero, fmt.Errorf("IncomeInRange: %w", err)
	}
	return fromCents(total), nil
}

// ExpenseInRange returns the absolute sum of negative amounts dated inside
// the range.
func (s *Store) ExpenseInRange(ctx context.Context, r store.DateRange) (decimal.Decimal, error) {
	total, err := s.sumCents(ctx,
		`SELECT COALESCE(SUM(-amount), 0) FROM transactions WHERE amount < 0 AND date >= ? AND date <= ?`,
		r.From.String(), r.To.String())
	if err != nil {
		return decimal.Zero, fmt.Errorf("ExpenseInRange: %w", err)
	}
	return fromCents(total), nil
}

// WatchSum emits the live signed sum for an account.
func (s *Store) WatchSum(ctx context.Context, accountID string) *live.Feed[decimal.Decimal] {
	return watchFeed(ctx, s,
		func(c change) bool { return c.kind == kindTransaction && (c.broad || c.accountID == accountID) },
		func(ctx context.Context) (decimal.Decimal, error) {
			return s.SumForAccount(ctx, accountID)
		},
		equalDecimal)
}

// WatchSumThrough emits the live signed sum of transactions dated on or
// before through.
func (s *Store) WatchSumThrough(ctx context.Context, accountID string, through civil.Date) *live.Feed[decimal.Decimal] {
	return watchFeed(ctx, s,
		func(c change) bool {
			if c.kind != kindTransaction {
				return false
			}
			if c.broad || c.accountID != accountID {
				return c.broad
			}
			return !c.hasDate || !c.date.After(through)
		},
		func(ctx context.Context) (decimal.Decimal, error) {
			return s.SumForAccountThrough(ctx, accountID, through)
		},
		equalDecimal)
}

// WatchIncome emits the live income total for the range.
func (s *Store) WatchIncome(ctx context.Context, r store.DateRange) *live.Feed[decimal.Decimal] {
	return watchFeed(ctx, s,
		func(c change) bool {
			return c.kind == kindTransaction && (c.broad || !c.hasDate || r.Contains(c.date))
		},
		func(ctx context.Context) (decimal.Decimal, error) {
			return s.IncomeInRange(ctx, r)
		},
		equalDecimal)
}

// WatchExpense emits the live expense total for the range.
func (s *Store) WatchExpense(ctx context.Context, r store.DateRange) *live.Feed[decimal.Decimal] {
	return watchFeed(ctx, s,
		func(c change) bool {
			return c.kind == kindTransaction && (c.broad || !c.hasDate || r.Contains(c.date))
		},
		func(ctx context.Context) (decimal.Decimal, error) {
			return s.ExpenseInRange(ctx, r)
		},
		equalDecimal)
}

// WatchTransactionCount emits the live number of transactions on an account.
func (s *Store) WatchTransactionCount(ctx context.Context, accountID string) *live.Feed[int64] {
	n, err := parseID(accountID)
	if err != nil {
		return live.Failed[int64](fmt.Errorf("WatchTransactionCount: %w", err))
	}
	return watchFeed(ctx, s,
		func(c change) bool { return c.kind == kindTransaction && (c.broad || c.accountID == accountID) },
		func(ctx context.Context) (int64, error) {
			return s.sumCents(ctx, `SELECT COUNT(*) FROM transactions WHERE account_id = ?`, n)
		},
		equalInt64)
}

// WatchCategoryCount emits the live number of distinct category labels.
func (s *Store) WatchCategoryCount(ctx context.Context) *live.Feed[int64] {
	return watchFeed(ctx, s, anyTransaction,
		func(ctx context.Context) (int64, error) {
			return s.sumCents(ctx, `SELECT COUNT(DISTINCT category) FROM transactions WHERE category <> ''`)
		},
		equalInt64)
}
