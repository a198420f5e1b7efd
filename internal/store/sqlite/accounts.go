package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/mrovelli/conto/internal/domain"
	"github.com/mrovelli/conto/internal/live"
)

const accountColumns = `id, name, kind, saldo_iniziale, balance, currency, iban, source_flag, last_updated`

// parseID maps a domain identifier onto the integer primary key. Identifiers
// that never came from this store cannot resolve, so they report not found.
func parseID(id string) (int64, error) {
	n, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("identifier %q: %w", id, domain.ErrNotFound)
	}
	return n, nil
}

func formatID(n int64) string {
	return strconv.FormatInt(n, 10)
}

func scanAccount(row interface{ Scan(...any) error }) (*domain.Account, error) {
	var (
		a       domain.Account
		id      int64
		opening int64
		balance int64
		iban    sql.NullString
	)
	err := row.Scan(&id, &a.Name, &a.Kind, &opening, &balance, &a.Currency, &iban, &a.Imported, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	a.ID = formatID(id)
	a.OpeningBalance = fromCents(opening)
	a.Balance = fromCents(balance)
	a.IBAN = iban.String
	return &a, nil
}

// InsertAccount stores a new account and returns its assigned identifier.
// The cached balance starts at the opening balance.
func (s *Store) InsertAccount(ctx context.Context, a *domain.Account) (string, error) {
	currency := a.Currency
	if currency == "" {
		currency = domain.DefaultCurrency
	}
	kind := a.Kind
	if kind == "" {
		kind = domain.AccountOther
	}
	balance := a.Balance
	if balance.IsZero() {
		balance = a.OpeningBalance
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO accounts (name, kind, saldo_iniziale, balance, currency, iban, source_flag, last_updated)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		a.Name, kind, cents(a.OpeningBalance), cents(balance), currency,
		nullString(a.IBAN), a.Imported, time.Now().UTC())
	if err != nil {
		return "", fmt.Errorf("InsertAccount: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return "", fmt.Errorf("InsertAccount: last insert id: %w", err)
	}
	s.hub.broadcast(change{kind: kindAccount, accountID: formatID(id)})
	return formatID(id), nil
}

// UpdateAccount replaces the stored account record, stamping last_updated.
func (s *Store) UpdateAccount(ctx context.Context, a *domain.Account) error {
	id, err := parseID(a.ID)
	if err != nil {
		return fmt.Errorf("UpdateAccount: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE accounts
		SET name = ?, kind = ?, saldo_iniziale = ?, balance = ?, currency = ?, iban = ?, source_flag = ?, last_updated = ?
		WHERE id = ?`,
		a.Name, a.Kind, cents(a.OpeningBalance), cents(a.Balance), a.Currency,
		nullString(a.IBAN), a.Imported, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("UpdateAccount: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("UpdateAccount: account %s: %w", a.ID, domain.ErrNotFound)
	}
	s.hub.broadcast(change{kind: kindAccount, accountID: a.ID})
	return nil
}

// DeleteAccount removes the account; the schema's ON DELETE CASCADE removes
// every owned transaction and subscription with it.
func (s *Store) DeleteAccount(ctx context.Context, id string) error {
	n, err := parseID(id)
	if err != nil {
		return fmt.Errorf("DeleteAccount: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM accounts WHERE id = ?`, n)
	if err != nil {
		return fmt.Errorf("DeleteAccount: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return fmt.Errorf("DeleteAccount: account %s: %w", id, domain.ErrNotFound)
	}
	s.hub.broadcast(
		change{kind: kindAccount, accountID: id},
		change{kind: kindTransaction, accountID: id, broad: true},
		change{kind: kindSubscription, accountID: id, broad: true},
	)
	return nil
}

// GetAccount fetches one account by identifier.
func (s *Store) GetAccount(ctx context.Context, id string) (*domain.Account, error) {
	n, err := parseID(id)
	if err != nil {
		return nil, fmt.Errorf("GetAccount: %w", err)
	}
	row := s.db.QueryRowContext(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = ?`, n)
	a, err := scanAccount(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("GetAccount: account %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("GetAccount: %w", err)
	}
	return a, nil
}

func (s *Store) listAccounts(ctx context.Context) ([]*domain.Account, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+accountColumns+` FROM accounts ORDER BY last_updated DESC, id DESC`)
	if err != nil {
		return nil, fmt.Errorf("listAccounts: %w", err)
	}
	defer rows.Close()

	var out []*domain.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("listAccounts: scanning: %w", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listAccounts: iterating: %w", err)
	}
	return out, nil
}

// WatchAccounts emits all accounts, most recently updated first.
func (s *Store) WatchAccounts(ctx context.Context) *live.Feed[[]*domain.Account] {
	return watchFeed(ctx, s,
		func(c change) bool { return c.kind == kindAccount },
		s.listAccounts,
		equalAccounts)
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
