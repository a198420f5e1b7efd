package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mrovelli/conto/internal/domain"
)

// RecordTransaction inserts t and adjusts the owning account's cached
// balance by t.Amount inside one database transaction. The balance update
// reads and writes the persisted value in a single statement, so concurrent
// recorders serialize instead of losing updates.
func (s *Store) RecordTransaction(ctx context.Context, t *domain.Transaction) (string, error) {
	accountID, err := parseID(t.AccountID)
	if err != nil {
		return "", fmt.Errorf("RecordTransaction: %w", err)
	}

	var id int64
	err = s.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		id, err = s.insertTransactionTx(ctx, tx, t)
		if err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx,
			`UPDATE accounts SET balance = balance + ?, last_updated = ? WHERE id = ?`,
			cents(t.Amount), time.Now().UTC(), accountID)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("account %s: %w", t.AccountID, domain.ErrNotFound)
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("RecordTransaction: %w", err)
	}
	s.hub.broadcast(txChange(t), change{kind: kindAccount, accountID: t.AccountID})
	return formatID(id), nil
}

// RemoveTransaction deletes the transaction and applies the inverse balance
// adjustment, all inside one database transaction. A missing id fails with
// domain.ErrNotFound and mutates nothing.
func (s *Store) RemoveTransaction(ctx context.Context, id string) error {
	n, err := parseID(id)
	if err != nil {
		return fmt.Errorf("RemoveTransaction: %w", err)
	}

	var removed *domain.Transaction
	err = s.withTx(ctx, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE id = ?`, n)
		t, err := scanTransaction(row)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("transaction %s: %w", id, domain.ErrNotFound)
		}
		if err != nil {
			return err
		}
		removed = t

		accountID, err := parseID(t.AccountID)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE accounts SET balance = balance - ?, last_updated = ? WHERE id = ?`,
			cents(t.Amount), time.Now().UTC(), accountID); err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `DELETE FROM transactions WHERE id = ?`, n)
		return err
	})
	if err != nil {
		return fmt.Errorf("RemoveTransaction: %w", err)
	}
	s.hub.broadcast(txChange(removed), change{kind: kindAccount, accountID: removed.AccountID})
	return nil
}

// ReplaceTransactionsForAccount swaps the account's full transaction set for
// ts inside one database transaction: readers see the prior state or the new
// state, never a mix. The account's last update is stamped at the end.
func (s *Store) ReplaceTransactionsForAccount(ctx context.Context, accountID string, ts []*domain.Transaction) error {
	n, err := parseID(accountID)
	if err != nil {
		return fmt.Errorf("ReplaceTransactionsForAccount: %w", err)
	}

	err = s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM transactions WHERE account_id = ?`, n); err != nil {
			return err
		}
		for _, t := range ts {
			if t.AccountID == "" {
				t.AccountID = accountID
			}
			if _, err := s.insertTransactionTx(ctx, tx, t); err != nil {
				return err
			}
		}
		res, err := tx.ExecContext(ctx,
			`UPDATE accounts SET last_updated = ? WHERE id = ?`, time.Now().UTC(), n)
		if err != nil {
			return err
		}
		if affected, _ := res.RowsAffected(); affected == 0 {
			return fmt.Errorf("account %s: %w", accountID, domain.ErrNotFound)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("ReplaceTransactionsForAccount: %w", err)
	}
	s.hub.broadcast(
		change{kind: kindTransaction, accountID: accountID, broad: true},
		change{kind: kindAccount, accountID: accountID},
	)
	return nil
}
