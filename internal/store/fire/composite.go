package fire

import (
	"context"
	"fmt"

	"cloud.google.com/go/firestore"
	"github.com/google/uuid"

	"github.com/mrovelli/conto/internal/domain"
)

// RecordTransaction creates the transaction document and adjusts the owning
// account's cached balance inside a Firestore transaction. The balance read
// and write are guarded by the store's optimistic concurrency: a concurrent
// interleaver forces a retry, and exhausting the retry budget surfaces as
// domain.ErrConflict with nothing applied.
func (s *Store) RecordTransaction(ctx context.Context, t *domain.Transaction) (string, error) {
	accountRef := s.accounts().Doc(t.AccountID)
	txRef := s.transactions().Doc(uuid.NewString())

	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(accountRef)
		if err != nil {
			return err
		}
		var a accountDoc
		if err := snap.DataTo(&a); err != nil {
			return fmt.Errorf("decoding account: %w", err)
		}
		if err := tx.Create(txRef, transactionToDoc(t)); err != nil {
			return err
		}
		return tx.Update(accountRef, []firestore.Update{
			{Path: "balance", Value: a.Balance + cents(t.Amount)},
			{Path: "last_updated", Value: stamp()},
		})
	})
	if err != nil {
		return "", mapErr("RecordTransaction", err)
	}
	return txRef.ID, nil
}

// RemoveTransaction reads the transaction, applies the inverse balance
// adjustment and deletes the document, all inside a Firestore transaction.
// An unknown id fails with domain.ErrNotFound before any write.
func (s *Store) RemoveTransaction(ctx context.Context, id string) error {
	txRef := s.transactions().Doc(id)

	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		txSnap, err := tx.Get(txRef)
		if err != nil {
			return err
		}
		var d transactionDoc
		if err := txSnap.DataTo(&d); err != nil {
			return fmt.Errorf("decoding transaction: %w", err)
		}

		accountRef := s.accounts().Doc(d.AccountID)
		accSnap, err := tx.Get(accountRef)
		if err != nil {
			return err
		}
		var a accountDoc
		if err := accSnap.DataTo(&a); err != nil {
			return fmt.Errorf("decoding account: %w", err)
		}

		if err := tx.Update(accountRef, []firestore.Update{
			{Path: "balance", Value: a.Balance - d.Amount},
			{Path: "last_updated", Value: stamp()},
		}); err != nil {
			return err
		}
		return tx.Delete(txRef)
	})
	if err != nil {
		return mapErr("RemoveTransaction", err)
	}
	return nil
}

// ReplaceTransactionsForAccount deletes the account's transactions, inserts
// ts and stamps the account. Firestore offers no multi-document atomicity at
// this scale, so the sequence is best-effort: a crash between the delete and
// insert phases leaves the account temporarily empty. That risk window is
// accepted for the document backend and deliberately not hidden; the
// relational backend performs the same operation atomically.
func (s *Store) ReplaceTransactionsForAccount(ctx context.Context, accountID string, ts []*domain.Transaction) error {
	accountRef := s.accounts().Doc(accountID)
	if _, err := accountRef.Get(ctx); err != nil {
		return mapErr("ReplaceTransactionsForAccount", err)
	}

	refs, err := collectRefs(ctx, s.transactions().Where("account_id", "==", accountID))
	if err != nil {
		return fmt.Errorf("ReplaceTransactionsForAccount: %w", err)
	}
	if err := s.bulkDelete(ctx, refs); err != nil {
		return fmt.Errorf("ReplaceTransactionsForAccount: deleting prior set: %w", err)
	}

	toInsert := make([]*domain.Transaction, 0, len(ts))
	for _, t := range ts {
		if t.AccountID == "" {
			t.AccountID = accountID
		}
		toInsert = append(toInsert, t)
	}
	if err := s.InsertTransactions(ctx, toInsert); err != nil {
		return fmt.Errorf("ReplaceTransactionsForAccount: inserting new set: %w", err)
	}

	if _, err := accountRef.Update(ctx, []firestore.Update{
		{Path: "last_updated", Value: stamp()},
	}); err != nil {
		return mapErr("ReplaceTransactionsForAccount", err)
	}
	return nil
}
