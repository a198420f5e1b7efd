package fire

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/google/uuid"

	"github.com/mrovelli/conto/internal/domain"
	"github.com/mrovelli/conto/internal/live"
)

type accountDoc struct {
	Name           string    `firestore:"name"`
	Kind           string    `firestore:"kind"`
	OpeningBalance int64     `firestore:"saldo_iniziale"` // cents
	Balance        int64     `firestore:"balance"`        // cents, denormalized cache
	Currency       string    `firestore:"currency"`
	IBAN           string    `firestore:"iban,omitempty"`
	Imported       bool      `firestore:"source_flag"`
	UpdatedAt      time.Time `firestore:"last_updated"`
}

func accountToDoc(a *domain.Account) *accountDoc {
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
	return &accountDoc{
		Name:           a.Name,
		Kind:           string(kind),
		OpeningBalance: cents(a.OpeningBalance),
		Balance:        cents(balance),
		Currency:       currency,
		IBAN:           a.IBAN,
		Imported:       a.Imported,
		UpdatedAt:      stamp(),
	}
}

func accountFromDoc(id string, d *accountDoc) *domain.Account {
	return &domain.Account{
		ID:             id,
		Name:           d.Name,
		Kind:           domain.AccountKind(d.Kind),
		OpeningBalance: fromCents(d.OpeningBalance),
		Balance:        fromCents(d.Balance),
		Currency:       d.Currency,
		IBAN:           d.IBAN,
		Imported:       d.Imported,
		UpdatedAt:      d.UpdatedAt,
	}
}

// InsertAccount creates the account document under a fresh identifier.
func (s *Store) InsertAccount(ctx context.Context, a *domain.Account) (string, error) {
	ref := s.accounts().Doc(uuid.NewString())
	if _, err := ref.Create(ctx, accountToDoc(a)); err != nil {
		return "", mapErr("InsertAccount", err)
	}
	return ref.ID, nil
}

// UpdateAccount replaces the account document, stamping last_updated.
func (s *Store) UpdateAccount(ctx context.Context, a *domain.Account) error {
	ref := s.accounts().Doc(a.ID)
	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		if _, err := tx.Get(ref); err != nil {
			return err
		}
		doc := accountToDoc(a)
		doc.Balance = cents(a.Balance)
		return tx.Set(ref, doc)
	})
	if err != nil {
		return mapErr("UpdateAccount", err)
	}
	return nil
}

// DeleteAccount removes the account and, because the store has no foreign
// keys, explicitly deletes every owned transaction and subscription as
// separate steps.
func (s *Store) DeleteAccount(ctx context.Context, id string) error {
	ref := s.accounts().Doc(id)
	if _, err := ref.Get(ctx); err != nil {
		return mapErr("DeleteAccount", err)
	}

	for _, col := range []*firestore.CollectionRef{s.transactions(), s.subscriptions()} {
		refs, err := collectRefs(ctx, col.Where("account_id", "==", id))
		if err != nil {
			return fmt.Errorf("DeleteAccount: %w", err)
		}
		if err := s.bulkDelete(ctx, refs); err != nil {
			return fmt.Errorf("DeleteAccount: cascading delete: %w", err)
		}
	}

	if _, err := ref.Delete(ctx); err != nil {
		return mapErr("DeleteAccount", err)
	}
	return nil
}

// GetAccount fetches one account by identifier.
func (s *Store) GetAccount(ctx context.Context, id string) (*domain.Account, error) {
	snap, err := s.accounts().Doc(id).Get(ctx)
	if err != nil {
		return nil, mapErr("GetAccount", err)
	}
	var d accountDoc
	if err := snap.DataTo(&d); err != nil {
		return nil, fmt.Errorf("GetAccount: decoding document: %w", err)
	}
	return accountFromDoc(snap.Ref.ID, &d), nil
}

// WatchAccounts emits all accounts, most recently updated first.
func (s *Store) WatchAccounts(ctx context.Context) *live.Feed[[]*domain.Account] {
	q := s.accounts().OrderBy("last_updated", firestore.Desc)
	return watchQuery(ctx, q, "WatchAccounts", func(snap *firestore.DocumentSnapshot) (*domain.Account, error) {
		var d accountDoc
		if err := snap.DataTo(&d); err != nil {
			return nil, err
		}
		return accountFromDoc(snap.Ref.ID, &d), nil
	})
}
