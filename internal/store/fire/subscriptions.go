package fire

import (
	"context"
	"fmt"

	"cloud.google.com/go/civil"
	"cloud.google.com/go/firestore"
	"github.com/google/uuid"

	"github.com/mrovelli/conto/internal/domain"
	"github.com/mrovelli/conto/internal/live"
)

type subscriptionDoc struct {
	AccountID   string `firestore:"account_id"`
	Name        string `firestore:"name"`
	Description string `firestore:"description,omitempty"`
	Amount      int64  `firestore:"amount"` // per period, cents
	Frequency   int    `firestore:"frequency"`
	StartDate   string `firestore:"start_date"`
	NextRenewal string `firestore:"next_renewal_date"`
	EndDateStr  string `firestore:"end_date,omitempty"`
	Category    string `firestore:"category"`
	Active      bool   `firestore:"active"`
	Notes       string `firestore:"notes,omitempty"`
}

func subscriptionToDoc(sub *domain.Subscription) *subscriptionDoc {
	category := sub.Category
	if category == "" {
		category = domain.DefaultSubscriptionCategory
	}
	d := &subscriptionDoc{
		AccountID:   sub.AccountID,
		Name:        sub.Name,
		Description: sub.Description,
		Amount:      cents(sub.Amount),
		Frequency:   int(sub.Frequency),
		StartDate:   sub.StartDate.String(),
		NextRenewal: sub.NextRenewal.String(),
		Category:    category,
		Active:      sub.Active,
		Notes:       sub.Notes,
	}
	if sub.EndDate != nil {
		d.EndDateStr = sub.EndDate.String()
	}
	return d
}

func subscriptionFromDoc(id string, d *subscriptionDoc) (*domain.Subscription, error) {
	sub := &domain.Subscription{
		ID:          id,
		AccountID:   d.AccountID,
		Name:        d.Name,
		Description: d.Description,
		Amount:      fromCents(d.Amount),
		Frequency:   domain.Frequency(d.Frequency),
		Category:    d.Category,
		Active:      d.Active,
		Notes:       d.Notes,
	}
	var err error
	if sub.StartDate, err = civil.ParseDate(d.StartDate); err != nil {
		return nil, fmt.Errorf("parsing start date %q: %w", d.StartDate, err)
	}
	if sub.NextRenewal, err = civil.ParseDate(d.NextRenewal); err != nil {
		return nil, fmt.Errorf("parsing renewal date %q: %w", d.NextRenewal, err)
	}
	if d.EndDateStr != "" {
		end, err := civil.ParseDate(d.EndDateStr)
		if err != nil {
			return nil, fmt.Errorf("parsing end date %q: %w", d.EndDateStr, err)
		}
		sub.EndDate = &end
	}
	return sub, nil
}

func decodeSubscription(snap *firestore.DocumentSnapshot) (*domain.Subscription, error) {
	var d subscriptionDoc
	if err := snap.DataTo(&d); err != nil {
		return nil, err
	}
	return subscriptionFromDoc(snap.Ref.ID, &d)
}

// InsertSubscription creates the subscription document.
func (s *Store) InsertSubscription(ctx context.Context, sub *domain.Subscription) (string, error) {
	ref := s.subscriptions().Doc(uuid.NewString())
	if _, err := ref.Create(ctx, subscriptionToDoc(sub)); err != nil {
		return "", mapErr("InsertSubscription", err)
	}
	return ref.ID, nil
}

// UpdateSubscription replaces the document wholesale.
func (s *Store) UpdateSubscription(ctx context.Context, sub *domain.Subscription) error {
	ref := s.subscriptions().Doc(sub.ID)
	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		if _, err := tx.Get(ref); err != nil {
			return err
		}
		return tx.Set(ref, subscriptionToDoc(sub))
	})
	if err != nil {
		return mapErr("UpdateSubscription", err)
	}
	return nil
}

// DeleteSubscription hard-deletes the document. Transactions referencing it
// keep their link, which dangles from then on; readers tolerate that.
func (s *Store) DeleteSubscription(ctx context.Context, id string) error {
	ref := s.subscriptions().Doc(id)
	if _, err := ref.Get(ctx); err != nil {
		return mapErr("DeleteSubscription", err)
	}
	if _, err := ref.Delete(ctx); err != nil {
		return mapErr("DeleteSubscription", err)
	}
	return nil
}

// GetSubscription fetches one subscription by identifier.
func (s *Store) GetSubscription(ctx context.Context, id string) (*domain.Subscription, error) {
	snap, err := s.subscriptions().Doc(id).Get(ctx)
	if err != nil {
		return nil, mapErr("GetSubscription", err)
	}
	sub, err := decodeSubscription(snap)
	if err != nil {
		return nil, fmt.Errorf("GetSubscription: %w", err)
	}
	return sub, nil
}

// WatchSubscriptionsByAccount emits the account's subscriptions ordered by
// next renewal.
func (s *Store) WatchSubscriptionsByAccount(ctx context.Context, accountID string) *live.Feed[[]*domain.Subscription] {
	q := s.subscriptions().
		Where("account_id", "==", accountID).
		OrderBy("next_renewal_date", firestore.Asc)
	return watchQuery(ctx, q, "WatchSubscriptionsByAccount", decodeSubscription)
}

// WatchActiveSubscriptions emits every active subscription ordered by next
// renewal.
func (s *Store) WatchActiveSubscriptions(ctx context.Context) *live.Feed[[]*domain.Subscription] {
	q := s.subscriptions().
		Where("active", "==", true).
		OrderBy("next_renewal_date", firestore.Asc)
	return watchQuery(ctx, q, "WatchActiveSubscriptions", decodeSubscription)
}

// DeactivateSubscription soft-deletes: active=false, end date recorded.
func (s *Store) DeactivateSubscription(ctx context.Context, id string, end civil.Date) error {
	ref := s.subscriptions().Doc(id)
	_, err := ref.Update(ctx, []firestore.Update{
		{Path: "active", Value: false},
		{Path: "end_date", Value: end.String()},
	})
	if err != nil {
		return mapErr("DeactivateSubscription", err)
	}
	return nil
}
