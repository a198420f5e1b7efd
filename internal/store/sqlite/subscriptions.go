package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"cloud.google.com/go/civil"

	"github.com/mrovelli/conto/internal/domain"
	"github.com/mrovelli/conto/internal/live"
)

const subscriptionColumns = `id, account_id, name, description, amount, frequency, start_date, next_renewal_date, end_date, category, active, notes`

func scanSubscription(row interface{ Scan(...any) error }) (*domain.Subscription, error) {
	var (
		s           domain.Subscription
		id          int64
		accountID   int64
		description sql.NullString
		amount      int64
		frequency   int
		startDate   string
		nextRenewal string
		endDate     sql.NullString
		notes       sql.NullString
	)
	err := row.Scan(&id, &accountID, &s.Name, &description, &amount, &frequency,
		&startDate, &nextRenewal, &endDate, &s.Category, &s.Active, &notes)
	if err != nil {
		return nil, err
	}
	s.ID = formatID(id)
	s.AccountID = formatID(accountID)
	s.Description = description.String
	s.Amount = fromCents(amount)
	s.Frequency = domain.Frequency(frequency)
	s.Notes = notes.String
	if s.StartDate, err = civil.ParseDate(startDate); err != nil {
		return nil, fmt.Errorf("parsing start date %q: %w", startDate, err)
	}
	if s.NextRenewal, err = civil.ParseDate(nextRenewal); err != nil {
		return nil, fmt.Errorf("parsing renewal date %q: %w", nextRenewal, err)
	}
	if endDate.Valid {
		d, err := civil.ParseDate(endDate.String)
		if err != nil {
			return nil, fmt.Errorf("parsing end date %q: %w", endDate.String, err)
		}
		s.EndDate = &d
	}
	return &s, nil
}

// InsertSubscription stores a new subscription and returns its identifier.
func (s *Store) InsertSubscription(ctx context.Context, sub *domain.Subscription) (string, error) {
	accountID, err := parseID(sub.AccountID)
	if err != nil {
		return "", fmt.Errorf("InsertSubscription: %w", err)
	}
	category := sub.Category
	if category == "" {
		category = domain.DefaultSubscriptionCategory
	}
	var endDate sql.NullString
	if sub.EndDate != nil {
		endDate = sql.NullString{String: sub.EndDate.String(), Valid: true}
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO subscriptions (account_id, name, description, amount, frequency, start_date, next_renewal_date, end_date, category, active, notes)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		accountID, sub.Name, nullString(sub.Description), cents(sub.Amount), int(sub.Frequency),
		sub.StartDate.String(), sub.NextRenewal.String(), endDate, category, sub.Active,
		nullString(sub.Notes))
	if err != nil {
		return "", fmt.Errorf("InsertSubscription: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return "", fmt.Errorf("InsertSubscription: last insert id: %w", err)
	}
	s.hub.broadcast(change{kind: kindSubscription, accountID: sub.AccountID})
	return formatID(id), nil
}

// UpdateSubscription replaces the stored subscription record.
func (s *Store) UpdateSubscription(ctx context.Context, sub *domain.Subscription) error {
	id, err := parseID(sub.ID)
	if err != nil {
		return fmt.Errorf("UpdateSubscription: %w", err)
	}
	accountID, err := parseID(sub.AccountID)
	if err != nil {
		return fmt.Errorf("UpdateSubscription: %w", err)
	}
	var endDate sql.NullString
	if sub.EndDate != nil {
		endDate = sql.NullString{String: sub.EndDate.String(), Valid: true}
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE subscriptions
		SET account_id = ?, name = ?, description = ?, amount = ?, frequency = ?, start_date = ?, next_renewal_date = ?, end_date = ?, category = ?, active = ?, notes = ?
		WHERE id = ?`,
		accountID, sub.Name, nullString(sub.Description), cents(sub.Amount), int(sub.Frequency),
		sub.StartDate.String(), sub.NextRenewal.String(), endDate, sub.Category, sub.Active,
		nullString(sub.Notes), id)
	if err != nil {
		return fmt.Errorf("UpdateSubscription: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("UpdateSubscription: subscription %s: %w", sub.ID, domain.ErrNotFound)
	}
	s.hub.broadcast(change{kind: kindSubscription, accountID: sub.AccountID})
	return nil
}

// DeleteSubscription hard-deletes the subscription. Transactions linked to it
// keep their reference, which dangles from then on.
func (s *Store) DeleteSubscription(ctx context.Context, id string) error {
	n, err := parseID(id)
	if err != nil {
		return fmt.Errorf("DeleteSubscription: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM subscriptions WHERE id = ?`, n)
	if err != nil {
		return fmt.Errorf("DeleteSubscription: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return fmt.Errorf("DeleteSubscription: subscription %s: %w", id, domain.ErrNotFound)
	}
	s.hub.broadcast(change{kind: kindSubscription, broad: true})
	return nil
}

// GetSubscription fetches one subscription by identifier.
func (s *Store) GetSubscription(ctx context.Context, id string) (*domain.Subscription, error) {
	n, err := parseID(id)
	if err != nil {
		return nil, fmt.Errorf("GetSubscription: %w", err)
	}
	row := s.db.QueryRowContext(ctx, `SELECT `+subscriptionColumns+` FROM subscriptions WHERE id = ?`, n)
	sub, err := scanSubscription(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("GetSubscription: subscription %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("GetSubscription: %w", err)
	}
	return sub, nil
}

func (s *Store) querySubscriptions(ctx context.Context, where string, args ...any) ([]*domain.Subscription, error) {
	q := `SELECT ` + subscriptionColumns + ` FROM subscriptions`
	if where != "" {
		q += ` WHERE ` + where
	}
	q += ` ORDER BY next_renewal_date ASC, id ASC`

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("querySubscriptions: %w", err)
	}
	defer rows.Close()

	var out []*domain.Subscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, fmt.Errorf("querySubscriptions: scanning: %w", err)
		}
		out = append(out, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("querySubscriptions: iterating: %w", err)
	}
	return out, nil
}

// WatchSubscriptionsByAccount emits the account's subscriptions ordered by
// next renewal.
func (s *Store) WatchSubscriptionsByAccount(ctx context.Context, accountID string) *live.Feed[[]*domain.Subscription] {
	n, err := parseID(accountID)
	if err != nil {
		return live.Failed[[]*domain.Subscription](fmt.Errorf("WatchSubscriptionsByAccount: %w", err))
	}
	return watchFeed(ctx, s,
		func(c change) bool { return c.kind == kindSubscription && (c.broad || c.accountID == accountID) },
		func(ctx context.Context) ([]*domain.Subscription, error) {
			return s.querySubscriptions(ctx, `account_id = ?`, n)
		},
		equalSubscriptions)
}

// WatchActiveSubscriptions emits every active subscription ordered by next
// renewal.
func (s *Store) WatchActiveSubscriptions(ctx context.Context) *live.Feed[[]*domain.Subscription] {
	return watchFeed(ctx, s,
		func(c change) bool { return c.kind == kindSubscription },
		func(ctx context.Context) ([]*domain.Subscription, error) {
			return s.querySubscriptions(ctx, `active = 1`)
		},
		equalSubscriptions)
}

// DeactivateSubscription soft-deletes: active drops to false and the end
// date is recorded. Linked transactions are untouched.
func (s *Store) DeactivateSubscription(ctx context.Context, id string, end civil.Date) error {
	n, err := parseID(id)
	if err != nil {
		return fmt.Errorf("DeactivateSubscription: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE subscriptions SET active = 0, end_date = ? WHERE id = ?`, end.String(), n)
	if err != nil {
		return fmt.Errorf("DeactivateSubscription: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return fmt.Errorf("DeactivateSubscription: subscription %s: %w", id, domain.ErrNotFound)
	}
	s.hub.broadcast(change{kind: kindSubscription, broad: true})
	return nil
}
