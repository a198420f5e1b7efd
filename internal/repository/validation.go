package repository

import (
	"github.com/mrovelli/conto/internal/domain"
)

func validateAccount(a *domain.Account) error {
	if a.Name == "" {
		return domain.Invalid("name", "must not be empty")
	}
	switch a.Kind {
	case "", domain.AccountPrimaryBank, domain.AccountCardWallet, domain.AccountOther:
	default:
		return domain.Invalid("kind", "unknown account kind")
	}
	if a.Currency == "" {
		a.Currency = domain.DefaultCurrency
	}
	if len(a.Currency) != 3 {
		return domain.Invalid("currency", "must be a three-letter ISO 4217 code")
	}
	if a.IBAN != "" && !domain.ValidIBAN(a.IBAN) {
		return domain.Invalid("iban", "malformed IBAN")
	}
	return nil
}

func validateTransactionFields(t *domain.Transaction) error {
	if t.AccountID == "" {
		return domain.Invalid("account_id", "transaction must belong to an account")
	}
	if !t.Date.IsValid() {
		return domain.Invalid("date", "must be a real calendar date")
	}
	if t.Recurring && t.SubscriptionID == "" {
		return domain.Invalid("subscription_id", "required when the recurring flag is set")
	}
	if !t.Recurring && t.SubscriptionID != "" {
		return domain.Invalid("subscription_id", "only allowed when the recurring flag is set")
	}
	return nil
}

func validateSubscription(s *domain.Subscription) error {
	if s.Name == "" {
		return domain.Invalid("name", "must not be empty")
	}
	if s.AccountID == "" {
		return domain.Invalid("account_id", "subscription must belong to an account")
	}
	if !s.Amount.IsPositive() {
		return domain.Invalid("amount", "must be positive")
	}
	if !s.Frequency.Valid() {
		return domain.Invalid("frequency", "must be monthly, quarterly, semiannual or annual")
	}
	if !s.StartDate.IsValid() {
		return domain.Invalid("start_date", "must be a real calendar date")
	}
	if s.NextRenewal.Before(s.StartDate) {
		return domain.Invalid("next_renewal_date", "must not precede the start date")
	}
	return nil
}

// normalizeSubscription enforces the active ⇔ endDate==nil convention at the
// write boundary, where the stores themselves do not.
func normalizeSubscription(s *domain.Subscription) {
	s.Active = s.EndDate == nil
	if s.Category == "" {
		s.Category = domain.DefaultSubscriptionCategory
	}
}
