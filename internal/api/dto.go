package api

import (
	"strings"
	"time"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"

	"github.com/mrovelli/conto/internal/domain"
)

type accountPayload struct {
	ID             string `json:"id,omitempty"`
	Name           string `json:"name"`
	Kind           string `json:"kind,omitempty"`
	OpeningBalance string `json:"opening_balance,omitempty"`
	Balance        string `json:"balance,omitempty"`
	Currency       string `json:"currency,omitempty"`
	IBAN           string `json:"iban,omitempty"`
	Imported       bool   `json:"imported,omitempty"`
	UpdatedAt      string `json:"updated_at,omitempty"`
}

func accountToPayload(a *domain.Account) accountPayload {
	return accountPayload{
		ID:             a.ID,
		Name:           a.Name,
		Kind:           string(a.Kind),
		OpeningBalance: a.OpeningBalance.String(),
		Balance:        a.Balance.String(),
		Currency:       a.Currency,
		IBAN:           a.IBAN,
		Imported:       a.Imported,
		UpdatedAt:      a.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

func (p accountPayload) toDomain() (*domain.Account, error) {
	opening, err := parseAmount(p.OpeningBalance, "opening_balance")
	if err != nil {
		return nil, err
	}
	return &domain.Account{
		Name:           p.Name,
		Kind:           domain.AccountKind(p.Kind),
		OpeningBalance: opening,
		Currency:       p.Currency,
		IBAN:           p.IBAN,
		Imported:       p.Imported,
	}, nil
}

type transactionPayload struct {
	ID             string `json:"id,omitempty"`
	AccountID      string `json:"account_id"`
	Date           string `json:"date"`
	Description    string `json:"description,omitempty"`
	Amount         string `json:"amount"`
	Category       string `json:"category,omitempty"`
	Notes          string `json:"notes,omitempty"`
	Recurring      bool   `json:"recurring,omitempty"`
	SubscriptionID string `json:"subscription_id,omitempty"`
}

func transactionToPayload(t *domain.Transaction) transactionPayload {
	return transactionPayload{
		ID:             t.ID,
		AccountID:      t.AccountID,
		Date:           t.Date.String(),
		Description:    t.Description,
		Amount:         t.Amount.String(),
		Category:       t.Category,
		Notes:          t.Notes,
		Recurring:      t.Recurring,
		SubscriptionID: t.SubscriptionID,
	}
}

func (p transactionPayload) toDomain() (*domain.Transaction, error) {
	date, err := parseDate(p.Date, "date")
	if err != nil {
		return nil, err
	}
	amount, err := parseAmount(p.Amount, "amount")
	if err != nil {
		return nil, err
	}
	return &domain.Transaction{
		AccountID:      p.AccountID,
		Date:           date,
		Description:    p.Description,
		Amount:         amount,
		Category:       p.Category,
		Notes:          p.Notes,
		Recurring:      p.Recurring,
		SubscriptionID: p.SubscriptionID,
	}, nil
}

func transactionsToDomain(in []transactionPayload) ([]*domain.Transaction, error) {
	out := make([]*domain.Transaction, 0, len(in))
	for _, p := range in {
		t, err := p.toDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

type subscriptionPayload struct {
	ID          string `json:"id,omitempty"`
	AccountID   string `json:"account_id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Amount      string `json:"amount"`
	Frequency   string `json:"frequency"`
	StartDate   string `json:"start_date"`
	NextRenewal string `json:"next_renewal_date"`
	EndDate     string `json:"end_date,omitempty"`
	Category    string `json:"category,omitempty"`
	Active      bool   `json:"active"`
	Notes       string `json:"notes,omitempty"`
	MonthlyCost string `json:"monthly_cost,omitempty"`
	AnnualCost  string `json:"annual_cost,omitempty"`
}

var frequencyNames = map[domain.Frequency]string{
	domain.Monthly:    "MONTHLY",
	domain.Quarterly:  "QUARTERLY",
	domain.Semiannual: "SEMIANNUAL",
	domain.Annual:     "ANNUAL",
}

func parseFrequency(s string) (domain.Frequency, error) {
	for f, name := range frequencyNames {
		if strings.EqualFold(s, name) {
			return f, nil
		}
	}
	return 0, domain.Invalid("frequency", "must be MONTHLY, QUARTERLY, SEMIANNUAL or ANNUAL")
}

func subscriptionToPayload(s *domain.Subscription) subscriptionPayload {
	p := subscriptionPayload{
		ID:          s.ID,
		AccountID:   s.AccountID,
		Name:        s.Name,
		Description: s.Description,
		Amount:      s.Amount.String(),
		Frequency:   frequencyNames[s.Frequency],
		StartDate:   s.StartDate.String(),
		NextRenewal: s.NextRenewal.String(),
		Category:    s.Category,
		Active:      s.Active,
		Notes:       s.Notes,
		MonthlyCost: s.MonthlyCost().String(),
		AnnualCost:  s.AnnualCost().String(),
	}
	if s.EndDate != nil {
		p.EndDate = s.EndDate.String()
	}
	return p
}

func (p subscriptionPayload) toDomain() (*domain.Subscription, error) {
	amount, err := parseAmount(p.Amount, "amount")
	if err != nil {
		return nil, err
	}
	frequency, err := parseFrequency(p.Frequency)
	if err != nil {
		return nil, err
	}
	start, err := parseDate(p.StartDate, "start_date")
	if err != nil {
		return nil, err
	}
	next, err := parseDate(p.NextRenewal, "next_renewal_date")
	if err != nil {
		return nil, err
	}
	sub := &domain.Subscription{
		AccountID:   p.AccountID,
		Name:        p.Name,
		Description: p.Description,
		Amount:      amount,
		Frequency:   frequency,
		StartDate:   start,
		NextRenewal: next,
		Category:    p.Category,
		Notes:       p.Notes,
	}
	if p.EndDate != "" {
		end, err := parseDate(p.EndDate, "end_date")
		if err != nil {
			return nil, err
		}
		sub.EndDate = &end
	}
	return sub, nil
}

func parseAmount(s, field string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, domain.Invalid(field, "must be a decimal number")
	}
	return d, nil
}

func parseDate(s, field string) (civil.Date, error) {
	d, err := civil.ParseDate(s)
	if err != nil {
		return civil.Date{}, domain.Invalid(field, "must be YYYY-MM-DD")
	}
	return d, nil
}
