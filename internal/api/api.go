// Package api exposes the repository over HTTP. It is a thin JSON layer:
// amounts travel as decimal strings, dates as YYYY-MM-DD, and every domain
// error maps onto a stable status code.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"cloud.google.com/go/civil"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/mrovelli/conto/internal/domain"
	"github.com/mrovelli/conto/internal/repository"
	"github.com/mrovelli/conto/internal/store"
)

// Server carries the handler dependencies.
type Server struct {
	repo *repository.Repository
	log  zerolog.Logger
}

// New builds the HTTP layer over the given repository.
func New(repo *repository.Repository, log zerolog.Logger) *Server {
	return &Server{repo: repo, log: log.With().Str("component", "api").Logger()}
}

// Routes assembles the router with its middleware chain.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)

	r.Route("/api", func(r chi.Router) {
		r.Route("/accounts", func(r chi.Router) {
			r.Get("/", s.handleListAccounts)
			r.Post("/", s.handleCreateAccount)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetAccount)
				r.Put("/", s.handleUpdateAccount)
				r.Delete("/", s.handleDeleteAccount)
				r.Get("/balance", s.handleBalance)
				r.Get("/transactions", s.handleAccountTransactions)
				r.Put("/transactions", s.handleReplaceTransactions)
				r.Get("/subscriptions", s.handleAccountSubscriptions)
			})
		})
		r.Route("/transactions", func(r chi.Router) {
			r.Get("/", s.handleListTransactions)
			r.Post("/", s.handleRecordTransaction)
			r.Post("/import", s.handleImportTransactions)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetTransaction)
				r.Put("/", s.handleUpdateTransaction)
				r.Delete("/", s.handleDeleteTransaction)
			})
		})
		r.Get("/categories", s.handleListCategories)
		r.Get("/stats", s.handleStats)
		r.Route("/subscriptions", func(r chi.Router) {
			r.Get("/", s.handleActiveSubscriptions)
			r.Post("/", s.handleCreateSubscription)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetSubscription)
				r.Put("/", s.handleUpdateSubscription)
				r.Delete("/", s.handleDeleteSubscription)
				r.Post("/deactivate", s.handleDeactivateSubscription)
			})
		})
	})

	return r
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("request")
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

// --- Accounts ---

func (s *Server) handleListAccounts(w http.ResponseWriter, r *http.Request) {
	feed := s.repo.WatchAccounts(r.Context())
	defer feed.Cancel()
	accounts, err := firstValue(r, feed.Updates(), feed.Err())
	if err != nil {
		s.writeError(w, err)
		return
	}
	out := make([]accountPayload, 0, len(accounts))
	for _, a := range accounts {
		out = append(out, accountToPayload(a))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleCreateAccount(w http.ResponseWriter, r *http.Request) {
	var in accountPayload
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		s.writeError(w, domain.Invalid("body", "malformed JSON"))
		return
	}
	account, err := in.toDomain()
	if err != nil {
		s.writeError(w, err)
		return
	}
	id, err := s.repo.CreateAccount(r.Context(), account)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": id})
}

func (s *Server) handleGetAccount(w http.ResponseWriter, r *http.Request) {
	account, err := s.repo.GetAccount(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, accountToPayload(account))
}

func (s *Server) handleUpdateAccount(w http.ResponseWriter, r *http.Request) {
	var in accountPayload
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		s.writeError(w, domain.Invalid("body", "malformed JSON"))
		return
	}
	account, err := in.toDomain()
	if err != nil {
		s.writeError(w, err)
		return
	}
	account.ID = chi.URLParam(r, "id")
	if err := s.repo.UpdateAccount(r.Context(), account); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDeleteAccount(w http.ResponseWriter, r *http.Request) {
	if err := s.repo.DeleteAccount(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if asOf := r.URL.Query().Get("as_of"); asOf != "" {
		date, err := civil.ParseDate(asOf)
		if err != nil {
			s.writeError(w, domain.Invalid("as_of", "must be YYYY-MM-DD"))
			return
		}
		balance, err := s.repo.BalanceAsOf(r.Context(), id, date)
		if err != nil {
			s.writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"balance": balance.String(), "as_of": asOf})
		return
	}
	balance, err := s.repo.Balance(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"balance": balance.String()})
}

// --- Transactions ---

func (s *Server) handleListTransactions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()

	feed := func() (<-chan []*domain.Transaction, <-chan error, func()) {
		switch {
		case q.Get("from") != "" || q.Get("to") != "":
			dr, err := parseRange(q.Get("from"), q.Get("to"))
			if err != nil {
				return nil, nil, nil
			}
			f := s.repo.WatchTransactionsByDateRange(ctx, dr)
			return f.Updates(), f.Err(), f.Cancel
		case q.Get("category") != "":
			f := s.repo.WatchTransactionsByCategory(ctx, q.Get("category"))
			return f.Updates(), f.Err(), f.Cancel
		case q.Get("recurring") == "true":
			f := s.repo.WatchRecurringTransactions(ctx)
			return f.Updates(), f.Err(), f.Cancel
		case q.Get("subscription") != "":
			f := s.repo.WatchTransactionsBySubscription(ctx, q.Get("subscription"))
			return f.Updates(), f.Err(), f.Cancel
		default:
			f := s.repo.WatchAllTransactions(ctx)
			return f.Updates(), f.Err(), f.Cancel
		}
	}
	updates, errc, cancel := feed()
	if updates == nil {
		s.writeError(w, domain.Invalid("from/to", "must be YYYY-MM-DD"))
		return
	}
	defer cancel()

	list, err := firstValue(r, updates, errc)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeTransactions(w, list)
}

func (s *Server) handleAccountTransactions(w http.ResponseWriter, r *http.Request) {
	feed := s.repo.WatchTransactionsByAccount(r.Context(), chi.URLParam(r, "id"))
	defer feed.Cancel()
	list, err := firstValue(r, feed.Updates(), feed.Err())
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeTransactions(w, list)
}

func (s *Server) writeTransactions(w http.ResponseWriter, list []*domain.Transaction) {
	out := make([]transactionPayload, 0, len(list))
	for _, t := range list {
		out = append(out, transactionToPayload(t))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleRecordTransaction(w http.ResponseWriter, r *http.Request) {
	var in transactionPayload
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		s.writeError(w, domain.Invalid("body", "malformed JSON"))
		return
	}
	tx, err := in.toDomain()
	if err != nil {
		s.writeError(w, err)
		return
	}
	id, err := s.repo.RecordTransaction(r.Context(), tx)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": id})
}

func (s *Server) handleImportTransactions(w http.ResponseWriter, r *http.Request) {
	var in []transactionPayload
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		s.writeError(w, domain.Invalid("body", "malformed JSON"))
		return
	}
	ts, err := transactionsToDomain(in)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if err := s.repo.ImportTransactions(r.Context(), ts); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]int{"imported": len(ts)})
}

func (s *Server) handleReplaceTransactions(w http.ResponseWriter, r *http.Request) {
	var in []transactionPayload
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		s.writeError(w, domain.Invalid("body", "malformed JSON"))
		return
	}
	ts, err := transactionsToDomain(in)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if err := s.repo.ReplaceTransactionsForAccount(r.Context(), chi.URLParam(r, "id"), ts); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGetTransaction(w http.ResponseWriter, r *http.Request) {
	tx, err := s.repo.GetTransaction(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, transactionToPayload(tx))
}

func (s *Server) handleUpdateTransaction(w http.ResponseWriter, r *http.Request) {
	var in transactionPayload
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		s.writeError(w, domain.Invalid("body", "malformed JSON"))
		return
	}
	tx, err := in.toDomain()
	if err != nil {
		s.writeError(w, err)
		return
	}
	tx.ID = chi.URLParam(r, "id")
	if err := s.repo.UpdateTransaction(r.Context(), tx); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDeleteTransaction(w http.ResponseWriter, r *http.Request) {
	if err := s.repo.DeleteTransaction(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- Categories & stats ---

func (s *Server) handleListCategories(w http.ResponseWriter, r *http.Request) {
	feed := s.repo.WatchCategories(r.Context())
	defer feed.Cancel()
	categories, err := firstValue(r, feed.Updates(), feed.Err())
	if err != nil {
		s.writeError(w, err)
		return
	}
	if categories == nil {
		categories = []string{}
	}
	writeJSON(w, http.StatusOK, categories)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	dr, err := parseRange(r.URL.Query().Get("from"), r.URL.Query().Get("to"))
	if err != nil {
		s.writeError(w, domain.Invalid("from/to", "must be YYYY-MM-DD"))
		return
	}
	stats, err := s.repo.Stats(r.Context(), dr)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"income":  stats.Income.String(),
		"expense": stats.Expense.String(),
		"net":     stats.Net.String(),
	})
}

// --- Subscriptions ---

func (s *Server) handleActiveSubscriptions(w http.ResponseWriter, r *http.Request) {
	feed := s.repo.WatchActiveSubscriptions(r.Context())
	defer feed.Cancel()
	list, err := firstValue(r, feed.Updates(), feed.Err())
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeSubscriptions(w, list)
}

func (s *Server) handleAccountSubscriptions(w http.ResponseWriter, r *http.Request) {
	feed := s.repo.WatchSubscriptionsByAccount(r.Context(), chi.URLParam(r, "id"))
	defer feed.Cancel()
	list, err := firstValue(r, feed.Updates(), feed.Err())
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeSubscriptions(w, list)
}

func (s *Server) writeSubscriptions(w http.ResponseWriter, list []*domain.Subscription) {
	out := make([]subscriptionPayload, 0, len(list))
	for _, sub := range list {
		out = append(out, subscriptionToPayload(sub))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleCreateSubscription(w http.ResponseWriter, r *http.Request) {
	var in subscriptionPayload
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		s.writeError(w, domain.Invalid("body", "malformed JSON"))
		return
	}
	sub, err := in.toDomain()
	if err != nil {
		s.writeError(w, err)
		return
	}
	id, err := s.repo.CreateSubscription(r.Context(), sub)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": id})
}

func (s *Server) handleGetSubscription(w http.ResponseWriter, r *http.Request) {
	sub, err := s.repo.GetSubscription(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, subscriptionToPayload(sub))
}

func (s *Server) handleUpdateSubscription(w http.ResponseWriter, r *http.Request) {
	var in subscriptionPayload
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		s.writeError(w, domain.Invalid("body", "malformed JSON"))
		return
	}
	sub, err := in.toDomain()
	if err != nil {
		s.writeError(w, err)
		return
	}
	sub.ID = chi.URLParam(r, "id")
	if err := s.repo.UpdateSubscription(r.Context(), sub); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDeleteSubscription(w http.ResponseWriter, r *http.Request) {
	if err := s.repo.DeleteSubscription(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDeactivateSubscription(w http.ResponseWriter, r *http.Request) {
	end := r.URL.Query().Get("end")
	if end == "" {
		end = civil.DateOf(time.Now().UTC()).String()
	}
	date, err := civil.ParseDate(end)
	if err != nil {
		s.writeError(w, domain.Invalid("end", "must be YYYY-MM-DD"))
		return
	}
	if err := s.repo.DeactivateSubscription(r.Context(), chi.URLParam(r, "id"), date); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- Plumbing ---

// firstValue waits for a feed's initial emission, honoring request cancel.
func firstValue[T any](r *http.Request, updates <-chan T, errc <-chan error) (T, error) {
	var zero T
	select {
	case v := <-updates:
		return v, nil
	case err := <-errc:
		return zero, err
	case <-r.Context().Done():
		return zero, r.Context().Err()
	}
}

func parseRange(from, to string) (store.DateRange, error) {
	f, err := civil.ParseDate(from)
	if err != nil {
		return store.DateRange{}, err
	}
	t, err := civil.ParseDate(to)
	if err != nil {
		return store.DateRange{}, err
	}
	return store.DateRange{From: f, To: t}, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	var verr *domain.ValidationError
	status := http.StatusInternalServerError
	switch {
	case errors.As(err, &verr):
		status = http.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrUnauthenticated):
		status = http.StatusUnauthorized
	case errors.Is(err, domain.ErrConflict):
		status = http.StatusConflict
	case errors.Is(err, domain.ErrStoreUnavailable):
		status = http.StatusServiceUnavailable
	}
	if status == http.StatusInternalServerError {
		s.log.Error().Err(err).Msg("request failed")
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
