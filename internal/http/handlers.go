package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"saldo/internal/api"
	"saldo/internal/authority"
	"saldo/internal/core"
	"saldo/internal/identity"
	"saldo/internal/metrics"
)

// decodeAndValidate parses the JSON body into dst and runs struct
// validation. It writes the error response itself and reports whether
// the caller may proceed.
func (s *Server) decodeAndValidate(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, api.Error{
			Code:    api.CodeInvalidRequest,
			Message: "malformed JSON body",
		})
		return false
	}
	if err := s.validate.Struct(dst); err != nil {
		writeError(w, http.StatusUnprocessableEntity, api.Error{
			Code:    api.CodeInvalidRequest,
			Message: err.Error(),
		})
		return false
	}
	return true
}

func (s *Server) handleCreateExpense(w http.ResponseWriter, r *http.Request) {
	var req api.CreateExpenseRequest
	if !s.decodeAndValidate(w, r, &req) {
		return
	}

	amount, err := core.ParseAmount(req.Amount)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	date, err := core.ParseDate(req.Date)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	expense, err := s.svc.CreateExpense(r.Context(), authority.NewExpense{
		Description: req.Description,
		Amount:      amount,
		MemberID:    req.MemberID,
		Date:        date,
	})
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	s.summaryCache.Invalidate(summaryCacheKey)
	writeJSON(w, http.StatusCreated, api.ExpenseFromCore(expense))
}

func (s *Server) handleListExpenses(w http.ResponseWriter, r *http.Request) {
	expenses, err := s.svc.Expenses(r.Context())
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	out := make([]api.Expense, 0, len(expenses))
	for _, e := range expenses {
		out = append(out, api.ExpenseFromCore(e))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetExpense(w http.ResponseWriter, r *http.Request) {
	expense, err := s.svc.Expense(r.Context(), r.PathValue("id"))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, api.ExpenseFromCore(expense))
}

func (s *Server) handleListPayments(w http.ResponseWriter, r *http.Request) {
	history, err := s.svc.History(r.Context(), r.PathValue("id"))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	out := make([]api.Payment, 0, len(history))
	for _, p := range history {
		wp := api.PaymentFromCore(p)
		wp.ClearedByName = s.svc.MemberName(r.Context(), p.ClearedBy)
		out = append(out, wp)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	actor, ok := identity.FromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, api.Error{
			Code:    "unauthorized",
			Message: "no actor in request",
		})
		return
	}

	var req api.ClearRequest
	if !s.decodeAndValidate(w, r, &req) {
		return
	}

	amount, err := core.ParseAmount(req.Amount)
	if err != nil {
		metrics.ClearingsTotal.WithLabelValues(metrics.OutcomeRejected).Inc()
		writeDomainError(w, r, err)
		return
	}

	expense, payment, err := s.svc.Clear(r.Context(), actor, authority.Clearing{
		ExpenseID: r.PathValue("id"),
		PayerID:   req.PayerID,
		Amount:    amount,
	})
	if err != nil {
		var te *core.TransportError
		if errors.As(err, &te) {
			metrics.ClearingsTotal.WithLabelValues(metrics.OutcomeTransportFailure).Inc()
		} else {
			metrics.ClearingsTotal.WithLabelValues(metrics.OutcomeRejected).Inc()
		}
		writeDomainError(w, r, err)
		return
	}

	metrics.ClearingsTotal.WithLabelValues(metrics.OutcomeCommitted).Inc()
	metrics.ClearedAmountCents.Add(float64(payment.Amount.Cents))
	s.summaryCache.Invalidate(summaryCacheKey)

	wp := api.PaymentFromCore(payment)
	wp.ClearedByName = s.svc.MemberName(r.Context(), payment.ClearedBy)
	writeJSON(w, http.StatusOK, api.ClearResponse{
		Expense: api.ExpenseFromCore(expense),
		Payment: wp,
	})
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	if cached, ok := s.summaryCache.Get(summaryCacheKey); ok {
		writeJSON(w, http.StatusOK, cached)
		return
	}

	summary, err := s.svc.Summary(r.Context())
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	out := api.SummaryFromCore(summary)
	s.summaryCache.Set(summaryCacheKey, out)
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleListMembers(w http.ResponseWriter, r *http.Request) {
	members, err := s.svc.Members(r.Context())
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	type wireMember struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	}
	out := make([]wireMember, 0, len(members))
	for _, m := range members {
		out = append(out, wireMember{ID: m.ID, Name: m.Name})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetBudget(w http.ResponseWriter, r *http.Request) {
	status, err := s.svc.BudgetStatus(r.Context(), r.PathValue("member"))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, api.BudgetFromCore(status))
}

func (s *Server) handleSetBudget(w http.ResponseWriter, r *http.Request) {
	actor, ok := identity.FromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, api.Error{
			Code:    "unauthorized",
			Message: "no actor in request",
		})
		return
	}

	var req api.SetBudgetRequest
	if !s.decodeAndValidate(w, r, &req) {
		return
	}

	monthly, err := core.ParseAmount(req.MonthlyBudget)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	member := r.PathValue("member")
	if err := s.svc.SetBudget(r.Context(), actor, member, monthly); err != nil {
		writeDomainError(w, r, err)
		return
	}

	status, err := s.svc.BudgetStatus(r.Context(), member)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, api.BudgetFromCore(status))
}
