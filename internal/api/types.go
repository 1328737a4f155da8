// Package api defines the wire representation of ledger records.
//
// Amounts always cross the boundary as 2-decimal fixed-point strings,
// dates as ISO-8601, identifiers as opaque strings. Both the authority
// server and its HTTP client build on these types so the two sides can
// never drift apart.
package api

import (
	"time"

	"saldo/internal/core"
)

type (
	Payment struct {
		ID            string `json:"id"`
		Amount        string `json:"amount"`
		ClearedBy     string `json:"cleared_by"`
		ClearedByName string `json:"cleared_by_name,omitempty"`
		ClearedAt     string `json:"cleared_at"`
	}

	Expense struct {
		ID              string    `json:"id"`
		Description     string    `json:"description"`
		Amount          string    `json:"amount"`
		MemberID        string    `json:"member_id"`
		Date            string    `json:"date"`
		ClearedAmount   string    `json:"cleared_amount"`
		RemainingAmount string    `json:"remaining_amount"`
		Status          string    `json:"status"`
		Payments        []Payment `json:"payments"`
	}

	CreateExpenseRequest struct {
		Description string `json:"description" validate:"required,max=200"`
		Amount      string `json:"amount" validate:"required"`
		MemberID    string `json:"member_id" validate:"required"`
		Date        string `json:"date" validate:"required"`
	}

	ClearRequest struct {
		PayerID string `json:"payer_id" validate:"required"`
		Amount  string `json:"amount" validate:"required"`
	}

	ClearResponse struct {
		Expense Expense `json:"expense"`
		Payment Payment `json:"payment"`
	}

	MemberSummary struct {
		Member    string `json:"member"`
		Total     string `json:"total"`
		Cleared   string `json:"cleared"`
		Remaining string `json:"remaining"`
	}

	Summary struct {
		Total     string          `json:"total"`
		Cleared   string          `json:"cleared"`
		Remaining string          `json:"remaining"`
		Count     int             `json:"count"`
		PerMember []MemberSummary `json:"per_member"`
	}

	BudgetStatus struct {
		MemberID      string `json:"member_id"`
		MonthlyBudget string `json:"monthly_budget"`
		Used          string `json:"used"`
		Remaining     string `json:"remaining"`
	}

	SetBudgetRequest struct {
		MonthlyBudget string `json:"monthly_budget" validate:"required"`
	}

	// Error is the envelope for every non-2xx response. Remaining is
	// populated for overclearing rejections so the caller can report
	// the corrected figure.
	Error struct {
		Code      string `json:"code"`
		Message   string `json:"message"`
		Remaining string `json:"remaining,omitempty"`
	}
)

// ExpenseFromCore converts a domain expense to its wire form. Derived
// fields (remaining, status) are recomputed here, never copied from a
// stored value.
func ExpenseFromCore(e core.Expense) Expense {
	out := Expense{
		ID:              e.ID,
		Description:     e.Description,
		Amount:          e.Amount.String(),
		MemberID:        e.MemberID,
		Date:            e.Date.String(),
		ClearedAmount:   e.Cleared.String(),
		RemainingAmount: e.Remaining().String(),
		Status:          string(e.Status()),
		Payments:        make([]Payment, 0, len(e.History)),
	}
	for _, p := range e.History {
		out.Payments = append(out.Payments, PaymentFromCore(p))
	}
	return out
}

// PaymentFromCore converts a domain payment to its wire form.
func PaymentFromCore(p core.Payment) Payment {
	return Payment{
		ID:        p.ID,
		Amount:    p.Amount.String(),
		ClearedBy: p.ClearedBy,
		ClearedAt: p.ClearedAt.UTC().Format(time.RFC3339),
	}
}

// ExpenseToCore parses a wire expense back into the domain form.
func ExpenseToCore(e Expense) (core.Expense, error) {
	amount, err := core.ParseAmount(e.Amount)
	if err != nil {
		return core.Expense{}, err
	}
	date, err := core.ParseDate(e.Date)
	if err != nil {
		return core.Expense{}, err
	}
	out := core.Expense{
		ID:          e.ID,
		Description: e.Description,
		Amount:      amount,
		MemberID:    e.MemberID,
		Date:        date,
	}
	// A pending expense legitimately carries "0.00", which ParseAmount
	// rejects as a payment amount.
	if e.ClearedAmount != "" && e.ClearedAmount != "0.00" {
		cleared, err := core.ParseAmount(e.ClearedAmount)
		if err != nil {
			return core.Expense{}, err
		}
		out.Cleared = cleared
	}
	for _, p := range e.Payments {
		cp, err := PaymentToCore(p)
		if err != nil {
			return core.Expense{}, err
		}
		cp.ExpenseID = e.ID
		out.History = append(out.History, cp)
	}
	return out, nil
}

// PaymentToCore parses a wire payment back into the domain form.
func PaymentToCore(p Payment) (core.Payment, error) {
	amount, err := core.ParseAmount(p.Amount)
	if err != nil {
		return core.Payment{}, err
	}
	at, err := time.Parse(time.RFC3339, p.ClearedAt)
	if err != nil {
		return core.Payment{}, core.ErrInvalidDate
	}
	return core.Payment{
		ID:        p.ID,
		Amount:    amount,
		ClearedBy: p.ClearedBy,
		ClearedAt: at,
	}, nil
}

// SummaryFromCore converts an aggregation result to its wire form.
func SummaryFromCore(s core.Summary) Summary {
	out := Summary{
		Total:     s.Totals.Total.String(),
		Cleared:   s.Totals.Cleared.String(),
		Remaining: s.Totals.Remaining.String(),
		Count:     s.Totals.Count,
		PerMember: make([]MemberSummary, 0, len(s.PerMember)),
	}
	for _, m := range s.PerMember {
		out.PerMember = append(out.PerMember, MemberSummary{
			Member:    m.Member,
			Total:     m.Total.String(),
			Cleared:   m.Cleared.String(),
			Remaining: m.Remaining.String(),
		})
	}
	return out
}

// BudgetFromCore converts a budget status to its wire form.
func BudgetFromCore(b core.BudgetStatus) BudgetStatus {
	return BudgetStatus{
		MemberID:      b.MemberID,
		MonthlyBudget: b.MonthlyBudget.String(),
		Used:          b.Used.String(),
		Remaining:     b.Remaining.String(),
	}
}
