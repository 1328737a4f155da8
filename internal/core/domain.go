package core

import (
	"strings"
	"time"
)

// Status is the derived settlement state of an expense. It is a pure
// function of (amount, clearedAmount) and is never stored.
type Status string

const (
	StatusPending          Status = "PENDING"
	StatusPartiallyCleared Status = "PARTIALLY_CLEARED"
	StatusFullyCleared     Status = "FULLY_CLEARED"
)

// DeriveStatus maps (amount, cleared) to a settlement status. The >=
// comparison guards against a cleared counter fractionally above the
// amount; with integer cents that can only happen through corrupted
// input, but the derivation stays total either way.
func DeriveStatus(amount, cleared Money) Status {
	switch {
	case cleared.Cents <= 0:
		return StatusPending
	case cleared.Cents >= amount.Cents:
		return StatusFullyCleared
	default:
		return StatusPartiallyCleared
	}
}

type (
	// Member is the stable identity of a participant. Owned by the
	// member directory; immutable after creation.
	Member struct {
		ID   string
		Name string
	}

	Date struct {
		time.Time
	}

	// Payment is one immutable clearing event. Payments are only ever
	// created by a successful clearing operation and only ever appended.
	Payment struct {
		ID        string
		ExpenseID string
		Amount    Money
		ClearedBy string // member id of the payer
		ClearedAt time.Time
	}

	// Expense is one monetary obligation assigned to a member. Cleared
	// grows monotonically from zero up to Amount; remaining amount and
	// status are always recomputed, never trusted from outside.
	Expense struct {
		ID          string
		Description string
		Amount      Money
		MemberID    string
		Date        Date
		Cleared     Money
		History     []Payment
	}

	// BudgetStatus is a per-member aggregate derived on every read from
	// the member's expense set and budget configuration.
	BudgetStatus struct {
		MemberID      string
		MonthlyBudget Money
		Used          Money
		Remaining     Money
	}
)

const dateLayout = "2006-01-02"

// NewDate creates a Date from year, month, day.
func NewDate(year, month, day int) Date {
	return Date{Time: time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)}
}

// ParseDate parses an ISO-8601 calendar date (YYYY-MM-DD).
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(dateLayout, strings.TrimSpace(s))
	if err != nil {
		return Date{}, ErrInvalidDate
	}
	return Date{Time: t}, nil
}

// String formats the date as ISO-8601 (YYYY-MM-DD).
func (d Date) String() string {
	return d.Format(dateLayout)
}

func (d Date) Validate() error {
	if d.IsZero() {
		return ErrInvalidDate
	}
	return nil
}

// Clone returns a deep copy with its own history slice, so callers can
// hold snapshots without aliasing store-owned state.
func (e Expense) Clone() Expense {
	out := e
	out.History = make([]Payment, len(e.History))
	copy(out.History, e.History)
	return out
}

// Remaining returns amount - cleared. Always derived; a remaining value
// supplied out of band is never trusted.
func (e Expense) Remaining() Money {
	return e.Amount.Sub(e.Cleared)
}

// Status derives the settlement status from the current amounts.
func (e Expense) Status() Status {
	return DeriveStatus(e.Amount, e.Cleared)
}

func (e Expense) Validate() error {
	if len(strings.TrimSpace(e.Description)) == 0 {
		return ErrEmptyDescription
	}
	if err := e.Amount.Validate(); err != nil {
		return err
	}
	if strings.TrimSpace(e.MemberID) == "" {
		return ErrUnknownMember
	}
	if err := e.Date.Validate(); err != nil {
		return err
	}
	if e.Cleared.Cents < 0 || e.Cleared.Cents > e.Amount.Cents {
		return ErrInvalidAmount
	}
	return nil
}

// CheckConsistency verifies the core ledger invariant: the payment
// history sums to the cleared counter. With integer cents the match is
// exact, there is no rounding tolerance to allow for.
func (e Expense) CheckConsistency() error {
	var sum int64
	for _, p := range e.History {
		sum += p.Amount.Cents
	}
	if sum != e.Cleared.Cents {
		return ErrConflict
	}
	return nil
}

func (p Payment) Validate() error {
	if err := p.Amount.Validate(); err != nil {
		return err
	}
	if strings.TrimSpace(p.ClearedBy) == "" {
		return ErrUnknownMember
	}
	if p.ClearedAt.IsZero() {
		return ErrInvalidDate
	}
	return nil
}
