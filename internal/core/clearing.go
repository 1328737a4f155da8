package core

import "time"

// Clear validates and applies one partial or full payment against an
// expense. It is pure: the input expense is not mutated, and the caller
// decides what to do with the result (commit it, present it
// speculatively, discard it).
//
// Precondition order: amount validity, settlement state, remaining
// balance. The payer must already be resolved against the member
// directory; an unresolved payer never reaches this function.
//
// The returned payment has no ID. IDs are assigned by the authority on
// commit, so a speculative local application stays distinguishable from
// a confirmed one.
func Clear(e Expense, payer Member, amount Money, at time.Time) (Expense, Payment, error) {
	if err := amount.Validate(); err != nil {
		return e, Payment{}, err
	}
	if e.Status() == StatusFullyCleared {
		return e, Payment{}, ErrAlreadySettled
	}
	// Remaining is recomputed from amount and cleared, never taken from
	// a possibly-stale field the caller supplied.
	remaining := e.Remaining()
	if amount.Cents > remaining.Cents {
		return e, Payment{}, &OverclearingError{Remaining: remaining}
	}

	p := Payment{
		ExpenseID: e.ID,
		Amount:    amount,
		ClearedBy: payer.ID,
		ClearedAt: at,
	}

	updated := e
	updated.Cleared = e.Cleared.Add(amount)
	updated.History = append(append([]Payment(nil), e.History...), p)
	return updated, p, nil
}
