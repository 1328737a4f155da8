package core

// UnknownMemberName is the bucket used when an expense's member cannot
// be resolved. A torn or partial record should still be visible to the
// group, so resolution failure is a fallback, not an error.
const UnknownMemberName = "Unknown"

type (
	// Totals are the global accumulators over an expense set.
	Totals struct {
		Total     Money
		Cleared   Money
		Remaining Money
		Count     int
	}

	// MemberSummary is one per-member row of an aggregation.
	MemberSummary struct {
		Member    string
		Total     Money
		Cleared   Money
		Remaining Money
	}

	// Summary is the result of folding an expense set.
	Summary struct {
		Totals    Totals
		PerMember []MemberSummary
	}
)

// MemberResolver maps a member id to a display-capable member. A false
// return means the id could not be resolved.
type MemberResolver func(memberID string) (Member, bool)

// Aggregate folds expenses into global totals and per-member summaries
// in a single pass. Grouping is by resolved member name with an
// "Unknown" bucket for unresolvable ids. PerMember rows appear in
// first-occurrence order; callers needing a stable display order sort
// explicitly.
//
// All accumulation is integer-cent arithmetic, so the result is exact
// and independent of input order.
func Aggregate(expenses []Expense, resolve MemberResolver) Summary {
	s := Summary{}
	index := make(map[string]int)

	for _, e := range expenses {
		remaining := e.Remaining()
		s.Totals.Total = s.Totals.Total.Add(e.Amount)
		s.Totals.Cleared = s.Totals.Cleared.Add(e.Cleared)
		s.Totals.Remaining = s.Totals.Remaining.Add(remaining)
		s.Totals.Count++

		name := UnknownMemberName
		if resolve != nil {
			if m, ok := resolve(e.MemberID); ok && m.Name != "" {
				name = m.Name
			}
		}

		i, seen := index[name]
		if !seen {
			i = len(s.PerMember)
			index[name] = i
			s.PerMember = append(s.PerMember, MemberSummary{Member: name})
		}
		s.PerMember[i].Total = s.PerMember[i].Total.Add(e.Amount)
		s.PerMember[i].Cleared = s.PerMember[i].Cleared.Add(e.Cleared)
		s.PerMember[i].Remaining = s.PerMember[i].Remaining.Add(remaining)
	}

	return s
}

// BudgetFor derives a member's budget status from their monthly budget
// and current expense set. Used spend is the member's total assigned
// amount, not the cleared portion: an obligation consumes budget when
// it is incurred, not when it is paid back. Remaining may go negative.
func BudgetFor(memberID string, monthly Money, expenses []Expense) BudgetStatus {
	var used Money
	for _, e := range expenses {
		if e.MemberID == memberID {
			used = used.Add(e.Amount)
		}
	}
	return BudgetStatus{
		MemberID:      memberID,
		MonthlyBudget: monthly,
		Used:          used,
		Remaining:     monthly.Sub(used),
	}
}
