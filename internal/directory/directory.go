// Package directory provides member lookup for the ledger.
//
// Settlement logic never embeds identity assumptions: everything that
// needs a member name goes through a Directory, and lookup failures
// degrade to a placeholder instead of aborting the caller.
package directory

import (
	"context"
	"sync"

	"saldo/internal/core"
)

// Directory resolves member ids to display-capable members.
type Directory interface {
	// Lookup returns the member for the given id, or core.ErrUnknownMember.
	Lookup(ctx context.Context, memberID string) (core.Member, error)

	// List returns all known members.
	List(ctx context.Context) ([]core.Member, error)
}

// DisplayName resolves a member id to a name. When the directory
// cannot resolve the id, the raw id comes back so the record stays
// attributable.
func DisplayName(ctx context.Context, d Directory, memberID string) string {
	if d == nil {
		return memberID
	}
	m, err := d.Lookup(ctx, memberID)
	if err != nil || m.Name == "" {
		return memberID
	}
	return m.Name
}

// Resolver adapts a Directory to the core aggregation resolver shape.
func Resolver(ctx context.Context, d Directory) core.MemberResolver {
	return func(memberID string) (core.Member, bool) {
		if d == nil {
			return core.Member{}, false
		}
		m, err := d.Lookup(ctx, memberID)
		if err != nil {
			return core.Member{}, false
		}
		return m, true
	}
}

// Static is an in-memory Directory with a fixed member set. The group
// is small and fixed, so a map behind a mutex is all it takes.
type Static struct {
	mu      sync.RWMutex
	members map[string]core.Member
	order   []string
}

// NewStatic creates a Static directory from the given members.
func NewStatic(members ...core.Member) *Static {
	s := &Static{members: make(map[string]core.Member, len(members))}
	for _, m := range members {
		if _, ok := s.members[m.ID]; !ok {
			s.order = append(s.order, m.ID)
		}
		s.members[m.ID] = m
	}
	return s
}

func (s *Static) Lookup(_ context.Context, memberID string) (core.Member, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.members[memberID]
	if !ok {
		return core.Member{}, core.ErrUnknownMember
	}
	return m, nil
}

func (s *Static) List(_ context.Context) ([]core.Member, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]core.Member, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.members[id])
	}
	return out, nil
}
