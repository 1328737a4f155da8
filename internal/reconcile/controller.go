// Package reconcile keeps a client-side view of the ledger that applies
// clearings optimistically and converges on the record keeper's answer.
//
// A clearing is applied to the local snapshot before the round trip so
// readers see the expected outcome immediately. Whatever the record
// keeper returns then wins: a confirmation installs the committed state,
// a rejection rolls the snapshot back, and an unknown outcome (timeout,
// transport failure) forces a resync. The local view is a cache of the
// authoritative ledger, never a fork of it.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"saldo/internal/authority"
	"saldo/internal/core"
	"saldo/internal/directory"
)

type entry struct {
	// submitMu admits one outstanding clearing per expense. It is held
	// for the whole optimistic cycle, speculative apply through
	// reconciliation, so a second clearing on the same expense starts
	// from the first one's settled view. Clearings of distinct
	// expenses proceed independently.
	submitMu sync.Mutex

	// mu guards the snapshot state below. Unlike submitMu it is only
	// held for short reads and installs, never across the wire.
	mu sync.Mutex

	// gen increments on every install. A submission captures the
	// generation it started from; if a resync bumped it in the
	// meantime, the stale result is discarded.
	gen     uint64
	expense core.Expense
}

type Controller struct {
	authority authority.Authority
	directory directory.Directory

	mu      sync.RWMutex
	entries map[string]*entry
	order   []string
}

func NewController(auth authority.Authority, dir directory.Directory) *Controller {
	return &Controller{
		authority: auth,
		directory: dir,
		entries:   make(map[string]*entry),
	}
}

// Load replaces the local view with the record keeper's current state.
func (c *Controller) Load(ctx context.Context) error {
	expenses, err := c.authority.Expenses(ctx)
	if err != nil {
		return fmt.Errorf("load expenses: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*entry, len(expenses))
	c.order = c.order[:0]
	for _, e := range expenses {
		c.entries[e.ID] = &entry{expense: e.Clone()}
		c.order = append(c.order, e.ID)
	}
	return nil
}

// Expense returns the local view of one expense.
func (c *Controller) Expense(id string) (core.Expense, error) {
	c.mu.RLock()
	en, ok := c.entries[id]
	c.mu.RUnlock()
	if !ok {
		return core.Expense{}, fmt.Errorf("expense %q: %w", id, core.ErrNotFound)
	}
	en.mu.Lock()
	defer en.mu.Unlock()
	return en.expense.Clone(), nil
}

// Snapshot returns the local view of all expenses in load order.
func (c *Controller) Snapshot() []core.Expense {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]core.Expense, 0, len(c.order))
	for _, id := range c.order {
		en := c.entries[id]
		en.mu.Lock()
		out = append(out, en.expense.Clone())
		en.mu.Unlock()
	}
	return out
}

// CreateExpense registers an expense with the record keeper and adds
// the committed result to the local view. Creation is not speculative;
// only clearings are.
func (c *Controller) CreateExpense(ctx context.Context, input authority.NewExpense) (core.Expense, error) {
	e, err := c.authority.CreateExpense(ctx, input)
	if err != nil {
		return core.Expense{}, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.entries[e.ID]; !ok {
		c.entries[e.ID] = &entry{expense: e.Clone()}
		c.order = append(c.order, e.ID)
	}
	return e, nil
}

// Clear applies a clearing optimistically and submits it. On success
// the committed state replaces the provisional one; on rejection the
// snapshot rolls back and resyncs so the local view reflects whatever
// the record keeper accepted instead. The returned expense is always
// the post-reconciliation state.
func (c *Controller) Clear(ctx context.Context, req authority.Clearing) (core.Expense, core.Payment, error) {
	payer, err := c.directory.Lookup(ctx, req.PayerID)
	if err != nil {
		return core.Expense{}, core.Payment{}, fmt.Errorf("payer %q: %w", req.PayerID, core.ErrUnknownMember)
	}

	c.mu.RLock()
	en, ok := c.entries[req.ExpenseID]
	c.mu.RUnlock()
	if !ok {
		return core.Expense{}, core.Payment{}, fmt.Errorf("expense %q: %w", req.ExpenseID, core.ErrNotFound)
	}

	en.submitMu.Lock()
	defer en.submitMu.Unlock()

	en.mu.Lock()
	before := en.expense.Clone()

	// Speculative apply. A local rejection never reaches the wire.
	provisional, _, err := core.Clear(before, payer, req.Amount, time.Now().UTC())
	if err != nil {
		en.mu.Unlock()
		return core.Expense{}, core.Payment{}, err
	}
	en.expense = provisional
	gen := en.gen
	en.mu.Unlock()

	committed, payment, submitErr := c.authority.SubmitClearing(ctx, req)

	en.mu.Lock()
	if en.gen != gen {
		// A resync superseded this submission while it was in flight.
		en.mu.Unlock()
		if submitErr != nil {
			current, cerr := c.Expense(req.ExpenseID)
			if cerr != nil {
				return core.Expense{}, core.Payment{}, submitErr
			}
			return current, core.Payment{}, submitErr
		}
		// The clearing committed, and the concurrent refresh may
		// predate it. Resync so the commit cannot be lost from the
		// local view.
		if err := c.Resync(ctx, req.ExpenseID); err != nil {
			slog.ErrorContext(ctx, "Resync after superseded commit failed",
				"expense_id", req.ExpenseID,
				"error", err)
		}
		current, cerr := c.Expense(req.ExpenseID)
		if cerr != nil {
			return committed, payment, nil
		}
		return current, payment, nil
	}

	if submitErr == nil {
		en.gen++
		en.expense = committed.Clone()
		en.mu.Unlock()
		return committed, payment, nil
	}

	// Rejected or unknown outcome: drop the provisional state.
	en.expense = before
	en.mu.Unlock()

	slog.WarnContext(ctx, "Clearing rolled back",
		"expense_id", req.ExpenseID,
		"payer_id", req.PayerID,
		"amount_cents", req.Amount.Cents,
		"error", submitErr)

	// Mandatory resync. The rejection carries the record keeper's
	// reason; the resync brings the state that produced it. A
	// transport failure means the clearing may or may not have
	// committed, which is exactly what the resync resolves.
	if err := c.Resync(ctx, req.ExpenseID); err != nil {
		slog.ErrorContext(ctx, "Resync after rollback failed",
			"expense_id", req.ExpenseID,
			"error", err)
	}

	current, err := c.Expense(req.ExpenseID)
	if err != nil {
		return core.Expense{}, core.Payment{}, submitErr
	}
	return current, core.Payment{}, submitErr
}

// Resync replaces the local view of one expense with the record
// keeper's state. Expense and history fetch in parallel and must agree
// before installing.
func (c *Controller) Resync(ctx context.Context, expenseID string) error {
	var (
		expense core.Expense
		history []core.Payment
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		expense, err = c.authority.Expense(gctx, expenseID)
		return err
	})
	g.Go(func() error {
		var err error
		history, err = c.authority.History(gctx, expenseID)
		return err
	})
	if err := g.Wait(); err != nil {
		if errors.Is(err, core.ErrNotFound) {
			c.drop(expenseID)
		}
		return fmt.Errorf("resync expense %q: %w", expenseID, err)
	}

	expense.History = history
	if err := expense.CheckConsistency(); err != nil {
		return fmt.Errorf("resync expense %q: inconsistent history: %w", expenseID, err)
	}

	c.install(expense)
	return nil
}

// ResyncAll refreshes every tracked expense in parallel.
func (c *Controller) ResyncAll(ctx context.Context) error {
	c.mu.RLock()
	ids := make([]string, len(c.order))
	copy(ids, c.order)
	c.mu.RUnlock()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for _, id := range ids {
		id := id
		g.Go(func() error { return c.Resync(gctx, id) })
	}
	return g.Wait()
}

func (c *Controller) install(e core.Expense) {
	c.mu.Lock()
	en, ok := c.entries[e.ID]
	if !ok {
		en = &entry{}
		c.entries[e.ID] = en
		c.order = append(c.order, e.ID)
	}
	c.mu.Unlock()

	en.mu.Lock()
	en.gen++
	en.expense = e.Clone()
	en.mu.Unlock()
}

func (c *Controller) drop(expenseID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.entries[expenseID]; !ok {
		return
	}
	delete(c.entries, expenseID)
	for i, id := range c.order {
		if id == expenseID {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
}

// Summary aggregates the local view.
func (c *Controller) Summary(ctx context.Context) core.Summary {
	return core.Aggregate(c.Snapshot(), directory.Resolver(ctx, c.directory))
}

// Adapter exposes a Controller through the Authority port so callers
// built against the record keeper can run over the reconciled local
// view instead. Reads come from the snapshot; clearings go through the
// optimistic submit path; budgets pass through to the upstream record
// keeper untouched.
type Adapter struct {
	ctrl     *Controller
	upstream authority.Authority
}

var _ authority.Authority = (*Adapter)(nil)

func NewAdapter(ctrl *Controller, upstream authority.Authority) *Adapter {
	return &Adapter{ctrl: ctrl, upstream: upstream}
}

func (a *Adapter) CreateExpense(ctx context.Context, input authority.NewExpense) (core.Expense, error) {
	return a.ctrl.CreateExpense(ctx, input)
}

func (a *Adapter) Expense(ctx context.Context, id string) (core.Expense, error) {
	e, err := a.ctrl.Expense(id)
	if err == nil {
		return e, nil
	}
	// Unknown locally; the record keeper may have it. A hit also
	// seeds the local view.
	upstream, uerr := a.ctrl.authority.Expense(ctx, id)
	if uerr != nil {
		return core.Expense{}, err
	}
	a.ctrl.install(upstream)
	return upstream, nil
}

func (a *Adapter) Expenses(_ context.Context) ([]core.Expense, error) {
	return a.ctrl.Snapshot(), nil
}

func (a *Adapter) History(ctx context.Context, expenseID string) ([]core.Payment, error) {
	e, err := a.Expense(ctx, expenseID)
	if err != nil {
		return nil, err
	}
	out := make([]core.Payment, len(e.History))
	copy(out, e.History)
	return out, nil
}

func (a *Adapter) SubmitClearing(ctx context.Context, req authority.Clearing) (core.Expense, core.Payment, error) {
	return a.ctrl.Clear(ctx, req)
}

func (a *Adapter) BudgetStatus(ctx context.Context, memberID string) (core.BudgetStatus, error) {
	return a.upstream.BudgetStatus(ctx, memberID)
}

func (a *Adapter) SetBudget(ctx context.Context, memberID string, monthly core.Money) error {
	return a.upstream.SetBudget(ctx, memberID, monthly)
}
