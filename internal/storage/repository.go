// Package storage is the SQLite-backed system of record. Clearings
// commit through a guarded update so validation and write happen in one
// transaction; two racing submissions cannot both pass the remaining
// check.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"saldo/internal/authority"
	"saldo/internal/core"

	_ "modernc.org/sqlite"
)

type SQLiteRepository struct {
	db  *sql.DB
	now func() time.Time
}

var _ authority.Authority = (*SQLiteRepository)(nil)

func NewSQLiteRepository(dbPath string) (*SQLiteRepository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := RunMigrations(dbPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteRepository{db: db, now: time.Now}, nil
}

func (r *SQLiteRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// UpsertMember registers a member at the given directory position.
// Called at startup to sync the configured roster into the database.
func (r *SQLiteRepository) UpsertMember(ctx context.Context, m core.Member, position int) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO members (id, name, position) VALUES (?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET name = excluded.name, position = excluded.position`,
		m.ID, m.Name, position)
	if err != nil {
		return fmt.Errorf("upsert member: %w", err)
	}
	return nil
}

// Lookup implements directory.Directory.
func (r *SQLiteRepository) Lookup(ctx context.Context, id string) (core.Member, error) {
	var m core.Member
	err := r.db.QueryRowContext(ctx,
		`SELECT id, name FROM members WHERE id = ?`, id).Scan(&m.ID, &m.Name)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Member{}, fmt.Errorf("member %q: %w", id, core.ErrUnknownMember)
	}
	if err != nil {
		return core.Member{}, fmt.Errorf("lookup member: %w", err)
	}
	return m, nil
}

// List implements directory.Directory. Members come back in their
// configured roster order.
func (r *SQLiteRepository) List(ctx context.Context) ([]core.Member, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, name FROM members ORDER BY position`)
	if err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}
	defer rows.Close()

	var out []core.Member
	for rows.Next() {
		var m core.Member
		if err := rows.Scan(&m.ID, &m.Name); err != nil {
			return nil, fmt.Errorf("scan member: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (r *SQLiteRepository) CreateExpense(ctx context.Context, input authority.NewExpense) (core.Expense, error) {
	e := core.Expense{
		ID:          uuid.NewString(),
		Description: input.Description,
		Amount:      input.Amount,
		MemberID:    input.MemberID,
		Date:        input.Date,
	}
	if err := e.Validate(); err != nil {
		return core.Expense{}, err
	}
	if _, err := r.Lookup(ctx, input.MemberID); err != nil {
		return core.Expense{}, err
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO expenses (id, description, amount_cents, member_id, expense_date)
		VALUES (?, ?, ?, ?, ?)`,
		e.ID, e.Description, e.Amount.Cents, e.MemberID, e.Date.String())
	if err != nil {
		return core.Expense{}, fmt.Errorf("create expense: %w", err)
	}

	slog.InfoContext(ctx, "Expense recorded",
		"id", e.ID,
		"member_id", e.MemberID,
		"amount_cents", e.Amount.Cents)

	return e, nil
}

func (r *SQLiteRepository) Expense(ctx context.Context, id string) (core.Expense, error) {
	e, err := r.scanExpense(ctx, r.db, id)
	if err != nil {
		return core.Expense{}, err
	}
	history, err := r.History(ctx, id)
	if err != nil {
		return core.Expense{}, err
	}
	e.History = history
	return e, nil
}

func (r *SQLiteRepository) Expenses(ctx context.Context) ([]core.Expense, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, description, amount_cents, member_id, expense_date, cleared_amount_cents
		FROM expenses ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("list expenses: %w", err)
	}
	defer rows.Close()

	var out []core.Expense
	for rows.Next() {
		e, err := scanExpenseRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if err := r.attachHistories(ctx, out); err != nil {
		return nil, err
	}
	return out, nil
}

// attachHistories loads every payment once and distributes them to the
// listed expenses, keeping the listing a two-query operation.
func (r *SQLiteRepository) attachHistories(ctx context.Context, expenses []core.Expense) error {
	if len(expenses) == 0 {
		return nil
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, expense_id, amount_cents, cleared_by, cleared_at
		FROM payments ORDER BY cleared_at, id`)
	if err != nil {
		return fmt.Errorf("list payments: %w", err)
	}
	defer rows.Close()

	byExpense := make(map[string][]core.Payment)
	for rows.Next() {
		var (
			p         core.Payment
			cents     int64
			clearedAt string
		)
		if err := rows.Scan(&p.ID, &p.ExpenseID, &cents, &p.ClearedBy, &clearedAt); err != nil {
			return fmt.Errorf("scan payment: %w", err)
		}
		p.Amount = core.Money{Cents: cents}
		p.ClearedAt, err = time.Parse(time.RFC3339, clearedAt)
		if err != nil {
			return fmt.Errorf("parse cleared_at: %w", err)
		}
		byExpense[p.ExpenseID] = append(byExpense[p.ExpenseID], p)
	}
	if err := rows.Err(); err != nil {
		return err
	}
	for i := range expenses {
		expenses[i].History = byExpense[expenses[i].ID]
	}
	return nil
}

func (r *SQLiteRepository) History(ctx context.Context, expenseID string) ([]core.Payment, error) {
	if _, err := r.scanExpense(ctx, r.db, expenseID); err != nil {
		return nil, err
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, amount_cents, cleared_by, cleared_at
		FROM payments WHERE expense_id = ? ORDER BY cleared_at, id`, expenseID)
	if err != nil {
		return nil, fmt.Errorf("list payments: %w", err)
	}
	defer rows.Close()

	var out []core.Payment
	for rows.Next() {
		var (
			p         core.Payment
			cents     int64
			clearedAt string
		)
		if err := rows.Scan(&p.ID, &cents, &p.ClearedBy, &clearedAt); err != nil {
			return nil, fmt.Errorf("scan payment: %w", err)
		}
		p.ExpenseID = expenseID
		p.Amount = core.Money{Cents: cents}
		p.ClearedAt, err = time.Parse(time.RFC3339, clearedAt)
		if err != nil {
			return nil, fmt.Errorf("parse cleared_at: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// SubmitClearing commits a payment with a guarded update. The cleared
// counter only advances when the payment still fits the remaining
// amount at write time; a stale client view cannot overdraw the
// expense.
func (r *SQLiteRepository) SubmitClearing(ctx context.Context, req authority.Clearing) (core.Expense, core.Payment, error) {
	if err := req.Amount.Validate(); err != nil {
		return core.Expense{}, core.Payment{}, err
	}
	if _, err := r.Lookup(ctx, req.PayerID); err != nil {
		return core.Expense{}, core.Payment{}, err
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return core.Expense{}, core.Payment{}, fmt.Errorf("begin clearing tx: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE expenses
		SET cleared_amount_cents = cleared_amount_cents + ?
		WHERE id = ? AND cleared_amount_cents + ? <= amount_cents`,
		req.Amount.Cents, req.ExpenseID, req.Amount.Cents)
	if err != nil {
		return core.Expense{}, core.Payment{}, fmt.Errorf("apply clearing: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return core.Expense{}, core.Payment{}, fmt.Errorf("apply clearing: %w", err)
	}
	if affected == 0 {
		return core.Expense{}, core.Payment{}, r.classifyRejection(ctx, tx, req.ExpenseID)
	}

	payment := core.Payment{
		ID:        uuid.NewString(),
		ExpenseID: req.ExpenseID,
		Amount:    req.Amount,
		ClearedBy: req.PayerID,
		ClearedAt: r.now().UTC(),
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO payments (id, expense_id, amount_cents, cleared_by, cleared_at)
		VALUES (?, ?, ?, ?, ?)`,
		payment.ID, payment.ExpenseID, payment.Amount.Cents,
		payment.ClearedBy, payment.ClearedAt.Format(time.RFC3339))
	if err != nil {
		return core.Expense{}, core.Payment{}, fmt.Errorf("record payment: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return core.Expense{}, core.Payment{}, fmt.Errorf("commit clearing: %w", err)
	}

	expense, err := r.Expense(ctx, req.ExpenseID)
	if err != nil {
		return core.Expense{}, core.Payment{}, err
	}

	slog.InfoContext(ctx, "Clearing committed",
		"expense_id", req.ExpenseID,
		"payment_id", payment.ID,
		"payer_id", req.PayerID,
		"amount_cents", req.Amount.Cents,
		"status", string(expense.Status()))

	return expense, payment, nil
}

// classifyRejection turns a zero-row guarded update into the precise
// domain error: the expense is missing, already settled, or the payment
// exceeds the remaining amount.
func (r *SQLiteRepository) classifyRejection(ctx context.Context, tx *sql.Tx, expenseID string) error {
	e, err := r.scanExpense(ctx, tx, expenseID)
	if err != nil {
		return err
	}
	if e.Status() == core.StatusFullyCleared {
		return fmt.Errorf("expense %q: %w", expenseID, core.ErrAlreadySettled)
	}
	return &core.OverclearingError{Remaining: e.Remaining()}
}

func (r *SQLiteRepository) BudgetStatus(ctx context.Context, memberID string) (core.BudgetStatus, error) {
	var monthlyCents int64
	err := r.db.QueryRowContext(ctx,
		`SELECT monthly_cents FROM budgets WHERE member_id = ?`, memberID).Scan(&monthlyCents)
	if errors.Is(err, sql.ErrNoRows) {
		return core.BudgetStatus{}, fmt.Errorf("budget for %q: %w", memberID, core.ErrNotFound)
	}
	if err != nil {
		return core.BudgetStatus{}, fmt.Errorf("get budget: %w", err)
	}

	var usedCents int64
	err = r.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(amount_cents), 0) FROM expenses WHERE member_id = ?`, memberID).Scan(&usedCents)
	if err != nil {
		return core.BudgetStatus{}, fmt.Errorf("sum member expenses: %w", err)
	}

	monthly := core.Money{Cents: monthlyCents}
	used := core.Money{Cents: usedCents}
	return core.BudgetStatus{
		MemberID:      memberID,
		MonthlyBudget: monthly,
		Used:          used,
		Remaining:     monthly.Sub(used),
	}, nil
}

func (r *SQLiteRepository) SetBudget(ctx context.Context, memberID string, monthly core.Money) error {
	if err := monthly.Validate(); err != nil {
		return err
	}
	if _, err := r.Lookup(ctx, memberID); err != nil {
		return err
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO budgets (member_id, monthly_cents) VALUES (?, ?)
		ON CONFLICT (member_id) DO UPDATE SET monthly_cents = excluded.monthly_cents`,
		memberID, monthly.Cents)
	if err != nil {
		return fmt.Errorf("set budget: %w", err)
	}
	return nil
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (r *SQLiteRepository) scanExpense(ctx context.Context, q querier, id string) (core.Expense, error) {
	row := q.QueryRowContext(ctx, `
		SELECT id, description, amount_cents, member_id, expense_date, cleared_amount_cents
		FROM expenses WHERE id = ?`, id)
	e, err := scanExpenseRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Expense{}, fmt.Errorf("expense %q: %w", id, core.ErrNotFound)
	}
	return e, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanExpenseRow(row rowScanner) (core.Expense, error) {
	var (
		e            core.Expense
		amountCents  int64
		date         string
		clearedCents int64
	)
	if err := row.Scan(&e.ID, &e.Description, &amountCents, &e.MemberID, &date, &clearedCents); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return core.Expense{}, err
		}
		return core.Expense{}, fmt.Errorf("scan expense: %w", err)
	}
	e.Amount = core.Money{Cents: amountCents}
	e.Cleared = core.Money{Cents: clearedCents}
	parsed, err := core.ParseDate(date)
	if err != nil {
		return core.Expense{}, fmt.Errorf("parse expense_date: %w", err)
	}
	e.Date = parsed
	return e, nil
}
