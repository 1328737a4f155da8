// Package worker turns the clearing event stream into a durable
// journal. The journal is an append-only JSON-lines file: one line per
// committed payment, in consumption order, suitable for audits and
// offline reprocessing.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"saldo/internal/events"
)

// JournalEntry is one line of the journal file.
type JournalEntry struct {
	RecordedAt   time.Time `json:"recorded_at"`
	ExpenseID    string    `json:"expense_id"`
	PaymentID    string    `json:"payment_id"`
	PayerID      string    `json:"payer_id"`
	AmountCents  int64     `json:"amount_cents"`
	ClearedCents int64     `json:"cleared_cents"`
	Status       string    `json:"status"`
	ClearedAt    time.Time `json:"cleared_at"`
}

// Journal appends clearing events to a file.
type Journal struct {
	mu   sync.Mutex
	file *os.File
	path string
	seen map[string]bool
	now  func() time.Time
}

func NewJournal(path string) (*Journal, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create journal directory: %w", err)
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	return &Journal{
		file: file,
		path: path,
		seen: make(map[string]bool),
		now:  time.Now,
	}, nil
}

// HandleClearing records one event. Redelivered events are recognized
// by payment id and acknowledged without a duplicate line, so at-least-
// once delivery still yields an exactly-once journal per process run.
func (j *Journal) HandleClearing(event *events.ClearingEvent) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if event.PaymentID == "" {
		return fmt.Errorf("clearing event without payment id (expense %s)", event.ExpenseID)
	}
	if j.seen[event.PaymentID] {
		slog.Info("Skipping already journaled payment",
			"payment_id", event.PaymentID,
			"expense_id", event.ExpenseID)
		return nil
	}

	entry := JournalEntry{
		RecordedAt:   j.now().UTC(),
		ExpenseID:    event.ExpenseID,
		PaymentID:    event.PaymentID,
		PayerID:      event.PayerID,
		AmountCents:  event.AmountCents,
		ClearedCents: event.ClearedCents,
		Status:       event.Status,
		ClearedAt:    event.ClearedAt,
	}
	line, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal journal entry: %w", err)
	}
	if _, err := j.file.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("append journal entry: %w", err)
	}
	if err := j.file.Sync(); err != nil {
		return fmt.Errorf("sync journal: %w", err)
	}

	j.seen[event.PaymentID] = true
	slog.Info("Journaled clearing",
		"payment_id", event.PaymentID,
		"expense_id", event.ExpenseID,
		"amount_cents", event.AmountCents,
		"status", event.Status)
	return nil
}

// Run consumes clearing events into the journal until ctx is cancelled.
func (j *Journal) Run(ctx context.Context, client *events.Client) error {
	return client.ConsumeClearings(ctx, j.HandleClearing)
}

func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.file.Close()
}
