package worker

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"saldo/internal/events"
)

func testEvent(paymentID string) *events.ClearingEvent {
	return &events.ClearingEvent{
		ExpenseID:    "exp-1",
		PaymentID:    paymentID,
		PayerID:      "bruno",
		AmountCents:  2500,
		ClearedCents: 2500,
		Status:       "PARTIALLY_CLEARED",
		ClearedAt:    time.Date(2026, 8, 20, 9, 0, 0, 0, time.UTC),
		Timestamp:    time.Date(2026, 8, 20, 9, 0, 1, 0, time.UTC),
	}
}

func readEntries(t *testing.T, path string) []JournalEntry {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open journal: %v", err)
	}
	defer f.Close()

	var out []JournalEntry
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var entry JournalEntry
		if err := json.Unmarshal(scanner.Bytes(), &entry); err != nil {
			t.Fatalf("bad journal line %q: %v", scanner.Text(), err)
		}
		out = append(out, entry)
	}
	return out
}

func TestJournalAppendsEntries(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal", "clearings.jsonl")
	j, err := NewJournal(path)
	if err != nil {
		t.Fatalf("NewJournal: %v", err)
	}
	defer j.Close()

	if err := j.HandleClearing(testEvent("pay-1")); err != nil {
		t.Fatalf("HandleClearing: %v", err)
	}
	if err := j.HandleClearing(testEvent("pay-2")); err != nil {
		t.Fatalf("HandleClearing: %v", err)
	}

	entries := readEntries(t, path)
	if len(entries) != 2 {
		t.Fatalf("len(entries) = %d, want 2", len(entries))
	}
	if entries[0].PaymentID != "pay-1" || entries[1].PaymentID != "pay-2" {
		t.Errorf("entries out of order: %+v", entries)
	}
	if entries[0].AmountCents != 2500 || entries[0].Status != "PARTIALLY_CLEARED" {
		t.Errorf("entry = %+v", entries[0])
	}
}

func TestJournalDeduplicatesRedeliveries(t *testing.T) {
	path := filepath.Join(t.TempDir(), "clearings.jsonl")
	j, err := NewJournal(path)
	if err != nil {
		t.Fatalf("NewJournal: %v", err)
	}
	defer j.Close()

	for i := 0; i < 3; i++ {
		if err := j.HandleClearing(testEvent("pay-1")); err != nil {
			t.Fatalf("HandleClearing: %v", err)
		}
	}

	if got := len(readEntries(t, path)); got != 1 {
		t.Errorf("journal lines = %d, want 1", got)
	}
}

func TestJournalRejectsAnonymousPayments(t *testing.T) {
	path := filepath.Join(t.TempDir(), "clearings.jsonl")
	j, err := NewJournal(path)
	if err != nil {
		t.Fatalf("NewJournal: %v", err)
	}
	defer j.Close()

	if err := j.HandleClearing(testEvent("")); err == nil {
		t.Error("HandleClearing should reject an event without a payment id")
	}
}
