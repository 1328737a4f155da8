package events

import (
	"encoding/json"
	"time"
)

// ClearingEvent announces a committed payment. It carries identifiers
// plus the committed figures so journal consumers never have to call
// back into the record keeper.
type ClearingEvent struct {
	ExpenseID    string    `json:"expense_id"`
	PaymentID    string    `json:"payment_id"`
	PayerID      string    `json:"payer_id"`
	AmountCents  int64     `json:"amount_cents"`
	ClearedCents int64     `json:"cleared_cents"`
	Status       string    `json:"status"`
	ClearedAt    time.Time `json:"cleared_at"`
	Timestamp    time.Time `json:"timestamp"`
}

// ToJSON converts the event to JSON bytes.
func (e *ClearingEvent) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

// ClearingEventFromJSON creates an event from JSON bytes.
func ClearingEventFromJSON(data []byte) (*ClearingEvent, error) {
	var e ClearingEvent
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, err
	}
	return &e, nil
}
