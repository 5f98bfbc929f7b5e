package core

import "time"

// Journal operations.
const (
	JournalAppend = "append"
	JournalUndo   = "undo"
)

// JournalEntry is an audit record of one ledger mutation.
type JournalEntry struct {
	ID         int64     `json:"id"`
	Op         string    `json:"op"`
	Sheet      string    `json:"sheet"`
	Range      string    `json:"range"`
	Day        string    `json:"day"`
	Note       string    `json:"note"`
	Price      float64   `json:"price"`
	PaidByCash bool      `json:"paidByCash"`
	RequestID  string    `json:"requestId,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
}
