package amqp

import (
	"encoding/json"
	"errors"
	"time"

	"sheetledger/internal/core"
)

// AppendMessage carries one append command to the ledger worker.
type AppendMessage struct {
	// ID identifies the command; the worker skips ids it already applied.
	ID          string              `json:"id"`
	RequestID   string              `json:"request_id,omitempty"`
	Transaction core.NewTransaction `json:"transaction"`
	Timestamp   time.Time           `json:"timestamp"`
}

func NewAppendMessage(id, requestID string, tx core.NewTransaction) *AppendMessage {
	return &AppendMessage{
		ID:          id,
		RequestID:   requestID,
		Transaction: tx,
		Timestamp:   time.Now(),
	}
}

// ToJSON converts the message to JSON bytes
func (m *AppendMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// AppendMessageFromJSON decodes a message and requires an id.
func AppendMessageFromJSON(data []byte) (*AppendMessage, error) {
	var msg AppendMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	if msg.ID == "" {
		return nil, errors.New("append message without id")
	}
	return &msg, nil
}
