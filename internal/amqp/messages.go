package amqp

import (
	"encoding/json"
	"time"
)

// Record kinds carried by change messages
const (
	KindActivity = "activity"
	KindExpense  = "expense"
	KindUser     = "user"
)

// Change operations
const (
	OpSaved   = "saved"
	OpDeleted = "deleted"
)

// RecordChangeMessage announces that a record was written or removed.
// It carries identifiers only; consumers fetch the current state from the store.
type RecordChangeMessage struct {
	Kind      string    `json:"kind"`
	Op        string    `json:"op"`
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Timestamp time.Time `json:"timestamp"`
}

// NewRecordChangeMessage creates a change message stamped with the current time
func NewRecordChangeMessage(kind, op, id, userID string) *RecordChangeMessage {
	return &RecordChangeMessage{
		Kind:      kind,
		Op:        op,
		ID:        id,
		UserID:    userID,
		Timestamp: time.Now().UTC(),
	}
}

// ToJSON converts the message to JSON bytes
func (m *RecordChangeMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// RecordChangeMessageFromJSON creates a message from JSON bytes
func RecordChangeMessageFromJSON(data []byte) (*RecordChangeMessage, error) {
	var msg RecordChangeMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}
