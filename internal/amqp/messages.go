package amqp

import (
	"encoding/json"
	"errors"
	"time"
)

// PendingSaveMessage wakes the worker up for one queued save.
// It carries only the outbox id; the worker reads the payload from SQLite.
type PendingSaveMessage struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

func NewPendingSaveMessage(id, userID string) *PendingSaveMessage {
	return &PendingSaveMessage{
		ID:        id,
		UserID:    userID,
		Timestamp: time.Now(),
	}
}

// ToJSON converts the message to JSON bytes
func (m *PendingSaveMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// PendingSaveMessageFromJSON decodes a message and rejects ones without an id.
func PendingSaveMessageFromJSON(data []byte) (*PendingSaveMessage, error) {
	var msg PendingSaveMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	if msg.ID == "" {
		return nil, errors.New("pending save message without id")
	}
	return &msg, nil
}
