package push

import (
	"encoding/json"

	"github.com/abelbrown/chatpulse/internal/task"
)

// Frame types. Control frames flow client to server, data frames server to
// client.
const (
	TypeSubscribe   = "subscribe_task"
	TypeUnsubscribe = "unsubscribe_task"
	TypeProgress    = "task_progress"
	TypeCompleted   = "task_completed"
	TypeConnected   = "connected"
)

// Envelope is the JSON text frame exchanged on the socket.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// TaskRef is the payload of subscribe_task and unsubscribe_task.
type TaskRef struct {
	TaskID task.ID `json:"task_id"`
}

// Encode builds a frame of the given type around payload.
func Encode(typ string, payload any) ([]byte, error) {
	env := Envelope{Type: typ}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		env.Payload = raw
	}
	return json.Marshal(env)
}

// Decode parses a frame envelope. The payload is left raw.
func Decode(data []byte) (Envelope, error) {
	var env Envelope
	err := json.Unmarshal(data, &env)
	return env, err
}
