package messaging

import "encoding/json"

type KafkaEvent = string

const (
	// RecordFailedEvent помечает задание, ушедшее в тему dead-letter
	RecordFailedEvent KafkaEvent = "import_record_failed"
)

// DeadLetter оборачивает необработанное задание для темы dead-letter
type DeadLetter struct {
	Event   KafkaEvent      `json:"event"`
	Source  string          `json:"source"`
	Reason  string          `json:"reason"`
	Payload json.RawMessage `json:"payload"`
}
