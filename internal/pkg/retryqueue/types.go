package retryqueue

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/mkessels/paybridge/internal/pkg/webhook"
)

const (
	// Redis key layout
	EnvelopeKeyPrefix = "retry:envelope:"
	DueSetKey         = "retry_due"
	DeadLetterKey     = "retry_dead_letter"
	StatsKey          = "retry_stats"

	// Envelopes expire well after any realistic retry horizon.
	EnvelopeTTL = 7 * 24 * time.Hour

	DefaultMaxAttempts = 8
	DefaultWorkers     = 3
)

// Stats hash fields.
const (
	StatScheduled  = "scheduled"
	StatDelivered  = "delivered"
	StatDeadLetter = "dead_letter"
)

// Envelope is the durable, delayed-delivery message representing "try this
// payment event again later". Attempt grows monotonically on each requeue.
type Envelope struct {
	ID         string               `json:"id"`
	OrderRef   string               `json:"order_ref"`
	Payment    webhook.PaymentEvent `json:"payment"`
	Attempt    int                  `json:"attempt"`
	EnqueuedAt time.Time            `json:"enqueued_at"`
}

// ScheduleResult is the terminal decision Schedule took for an envelope.
type ScheduleResult string

const (
	ResultScheduled    ScheduleResult = "scheduled"
	ResultDeadLettered ScheduleResult = "dead_lettered"
)

func marshalEnvelope(env *Envelope) ([]byte, error) {
	data, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal retry envelope %s: %w", env.ID, err)
	}
	return data, nil
}

func unmarshalEnvelope(data []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("failed to unmarshal retry envelope: %w", err)
	}
	return &env, nil
}
