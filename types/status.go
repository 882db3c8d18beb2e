package types

import (
	"fmt"
	"time"

	"github.com/rs/xid"
)

// Status is the outcome class of a status event.
type Status string

const (
	// StatusSent means the router confirmed the message was handed to the
	// transport. Not a delivery confirmation.
	StatusSent Status = "sent"

	// StatusDelivered means the recipient acknowledged the message.
	StatusDelivered Status = "delivered"

	// StatusPropagated means a propagation relay accepted the message for
	// store-and-forward delivery. This is the strongest confirmation that
	// exists for propagated messages.
	StatusPropagated Status = "propagated"

	// StatusFailed is terminal. The event carries a reason when the
	// failure came out of the retry machinery.
	StatusFailed Status = "failed"

	// StatusRetryingAlternativeRelay means the message is parked waiting
	// for the host to supply a replacement relay.
	StatusRetryingAlternativeRelay Status = "retrying_alternative_relay"

	// StatusRetryingPropagated means the message was resubmitted through a
	// replacement relay.
	StatusRetryingPropagated Status = "retrying_propagated"
)

// Failure reasons carried on terminal StatusFailed events.
const (
	ReasonMaxRelayRetriesExceeded = "max_relay_retries_exceeded"
	ReasonNoRelaysAvailable       = "no_relays_available"
	ReasonResubmitFailed          = "resubmit_failed"
)

// StatusEvent is the structured notification pushed to the host-side
// observer on every delivery transition. The JSON field names are part of
// the host boundary contract.
type StatusEvent struct {
	ID          string `json:"id"`
	MessageHash string `json:"message_hash"`
	Status      Status `json:"status"`
	Timestamp   int64  `json:"timestamp"`
	Reason      string `json:"reason,omitempty"`
	TriedCount  int    `json:"tried_count,omitempty"`
}

// NewStatusEvent returns an event for the given message hash with a fresh ID
// and the current time.
func NewStatusEvent(hash []byte, status Status) StatusEvent {
	return StatusEvent{
		ID:          xid.New().String(),
		MessageHash: fmt.Sprintf("%x", hash),
		Status:      status,
		Timestamp:   time.Now().Unix(),
	}
}

func (e StatusEvent) String() string {
	if e.Reason != "" {
		return fmt.Sprintf("{%s: %s (%s)}", e.MessageHash, e.Status, e.Reason)
	}
	return fmt.Sprintf("{%s: %s}", e.MessageHash, e.Status)
}
