package types

import (
	"encoding/hex"
	"fmt"
)

// DeliveryMethod is the delivery mode requested for an outbound message.
type DeliveryMethod byte

const (
	// MethodUnknown is the zero value, before the router picks a mode.
	MethodUnknown DeliveryMethod = 0x00

	// MethodOpportunistic is a fire-and-forget single-packet send. No
	// delivery confirmation is expected; success is assumed unless a
	// timeout or an explicit failure occurs.
	MethodOpportunistic DeliveryMethod = 0x01

	// MethodDirect is a connection-based send over an established link.
	MethodDirect DeliveryMethod = 0x02

	// MethodPropagated hands the message to a propagation relay for
	// store-and-forward delivery. A "sent" confirmation means the hand-off
	// succeeded, not that the recipient received anything.
	MethodPropagated DeliveryMethod = 0x03
)

func (m DeliveryMethod) String() string {
	switch m {
	case MethodOpportunistic:
		return "opportunistic"
	case MethodDirect:
		return "direct"
	case MethodPropagated:
		return "propagated"
	default:
		return "unknown"
	}
}

// MessageState is where the router last left a message in its send
// pipeline. The coordinator only reads it; the router owns transitions.
type MessageState byte

const (
	StateGenerating MessageState = 0x00
	StateOutbound   MessageState = 0x01
	StateSending    MessageState = 0x02
	StateSent       MessageState = 0x04
	StateDelivered  MessageState = 0x08
	StateFailed     MessageState = 0xFF
)

// Attachment is a file riding along an outbound message.
type Attachment struct {
	Name    string
	Payload []byte
}

// OutboundMessage is an application message in flight. The router produces
// the packed artifacts and mutates State; the coordinator owns the retry
// bookkeeping (TriedRelays, PropagationRetryAttempted, DeliveryAttempts).
type OutboundMessage struct {
	// Hash is the content-derived message identifier. Tracking maps key on
	// its hex form, see HashHex.
	Hash []byte

	DesiredMethod DeliveryMethod
	State         MessageState

	// TryPropagationOnFail marks messages that should escalate to
	// store-and-forward delivery when a direct attempt fails. Cleared on
	// the first escalation so the failure of the escalated send cannot
	// trigger a second one.
	TryPropagationOnFail bool

	// PropagationRetryAttempted is set once the message has been escalated
	// to MethodPropagated at least once.
	PropagationRetryAttempted bool

	// DeliveryAttempts counts the router's attempts for the current relay.
	// Reset to zero on every fresh relay attempt.
	DeliveryAttempts int

	// TriedRelays lists the relay addresses already attempted for this
	// message, in order. Append-only within one message's lifetime.
	TriedRelays [][]byte

	// Packed, PropagationPacked and PropagationStamp are opaque artifacts
	// produced by the router when preparing a send. Cleared to force
	// regeneration.
	Packed            []byte
	PropagationPacked []byte
	PropagationStamp  []byte

	// DeferPropagationStamp tells the router to compute a fresh
	// proof-of-work stamp lazily before the next send. A stamp computed
	// for a previous relay or attempt is invalid.
	DeferPropagationStamp bool

	Attachments []Attachment
}

func (m *OutboundMessage) String() string {
	if len(m.Hash) > 0 {
		return fmt.Sprintf("<message %s>", m.HashHex())
	}
	return "<message>"
}

// HashHex returns the hex form of the message hash, the key used by all
// tracking maps.
func (m *OutboundMessage) HashHex() string {
	return hex.EncodeToString(m.Hash)
}

// ResetForRetry puts the message back into a state the router accepts for a
// fresh propagated attempt: the attempt counter restarts, every packed
// artifact is cleared so the router regenerates it, and stamp generation is
// deferred so a new proof-of-work stamp is computed for the new relay.
// Attachments and retry bookkeeping are left untouched.
func (m *OutboundMessage) ResetForRetry() {
	m.DeliveryAttempts = 0
	m.Packed = nil
	m.PropagationPacked = nil
	m.PropagationStamp = nil
	m.DeferPropagationStamp = true
	m.DesiredMethod = MethodPropagated
}

// RecordRelay appends a copy of the relay address to the tried list.
func (m *OutboundMessage) RecordRelay(relay []byte) {
	m.TriedRelays = append(m.TriedRelays, append([]byte(nil), relay...))
}

// TriedRelaysHex returns the tried relays as hex strings, the form used on
// the host boundary as an exclusion list.
func (m *OutboundMessage) TriedRelaysHex() []string {
	res := make([]string, len(m.TriedRelays))
	for i, r := range m.TriedRelays {
		res[i] = hex.EncodeToString(r)
	}
	return res
}
