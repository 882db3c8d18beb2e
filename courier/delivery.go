package courier

import (
	"github.com/lxmfkit/courier/router"
	"github.com/lxmfkit/courier/types"
)

// DeliveryTracking defines the router-facing entry points of the
// coordinator. The router invokes the On* callbacks on arbitrary threads at
// arbitrary times, including for messages already removed from all tracking;
// every entry point tolerates that as an idempotent no-op and never lets an
// error escape back into the router.
type DeliveryTracking interface {
	// Track records an opportunistic message so the watchdog can declare
	// it stuck if no callback arrives within OpportunisticTimeout.
	Track(msg *types.OutboundMessage)

	// OnSent is invoked when the router confirms the message was handed
	// to the transport. A propagated message is classified "propagated"
	// and remembered so later spurious failures are discarded; anything
	// else is classified "sent".
	OnSent(msg *types.OutboundMessage)

	// OnDelivered is invoked when the recipient acknowledged the message.
	OnDelivered(msg *types.OutboundMessage)

	// OnFailed is invoked when the router gives up on a delivery attempt.
	// The watchdog feeds synthetic timeouts through this same decision
	// tree.
	OnFailed(msg *types.OutboundMessage)

	// SweepStale drops propagated records older than
	// PropagatedTrackingTTL. The watchdog calls it on every tick; it is
	// exported so hosts without a running watchdog can bound memory
	// themselves.
	SweepStale()
}

// RelayFallback defines the host-facing entry points for relay
// substitution.
type RelayFallback interface {
	// OnAlternativeRelay supplies the host's answer to a
	// RequestAlternativeRelay call. A non-nil relay becomes the active
	// propagation node and every parked message is retried through it; a
	// nil relay means none is available and every parked message fails
	// permanently.
	OnAlternativeRelay(relay router.RelayAddr)

	// SetActiveRelay replaces the active propagation node and pushes it
	// to the router. A nil relay clears it.
	SetActiveRelay(relay router.RelayAddr) error

	// ActiveRelay returns the currently active propagation node, or nil.
	ActiveRelay() router.RelayAddr
}
