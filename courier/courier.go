// Package courier defines the delivery-lifecycle coordinator that sits on
// top of a store-and-forward mesh messaging router. The router performs
// identity-addressed delivery and reports outcomes through callbacks; the
// coordinator does everything the router does not: it detects messages stuck
// in an unconfirmed state, escalates them through progressively more
// reliable delivery paths, retries through alternative relays, suppresses
// delivery-confirmation noise for messages already known to have succeeded,
// and bounds the memory growth of all this bookkeeping.
package courier

import (
	"time"

	"github.com/lxmfkit/courier/registry"
	"github.com/lxmfkit/courier/router"
)

// Courier defines the interface of the coordinator. It embeds all the
// interfaces that have to be implemented.
type Courier interface {
	Service
	DeliveryTracking
	RelayFallback
}

// Factory is the type of function we are using to create new instances of
// coordinators.
type Factory func(Configuration) Courier

// RelayRequester is the host-environment side of relay substitution. When a
// relay attempt fails and the retry budget is not exhausted, the coordinator
// asks the host for a replacement, excluding the relays already tried.
//
// The request is asynchronous: the implementation must not call
// RelayFallback.OnAlternativeRelay before returning. The answer arrives
// later, on whatever thread suits the host.
type RelayRequester interface {
	RequestAlternativeRelay(messageHash string, excludeRelays []string)
}

// Configuration is the struct that will contain the configuration argument
// when creating a coordinator.
type Configuration struct {
	Router router.Router

	// Status receives a structured event for every delivery transition.
	Status registry.Registry

	// RelayRequester supplies alternative relays. May be nil, in which
	// case relay substitution is impossible and exhausted messages fail
	// permanently right away.
	RelayRequester RelayRequester

	// OpportunisticTimeout is how long an opportunistic message may sit
	// without a delivery or failure callback before the watchdog declares
	// it stuck and synthesizes a failure.
	// Default: 30s
	OpportunisticTimeout time.Duration

	// CheckInterval is the period of the watchdog loop that scans for
	// stuck messages and sweeps stale propagated records.
	// Default: 10s
	CheckInterval time.Duration

	// PropagatedTrackingTTL is how long a confirmed relay hand-off keeps
	// suppressing spurious failure callbacks for its message.
	// Default: 24h
	PropagatedTrackingTTL time.Duration

	// MaxRelayRetries is the number of distinct relays a message may try
	// before it fails permanently.
	// Default: 3
	MaxRelayRetries int

	// ActiveRelay is the initially configured outbound propagation relay.
	// May be nil; it can be replaced later through relay substitution.
	ActiveRelay router.RelayAddr
}
