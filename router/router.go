package router

import (
	"bytes"
	"encoding/hex"

	"github.com/lxmfkit/courier/types"
	"golang.org/x/xerrors"
)

// RelayAddrLength is the length of a relay destination address: a truncated
// identity hash on the mesh.
const RelayAddrLength = 16

// RelayAddr is the canonical binary address of a propagation relay. Values
// crossing the host boundary are normalized with NewRelayAddr or
// RelayAddrFromInts exactly once, at ingress; everything below assumes the
// canonical form.
type RelayAddr []byte

// NewRelayAddr validates a raw byte sequence as a relay address.
func NewRelayAddr(raw []byte) (RelayAddr, error) {
	if len(raw) != RelayAddrLength {
		return nil, xerrors.Errorf("invalid relay address length: %d", len(raw))
	}
	return RelayAddr(append([]byte(nil), raw...)), nil
}

// ParseRelayAddr decodes a hex-encoded relay address.
func ParseRelayAddr(s string) (RelayAddr, error) {
	raw, err := hex.DecodeString(s)
	if err != nil {
		return nil, xerrors.Errorf("failed to decode relay address: %v", err)
	}
	return NewRelayAddr(raw)
}

// RelayAddrFromInts converts a list-like address as produced by foreign
// runtime bridges (an array of byte-sized integers) to the canonical form.
func RelayAddrFromInts(vals []int) (RelayAddr, error) {
	raw := make([]byte, len(vals))
	for i, v := range vals {
		if v < 0 || v > 0xff {
			return nil, xerrors.Errorf("relay address element out of range: %d", v)
		}
		raw[i] = byte(v)
	}
	return NewRelayAddr(raw)
}

// Hex returns the hex form used in exclusion lists and logs.
func (a RelayAddr) Hex() string {
	return hex.EncodeToString(a)
}

// Equal reports whether two addresses are the same relay.
func (a RelayAddr) Equal(other RelayAddr) bool {
	return bytes.Equal(a, other)
}

// Router is the coordinator's outbound boundary to the mesh router. The
// router owns addressing, path discovery, link establishment and signing;
// the coordinator only re-enters messages into its pipeline and points it
// at a propagation relay.
type Router interface {
	// Resubmit re-enters the message into the send pipeline, honoring
	// DesiredMethod. It must not invoke the coordinator's callbacks
	// synchronously: outcomes arrive later, on the router's threads. A
	// router with a synchronous fast path instead flips the message State
	// to StateSent before returning.
	Resubmit(msg *types.OutboundMessage) error

	// SetOutboundPropagationNode points the router at the relay used for
	// propagated sends. A nil address clears it.
	SetOutboundPropagationNode(relay RelayAddr) error
}
