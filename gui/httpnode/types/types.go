package types

import (
	"encoding/json"

	"github.com/lxmfkit/courier/router"
	"golang.org/x/xerrors"
)

// RelayDecisionArgument is the json type to call delivery.OnAlternativeRelay().
// The relay can be a hex string or an array of byte-sized integers, which is
// what list-like foreign runtime bridges produce:
//
//	{"relay": "00112233445566778899aabbccddeeff"}
//	{"relay": [0, 17, 34, ...]}
//	{"none": true}
type RelayDecisionArgument struct {
	Relay json.RawMessage `json:"relay,omitempty"`
	None  bool            `json:"none,omitempty"`
}

// RelayAddr normalizes the relay field to the canonical binary form. Returns
// nil with no error when the argument is an explicit "none".
func (a RelayDecisionArgument) RelayAddr() (router.RelayAddr, error) {
	if a.None {
		return nil, nil
	}

	if len(a.Relay) == 0 {
		return nil, xerrors.New("neither relay nor none given")
	}

	var hexStr string

	err := json.Unmarshal(a.Relay, &hexStr)
	if err == nil {
		return router.ParseRelayAddr(hexStr)
	}

	var ints []int

	err = json.Unmarshal(a.Relay, &ints)
	if err == nil {
		return router.RelayAddrFromInts(ints)
	}

	return nil, xerrors.Errorf("unsupported relay form: %s", a.Relay)
}

// RelayResult is the json type returned when reading the active relay.
type RelayResult struct {
	Relay string `json:"relay"`
}

// StopResult is the json type returned when stopping the coordinator: the
// tally of status events emitted over its lifetime and the relay that was
// active at shutdown.
type StopResult struct {
	Events int    `json:"events"`
	Relay  string `json:"relay,omitempty"`
}
