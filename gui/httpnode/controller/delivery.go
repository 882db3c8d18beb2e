package controller

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/lxmfkit/courier/courier"
	"github.com/lxmfkit/courier/gui/httpnode/types"
	"github.com/lxmfkit/courier/registry"
	"github.com/rs/zerolog"
)

// NewDelivery returns a new initialized delivery controller.
func NewDelivery(node courier.Courier, status registry.Registry, log *zerolog.Logger) delivery {
	return delivery{
		node:   node,
		status: status,
		log:    log,
	}
}

type delivery struct {
	node   courier.Courier
	status registry.Registry
	log    *zerolog.Logger
}

func (d delivery) StatusHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			d.statusGet(w, r)
		case http.MethodOptions:
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Headers", "*")
			return
		default:
			http.Error(w, "forbidden method", http.StatusMethodNotAllowed)
			return
		}
	}
}

func (d delivery) RelayHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			d.relayGet(w, r)
		case http.MethodPost:
			d.relayPost(w, r)
		case http.MethodOptions:
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Headers", "*")
			return
		default:
			http.Error(w, "forbidden method", http.StatusMethodNotAllowed)
			return
		}
	}
}

func (d delivery) statusGet(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Access-Control-Allow-Origin", "*")

	evts := d.status.GetEvents()

	enc := json.NewEncoder(w)
	enc.SetIndent("", "\t")

	err := enc.Encode(&evts)
	if err != nil {
		http.Error(w, "failed to marshal events", http.StatusInternalServerError)
		return
	}
}

func (d delivery) relayGet(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Access-Control-Allow-Origin", "*")

	res := types.RelayResult{}

	relay := d.node.ActiveRelay()
	if relay != nil {
		res.Relay = relay.Hex()
	}

	err := json.NewEncoder(w).Encode(&res)
	if err != nil {
		http.Error(w, "failed to marshal relay", http.StatusInternalServerError)
		return
	}
}

// types.RelayDecisionArgument:
//
//	{"relay": "00112233445566778899aabbccddeeff"}
//	{"relay": [0, 17, 34, ...]}
//	{"none": true}
func (d delivery) relayPost(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Headers", "*")

	buf, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "failed to read body: "+err.Error(), http.StatusInternalServerError)
		return
	}

	d.log.Info().Msgf("got the following relay decision: %s", buf)

	res := types.RelayDecisionArgument{}
	err = json.Unmarshal(buf, &res)
	if err != nil {
		http.Error(w, "failed to unmarshal relayDecisionArgument: "+err.Error(),
			http.StatusInternalServerError)
		return
	}

	relay, err := res.RelayAddr()
	if err != nil {
		http.Error(w, "invalid relay: "+err.Error(), http.StatusBadRequest)
		return
	}

	d.node.OnAlternativeRelay(relay)
}
