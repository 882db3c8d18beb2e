package controller

import (
	"encoding/json"
	"net/http"

	"github.com/lxmfkit/courier/courier"
	"github.com/lxmfkit/courier/gui/httpnode/types"
	"github.com/lxmfkit/courier/registry"
	"github.com/rs/zerolog"
)

// NewServiceCtrl returns a new initialized service controller.
func NewServiceCtrl(node courier.Courier, status registry.Registry, log *zerolog.Logger) servicectrl {
	return servicectrl{
		node:   node,
		status: status,
		log:    log,
	}
}

type servicectrl struct {
	node   courier.Courier
	status registry.Registry
	log    *zerolog.Logger
}

func (s servicectrl) ServiceStopHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
			s.stopPost(w, r)
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

// stopPost stops the watchdog and answers with the coordinator's final
// state, which is the last chance for the host to read it over this proxy.
func (s servicectrl) stopPost(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Headers", "*")

	err := s.node.Stop()
	if err != nil {
		http.Error(w, "failed to stop: "+err.Error(), http.StatusBadRequest)
		return
	}

	res := types.StopResult{
		Events: len(s.status.GetEvents()),
	}

	relay := s.node.ActiveRelay()
	if relay != nil {
		res.Relay = relay.Hex()
	}

	s.log.Info().Int("events", res.Events).Str("relay", res.Relay).
		Msg("coordinator stopped")

	w.Header().Set("Content-Type", "application/json")

	err = json.NewEncoder(w).Encode(&res)
	if err != nil {
		http.Error(w, "failed to marshal stop result", http.StatusInternalServerError)
		return
	}
}
