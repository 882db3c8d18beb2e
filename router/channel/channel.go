package channel

import (
	"sync"

	"github.com/lxmfkit/courier/router"
	"github.com/lxmfkit/courier/types"
	"golang.org/x/xerrors"
)

// NewRouter returns a channel-based in-memory router. It records every
// resubmitted message and makes it available on a channel, which is
// convenient for tests and for the demo CLI.
func NewRouter() *Router {
	return &Router{
		resubmits: make(chan *types.OutboundMessage, 100),
	}
}

// Router is a scriptable in-memory router.
//
// - implements router.Router
type Router struct {
	sync.RWMutex

	outs      outbounds
	resubmits chan *types.OutboundMessage
	relay     router.RelayAddr

	syncSent bool
	failNext bool
}

// Resubmit implements router.Router.
func (r *Router) Resubmit(msg *types.OutboundMessage) error {
	r.RLock()
	failNext := r.failNext
	syncSent := r.syncSent
	r.RUnlock()

	if failNext {
		return xerrors.Errorf("router rejected %s", msg)
	}

	if syncSent {
		// mimic a router with a synchronous fast path
		msg.State = types.StateSent
	} else {
		msg.State = types.StateOutbound
	}

	r.outs.add(msg)

	select {
	case r.resubmits <- msg:
	default:
	}

	return nil
}

// SetOutboundPropagationNode implements router.Router.
func (r *Router) SetOutboundPropagationNode(relay router.RelayAddr) error {
	r.Lock()
	defer r.Unlock()

	r.relay = relay

	return nil
}

// Relay returns the currently configured propagation relay.
func (r *Router) Relay() router.RelayAddr {
	r.RLock()
	defer r.RUnlock()

	return r.relay
}

// GetOuts returns all the messages resubmitted so far.
func (r *Router) GetOuts() []*types.OutboundMessage {
	return r.outs.get()
}

// Resubmits returns the channel on which resubmitted messages appear.
func (r *Router) Resubmits() <-chan *types.OutboundMessage {
	return r.resubmits
}

// WithSyncSent makes the router flip resubmitted messages to StateSent
// before returning, like a router whose send pipeline completes inline.
func (r *Router) WithSyncSent(v bool) {
	r.Lock()
	defer r.Unlock()

	r.syncSent = v
}

// WithFailNext makes Resubmit return an error.
func (r *Router) WithFailNext(v bool) {
	r.Lock()
	defer r.Unlock()

	r.failNext = v
}

type outbounds struct {
	sync.Mutex
	msgs []*types.OutboundMessage
}

func (o *outbounds) add(msg *types.OutboundMessage) {
	o.Lock()
	defer o.Unlock()

	o.msgs = append(o.msgs, msg)
}

func (o *outbounds) get() []*types.OutboundMessage {
	o.Lock()
	defer o.Unlock()

	return append([]*types.OutboundMessage{}, o.msgs...)
}
