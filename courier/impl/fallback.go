package impl

import (
	"github.com/lxmfkit/courier/router"
	"github.com/lxmfkit/courier/types"
)

// OnAlternativeRelay implements courier.RelayFallback. It is the single
// entry point for the host's answer to a relay-substitution request: a relay
// address retries every parked message through it, nil fails them all.
func (c *coordinator) OnAlternativeRelay(relay router.RelayAddr) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.pending) == 0 {
		c.log.Warn().Msg("relay decision received with no message waiting")
		return
	}

	if relay == nil {
		c.log.Info().Int("pending", len(c.pending)).
			Msg("no alternative relay available, failing pending messages")

		for h, msg := range c.pending {
			delete(c.pending, h)
			c.failPermanentlyLocked(msg, types.ReasonNoRelaysAvailable)
		}

		return
	}

	c.activeRelay = relay

	err := c.conf.Router.SetOutboundPropagationNode(relay)
	if err != nil {
		c.log.Error().Err(err).Str("relay", relay.Hex()).
			Msg("failed to update propagation node")
	}

	c.log.Info().Str("relay", relay.Hex()).Int("pending", len(c.pending)).
		Msg("retrying pending messages through alternative relay")

	for h, msg := range c.pending {
		delete(c.pending, h)

		msg.RecordRelay(relay)
		msg.ResetForRetry()

		err := c.conf.Router.Resubmit(msg)
		if err != nil {
			c.log.Error().Err(err).Str("message", h).
				Msg("relay retry resubmit failed")
			c.failPermanentlyLocked(msg, types.ReasonResubmitFailed)
			continue
		}

		c.emit(types.NewStatusEvent(msg.Hash, types.StatusRetryingPropagated))

		if msg.State == types.StateSent {
			c.classifySentLocked(msg)
		}
	}
}

// SetActiveRelay implements courier.RelayFallback.
func (c *coordinator) SetActiveRelay(relay router.RelayAddr) error {
	c.mu.Lock()
	c.activeRelay = relay
	c.mu.Unlock()

	if relay == nil {
		return nil
	}

	return c.conf.Router.SetOutboundPropagationNode(relay)
}

// ActiveRelay implements courier.RelayFallback.
func (c *coordinator) ActiveRelay() router.RelayAddr {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.activeRelay
}
