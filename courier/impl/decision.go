package impl

import (
	"github.com/lxmfkit/courier/types"
)

// OnSent implements courier.DeliveryTracking. The router calls it when the
// transport accepts a message, which is not a delivery confirmation: an
// opportunistic message stays tracked until the receipt or the timeout.
func (c *coordinator) OnSent(msg *types.OutboundMessage) {
	if msg == nil {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.classifySentLocked(msg)
}

// OnDelivered implements courier.DeliveryTracking.
func (c *coordinator) OnDelivered(msg *types.OutboundMessage) {
	if msg == nil {
		return
	}

	h := msg.HashHex()

	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.tracked, h)
	delete(c.pending, h)

	// The propagation record stays: a failure signal arriving after the
	// delivery is still spurious, and only the TTL sweep retires records.

	c.log.Debug().Str("message", h).Msg("delivery confirmed")

	c.emit(types.NewStatusEvent(msg.Hash, types.StatusDelivered))
}

// OnFailed implements courier.DeliveryTracking. Synthetic timeouts from the
// watchdog and real router failures both land here.
func (c *coordinator) OnFailed(msg *types.OutboundMessage) {
	if msg == nil {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.tracked, msg.HashHex())
	c.handleFailureLocked(msg)
}

// classifySentLocked is the single place distinguishing "confirmed in
// flight" from "confirmed delivered": a propagated send counts as handed to
// a relay and arms the spurious-failure guard, anything else is a plain
// sent. Caller holds c.mu.
func (c *coordinator) classifySentLocked(msg *types.OutboundMessage) {
	if msg.DesiredMethod == types.MethodPropagated {
		c.recordPropagatedLocked(msg.HashHex())
		c.emit(types.NewStatusEvent(msg.Hash, types.StatusPropagated))
		return
	}

	c.emit(types.NewStatusEvent(msg.Hash, types.StatusSent))
}

// handleFailureLocked runs the retry decision tree for one message. Caller
// holds c.mu; everything, including the resubmit, happens under it so two
// triggers can never race the same message's escalation.
func (c *coordinator) handleFailureLocked(msg *types.OutboundMessage) {
	h := msg.HashHex()

	// 1. Spurious failure: the relay already has this message.
	if c.isSpuriousLocked(h) {
		c.log.Info().Str("message", h).
			Msg("ignoring failure for already propagated message")
		return
	}

	// 2. First escalation: direct delivery gave up, hand the message to
	// the configured relay instead.
	if msg.TryPropagationOnFail && !msg.PropagationRetryAttempted &&
		c.activeRelay != nil {

		msg.PropagationRetryAttempted = true
		msg.TryPropagationOnFail = false
		msg.RecordRelay(c.activeRelay)
		msg.ResetForRetry()

		c.log.Info().Str("message", h).Str("relay", c.activeRelay.Hex()).
			Msg("escalating failed delivery to propagation")

		err := c.conf.Router.Resubmit(msg)
		if err != nil {
			c.log.Error().Err(err).Str("message", h).
				Msg("propagation resubmit failed")
			c.failPermanentlyLocked(msg, types.ReasonResubmitFailed)
			return
		}

		// Some routers accept synchronously. In that case the sent
		// callback never fires, so classify the success here.
		if msg.State == types.StateSent {
			c.classifySentLocked(msg)
		}

		return
	}

	if msg.PropagationRetryAttempted {
		// 3. Retry budget consumed.
		if len(msg.TriedRelays) >= c.conf.MaxRelayRetries {
			c.log.Info().Str("message", h).
				Int("tried", len(msg.TriedRelays)).
				Msg("relay retry budget exhausted")
			c.failPermanentlyLocked(msg, types.ReasonMaxRelayRetriesExceeded)
			return
		}

		// 4. Ask the host for a substitute relay and park the message
		// until the answer arrives.
		if c.conf.RelayRequester == nil {
			c.failPermanentlyLocked(msg, types.ReasonNoRelaysAvailable)
			return
		}

		c.pending[h] = msg

		evt := types.NewStatusEvent(msg.Hash, types.StatusRetryingAlternativeRelay)
		evt.TriedCount = len(msg.TriedRelays)
		c.emit(evt)

		c.log.Info().Str("message", h).Int("tried", len(msg.TriedRelays)).
			Msg("requesting alternative relay")

		c.conf.RelayRequester.RequestAlternativeRelay(h, msg.TriedRelaysHex())
		return
	}

	// 5. Propagation wanted but no relay was ever configured.
	if msg.TryPropagationOnFail {
		c.failPermanentlyLocked(msg, types.ReasonNoRelaysAvailable)
		return
	}

	c.failPermanentlyLocked(msg, "")
}

// failPermanentlyLocked is terminal: the message leaves every tracking map
// and no retry path looks at it again. Caller holds c.mu.
func (c *coordinator) failPermanentlyLocked(msg *types.OutboundMessage, reason string) {
	h := msg.HashHex()

	delete(c.tracked, h)
	delete(c.pending, h)

	msg.State = types.StateFailed

	c.log.Info().Str("message", h).Str("reason", reason).
		Msg("message failed permanently")

	evt := types.NewStatusEvent(msg.Hash, types.StatusFailed)
	evt.Reason = reason
	c.emit(evt)
}
