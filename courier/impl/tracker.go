package impl

import (
	"time"

	"github.com/lxmfkit/courier/types"
)

// Track implements courier.DeliveryTracking. Only opportunistic messages are
// recorded; anything else is ignored so callers can feed their whole outbound
// stream through.
func (c *coordinator) Track(msg *types.OutboundMessage) {
	if msg == nil || msg.DesiredMethod != types.MethodOpportunistic {
		return
	}

	c.startWatchdog()

	h := msg.HashHex()

	c.mu.Lock()
	defer c.mu.Unlock()

	// A message waiting for an alternative relay that gets resubmitted
	// opportunistically starts a fresh life; it cannot sit in both maps.
	delete(c.pending, h)

	c.tracked[h] = trackingEntry{
		msg:    msg,
		sentAt: time.Now(),
	}

	c.log.Debug().Str("message", h).Msg("tracking opportunistic delivery")
}

// checkTimeouts scans tracked messages and runs the failure path for every
// one older than the opportunistic timeout. Expired entries are removed
// before their failure is handled, matching what happens when the transport
// reports the failure itself.
func (c *coordinator) checkTimeouts() {
	now := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	var expired []*types.OutboundMessage

	for h, entry := range c.tracked {
		if now.Sub(entry.sentAt) < c.conf.OpportunisticTimeout {
			continue
		}

		delete(c.tracked, h)
		expired = append(expired, entry.msg)
	}

	for _, msg := range expired {
		c.log.Info().Str("message", msg.HashHex()).
			Msg("opportunistic delivery timed out")

		msg.State = types.StateFailed
		c.handleFailureLocked(msg)
	}
}
