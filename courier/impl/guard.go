package impl

import "time"

// recordPropagatedLocked arms the spurious-failure guard for a message the
// relay has confirmed holding. Caller holds c.mu.
func (c *coordinator) recordPropagatedLocked(hash string) {
	c.propagated[hash] = time.Now()
}

// isSpuriousLocked reports whether a failure signal for the given hash
// contradicts an earlier propagation confirmation. Caller holds c.mu.
func (c *coordinator) isSpuriousLocked(hash string) bool {
	_, ok := c.propagated[hash]
	return ok
}

// SweepStale implements courier.DeliveryTracking. It drops propagation
// records older than the tracking TTL so the guard map stays bounded over a
// long-running process. The watchdog calls it on every tick; hosts may also
// call it directly.
func (c *coordinator) SweepStale() {
	cutoff := time.Now().Add(-c.conf.PropagatedTrackingTTL)

	c.mu.Lock()
	defer c.mu.Unlock()

	for hash, recordedAt := range c.propagated {
		if recordedAt.Before(cutoff) {
			delete(c.propagated, hash)
			c.log.Debug().Str("message", hash).
				Msg("propagation record expired")
		}
	}
}
