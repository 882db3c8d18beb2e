package impl

import (
	"os"
	"sync"
	"time"

	"github.com/lxmfkit/courier/courier"
	"github.com/lxmfkit/courier/router"
	"github.com/lxmfkit/courier/types"
	"github.com/rs/zerolog"
)

const (
	defaultOpportunisticTimeout  = time.Second * 30
	defaultCheckInterval         = time.Second * 10
	defaultPropagatedTrackingTTL = time.Hour * 24
	defaultMaxRelayRetries       = 3
)

var (
	// defaultLevel can be changed to set the desired level of the logger
	defaultLevel = zerolog.InfoLevel

	// logout is the logger configuration
	logout = zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: time.RFC3339,
	}
)

func init() {
	if os.Getenv("COURIERLOG") == "warn" {
		defaultLevel = zerolog.WarnLevel
	}

	if os.Getenv("COURIERLOG") == "no" {
		defaultLevel = zerolog.Disabled
	}
}

// NewCourier creates a new coordinator. Zero-valued configuration fields
// select the documented defaults.
func NewCourier(conf courier.Configuration) courier.Courier {
	if conf.OpportunisticTimeout == 0 {
		conf.OpportunisticTimeout = defaultOpportunisticTimeout
	}
	if conf.CheckInterval == 0 {
		conf.CheckInterval = defaultCheckInterval
	}
	if conf.PropagatedTrackingTTL == 0 {
		conf.PropagatedTrackingTTL = defaultPropagatedTrackingTTL
	}
	if conf.MaxRelayRetries == 0 {
		conf.MaxRelayRetries = defaultMaxRelayRetries
	}

	log := zerolog.New(logout).
		Level(defaultLevel).
		With().Timestamp().Logger().
		With().Str("role", "courier").Logger()

	return &coordinator{
		conf:        conf,
		log:         log,
		tracked:     make(map[string]trackingEntry),
		propagated:  make(map[string]time.Time),
		pending:     make(map[string]*types.OutboundMessage),
		activeRelay: conf.ActiveRelay,
	}
}

// trackingEntry records when an opportunistic message was handed to the
// transport.
type trackingEntry struct {
	msg    *types.OutboundMessage
	sentAt time.Time
}

// coordinator owns the four tracking maps. They are never handed out;
// external interaction goes through the documented entry points only.
//
// - implements courier.Courier
type coordinator struct {
	conf courier.Configuration
	log  zerolog.Logger

	// mu serializes every per-message decision. Coarse on purpose:
	// message volume is low and the decision tree is short.
	mu          sync.Mutex
	tracked     map[string]trackingEntry
	propagated  map[string]time.Time
	pending     map[string]*types.OutboundMessage
	activeRelay router.RelayAddr

	loopMu  sync.Mutex
	running bool
	stop    chan struct{}
	wg      sync.WaitGroup
}

// Start implements courier.Service.
func (c *coordinator) Start() error {
	c.startWatchdog()
	return nil
}

// Stop implements courier.Service.
func (c *coordinator) Stop() error {
	c.loopMu.Lock()
	defer c.loopMu.Unlock()

	if !c.running {
		return nil
	}

	close(c.stop)
	c.wg.Wait()
	c.running = false

	c.log.Info().Msg("watchdog stopped")

	return nil
}

// startWatchdog starts the background loop if it is not already alive.
// Called from Start and lazily from Track; always idempotent.
func (c *coordinator) startWatchdog() {
	c.loopMu.Lock()
	defer c.loopMu.Unlock()

	if c.running {
		return
	}

	c.running = true
	c.stop = make(chan struct{})
	c.wg.Add(1)

	go c.watchLoop(c.stop)

	c.log.Info().
		Dur("checkInterval", c.conf.CheckInterval).
		Dur("timeout", c.conf.OpportunisticTimeout).
		Msg("watchdog started")
}

// watchLoop wakes every CheckInterval to scan for stuck opportunistic
// messages and to sweep stale propagated records. It holds nothing between
// ticks and exits as soon as the stop channel closes, so it never keeps the
// process alive.
func (c *coordinator) watchLoop(stop <-chan struct{}) {
	defer c.wg.Done()

	ticker := time.NewTicker(c.conf.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			c.checkTimeouts()
			c.SweepStale()
		}
	}
}

// emit pushes a status event to the host observer. Observer problems are
// logged and go no further.
func (c *coordinator) emit(evt types.StatusEvent) {
	if c.conf.Status == nil {
		return
	}

	err := c.conf.Status.Notify(evt)
	if err != nil {
		c.log.Warn().Err(err).Str("status", string(evt.Status)).
			Str("message", evt.MessageHash).Msg("status observer failed")
	}
}
