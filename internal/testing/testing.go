// Package testing provides shared fixtures for the coordinator tests: a
// message builder, a recording relay requester and a small async-call
// checker.
package testing

import (
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/lxmfkit/courier/courier"
	"github.com/lxmfkit/courier/registry"
	"github.com/lxmfkit/courier/registry/standard"
	"github.com/lxmfkit/courier/router"
	"github.com/lxmfkit/courier/types"
	"github.com/stretchr/testify/require"
)

// NewOutbound returns a new outbound message with a random hash. By default
// the message is opportunistic and in the outbound state.
func NewOutbound(t require.TestingT, opts ...MsgOption) *types.OutboundMessage {
	hash := make([]byte, 16)

	_, err := rand.Read(hash)
	require.NoError(t, err)

	msg := &types.OutboundMessage{
		Hash:          hash,
		DesiredMethod: types.MethodOpportunistic,
		State:         types.StateOutbound,
		Packed:        []byte{0x01, 0x02},
	}

	for _, opt := range opts {
		opt(msg)
	}

	return msg
}

// MsgOption tweaks a message built by NewOutbound.
type MsgOption func(*types.OutboundMessage)

// WithMethod sets the desired delivery method.
func WithMethod(m types.DeliveryMethod) MsgOption {
	return func(msg *types.OutboundMessage) {
		msg.DesiredMethod = m
	}
}

// WithTryPropagation marks the message for propagation escalation on
// failure.
func WithTryPropagation() MsgOption {
	return func(msg *types.OutboundMessage) {
		msg.TryPropagationOnFail = true
	}
}

// WithPropagationAttempted marks the message as having already been handed
// to the relays listed.
func WithPropagationAttempted(relays ...router.RelayAddr) MsgOption {
	return func(msg *types.OutboundMessage) {
		msg.PropagationRetryAttempted = true
		msg.DesiredMethod = types.MethodPropagated
		for _, r := range relays {
			msg.RecordRelay(r)
		}
	}
}

// NewRelayAddr returns a relay address filled with the given byte.
func NewRelayAddr(t require.TestingT, fill byte) router.RelayAddr {
	raw := make([]byte, router.RelayAddrLength)
	for i := range raw {
		raw[i] = fill
	}

	addr, err := router.NewRelayAddr(raw)
	require.NoError(t, err)

	return addr
}

// NewTestCourier returns a coordinator wired to the given router with a
// fresh registry, the test defaults, and any overrides applied.
func NewTestCourier(t require.TestingT, f courier.Factory, rt router.Router,
	opts ...Option) TestCourier {

	template := newConfigTemplate()
	for _, opt := range opts {
		opt(&template)
	}

	config := courier.Configuration{}

	config.Router = rt
	config.Status = template.status
	config.RelayRequester = template.relayRequester
	config.OpportunisticTimeout = template.opportunisticTimeout
	config.CheckInterval = template.checkInterval
	config.PropagatedTrackingTTL = template.propagatedTrackingTTL
	config.MaxRelayRetries = template.maxRelayRetries
	config.ActiveRelay = template.activeRelay

	node := f(config)

	if template.autoStart {
		err := node.Start()
		require.NoError(t, err)
	}

	return TestCourier{
		Courier: node,
		config:  config,
		t:       t,
	}
}

type configTemplate struct {
	autoStart             bool
	status                registry.Registry
	relayRequester        courier.RelayRequester
	opportunisticTimeout  time.Duration
	checkInterval         time.Duration
	propagatedTrackingTTL time.Duration
	maxRelayRetries       int
	activeRelay           router.RelayAddr
}

func newConfigTemplate() configTemplate {
	return configTemplate{
		autoStart: true,
		status:    standard.NewRegistry(),

		// Short intervals so the tests don't wait for production
		// timings.
		opportunisticTimeout:  time.Millisecond * 200,
		checkInterval:         time.Millisecond * 50,
		propagatedTrackingTTL: time.Hour * 24,
		maxRelayRetries:       3,
	}
}

// Option tweaks the coordinator configuration built by NewTestCourier.
type Option func(*configTemplate)

// WithAutostart controls the autostart of the coordinator.
func WithAutostart(autostart bool) Option {
	return func(ct *configTemplate) {
		ct.autoStart = autostart
	}
}

// WithStatusRegistry sets a specific status registry.
func WithStatusRegistry(r registry.Registry) Option {
	return func(ct *configTemplate) {
		ct.status = r
	}
}

// WithRelayRequester sets the host-side relay requester.
func WithRelayRequester(r courier.RelayRequester) Option {
	return func(ct *configTemplate) {
		ct.relayRequester = r
	}
}

// WithOpportunisticTimeout sets the opportunistic delivery timeout.
func WithOpportunisticTimeout(d time.Duration) Option {
	return func(ct *configTemplate) {
		ct.opportunisticTimeout = d
	}
}

// WithCheckInterval sets the watchdog wake interval.
func WithCheckInterval(d time.Duration) Option {
	return func(ct *configTemplate) {
		ct.checkInterval = d
	}
}

// WithPropagatedTrackingTTL sets the lifetime of propagation records.
func WithPropagatedTrackingTTL(d time.Duration) Option {
	return func(ct *configTemplate) {
		ct.propagatedTrackingTTL = d
	}
}

// WithMaxRelayRetries sets the relay retry budget.
func WithMaxRelayRetries(n int) Option {
	return func(ct *configTemplate) {
		ct.maxRelayRetries = n
	}
}

// WithActiveRelay sets the initial propagation relay.
func WithActiveRelay(relay router.RelayAddr) Option {
	return func(ct *configTemplate) {
		ct.activeRelay = relay
	}
}

// TestCourier defines a test coordinator. It overrides courier.Courier with
// additional functions for testing.
type TestCourier struct {
	courier.Courier
	config courier.Configuration
	t      require.TestingT
}

// GetRegistry returns the coordinator's status registry.
func (c TestCourier) GetRegistry() registry.Registry {
	return c.config.Status
}

// GetEvents returns the status events recorded so far.
func (c TestCourier) GetEvents() []types.StatusEvent {
	return c.config.Status.GetEvents()
}

// StopAll stops the coordinator.
func (c TestCourier) StopAll() {
	err := c.Courier.Stop()
	require.NoError(c.t, err)
}

// RelayRequest records one call to RequestAlternativeRelay.
type RelayRequest struct {
	MessageHash   string
	ExcludeRelays []string
}

// NewRelayRequester returns a new recording relay requester.
func NewRelayRequester() *RelayRequester {
	return &RelayRequester{}
}

// RelayRequester records relay-substitution requests instead of forwarding
// them to a host environment.
//
// - implements courier.RelayRequester
type RelayRequester struct {
	sync.Mutex
	requests []RelayRequest
}

// RequestAlternativeRelay implements courier.RelayRequester.
func (r *RelayRequester) RequestAlternativeRelay(messageHash string, excludeRelays []string) {
	r.Lock()
	defer r.Unlock()

	r.requests = append(r.requests, RelayRequest{
		MessageHash:   messageHash,
		ExcludeRelays: excludeRelays,
	})
}

// GetRequests returns a copy of the recorded requests.
func (r *RelayRequester) GetRequests() []RelayRequest {
	r.Lock()
	defer r.Unlock()

	res := make([]RelayRequest, len(r.requests))
	copy(res, r.requests)

	return res
}

// Status allows to check if something has been called or not.
type Status struct {
	called chan struct{}
}

// NewStatus return a new initialized Status.
func NewStatus() Status {
	return Status{
		called: make(chan struct{}),
	}
}

// Call notifies that the status has been called.
func (s Status) Call() {
	select {
	case <-s.called:
	default:
		close(s.called)
	}
}

// CheckCalled checks if the status has been called.
func (s Status) CheckCalled(t *testing.T) {
	select {
	case <-s.called:
	default:
		t.Error("has not been called")
	}
}

// CheckNotCalled checks if the status has not been called.
func (s Status) CheckNotCalled(t *testing.T) {
	select {
	case <-s.called:
		t.Error("has been called")
	default:
	}
}
