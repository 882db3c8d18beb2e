package unit

import (
	"testing"
	"time"

	"github.com/lxmfkit/courier/courier"
	"github.com/lxmfkit/courier/courier/impl"
	z "github.com/lxmfkit/courier/internal/testing"
	"github.com/lxmfkit/courier/router/channel"
	"github.com/lxmfkit/courier/types"
	"github.com/stretchr/testify/require"
)

var courierFac courier.Factory = impl.NewCourier

// eventsWith filters recorded events by status.
func eventsWith(evts []types.StatusEvent, s types.Status) []types.StatusEvent {
	res := make([]types.StatusEvent, 0)
	for _, evt := range evts {
		if evt.Status == s {
			res = append(res, evt)
		}
	}
	return res
}

// waitResubmit waits for the router to receive a resubmitted message.
func waitResubmit(t *testing.T, rt *channel.Router) *types.OutboundMessage {
	select {
	case msg := <-rt.Resubmits():
		return msg
	case <-time.After(time.Second * 2):
		t.Fatal("no message resubmitted in time")
		return nil
	}
}

// 1-1
//
// Starting and stopping should work any number of times, in any order.
func Test_Courier_Start_Stop(t *testing.T) {
	rt := channel.NewRouter()
	node := z.NewTestCourier(t, courierFac, rt, z.WithAutostart(false))

	// > stopping a coordinator that never started should not raise an error

	err := node.Stop()
	require.NoError(t, err)

	err = node.Start()
	require.NoError(t, err)

	// > a second start should be a no-op

	err = node.Start()
	require.NoError(t, err)

	err = node.Stop()
	require.NoError(t, err)

	// > stopping twice should not raise an error

	err = node.Stop()
	require.NoError(t, err)
}

// 1-2
//
// An opportunistic message that gets no confirmation before the timeout
// fails permanently when no escalation path is configured.
func Test_Courier_Timeout_PlainFailure(t *testing.T) {
	rt := channel.NewRouter()
	node := z.NewTestCourier(t, courierFac, rt,
		z.WithOpportunisticTimeout(time.Millisecond*100),
		z.WithCheckInterval(time.Millisecond*20))
	defer node.StopAll()

	msg := z.NewOutbound(t)
	node.Track(msg)

	time.Sleep(time.Millisecond * 400)

	failed := eventsWith(node.GetEvents(), types.StatusFailed)
	require.Len(t, failed, 1)
	require.Equal(t, msg.HashHex(), failed[0].MessageHash)
	require.Empty(t, failed[0].Reason)

	// > the message must not be evaluated twice

	time.Sleep(time.Millisecond * 200)
	require.Len(t, eventsWith(node.GetEvents(), types.StatusFailed), 1)
}

// 1-3
//
// Tracking starts the watchdog lazily: the timeout fires even when the host
// never called Start.
func Test_Courier_Track_LazyStart(t *testing.T) {
	rt := channel.NewRouter()
	node := z.NewTestCourier(t, courierFac, rt,
		z.WithAutostart(false),
		z.WithOpportunisticTimeout(time.Millisecond*100),
		z.WithCheckInterval(time.Millisecond*20))
	defer node.StopAll()

	node.Track(z.NewOutbound(t))

	time.Sleep(time.Millisecond * 400)

	require.Len(t, eventsWith(node.GetEvents(), types.StatusFailed), 1)
}

// 1-4
//
// A delivery confirmation before the timeout removes the message: the
// watchdog finds nothing to expire.
func Test_Courier_Delivered_Before_Timeout(t *testing.T) {
	rt := channel.NewRouter()
	node := z.NewTestCourier(t, courierFac, rt,
		z.WithOpportunisticTimeout(time.Millisecond*100),
		z.WithCheckInterval(time.Millisecond*20))
	defer node.StopAll()

	msg := z.NewOutbound(t)
	node.Track(msg)
	node.OnDelivered(msg)

	time.Sleep(time.Millisecond * 400)

	evts := node.GetEvents()
	require.Len(t, evts, 1)
	require.Equal(t, types.StatusDelivered, evts[0].Status)
	require.Equal(t, msg.HashHex(), evts[0].MessageHash)
}

// 1-5
//
// A send confirmation classifies by desired method: propagated hand-offs are
// "propagated", everything else is "sent".
func Test_Courier_Sent_Classification(t *testing.T) {
	rt := channel.NewRouter()
	node := z.NewTestCourier(t, courierFac, rt, z.WithAutostart(false))

	opportunistic := z.NewOutbound(t)
	node.OnSent(opportunistic)

	propagated := z.NewOutbound(t, z.WithMethod(types.MethodPropagated))
	node.OnSent(propagated)

	evts := node.GetEvents()
	require.Len(t, evts, 2)
	require.Equal(t, types.StatusSent, evts[0].Status)
	require.Equal(t, opportunistic.HashHex(), evts[0].MessageHash)
	require.Equal(t, types.StatusPropagated, evts[1].Status)
	require.Equal(t, propagated.HashHex(), evts[1].MessageHash)
}

// 2-1
//
// First failure of a message that asked for propagation-on-fail escalates:
// the message is rewritten for a propagated attempt and resubmitted.
func Test_Courier_Escalation(t *testing.T) {
	relay := z.NewRelayAddr(t, 0xAA)

	rt := channel.NewRouter()
	node := z.NewTestCourier(t, courierFac, rt,
		z.WithAutostart(false),
		z.WithActiveRelay(relay))

	msg := z.NewOutbound(t, z.WithTryPropagation())
	msg.PropagationStamp = []byte{0x09}
	node.OnFailed(msg)

	outs := rt.GetOuts()
	require.Len(t, outs, 1)
	require.Same(t, msg, outs[0])

	require.Equal(t, types.MethodPropagated, msg.DesiredMethod)
	require.True(t, msg.PropagationRetryAttempted)
	require.False(t, msg.TryPropagationOnFail)
	require.Zero(t, msg.DeliveryAttempts)
	require.Nil(t, msg.Packed)
	require.Nil(t, msg.PropagationPacked)
	require.Nil(t, msg.PropagationStamp)
	require.True(t, msg.DeferPropagationStamp)
	require.Len(t, msg.TriedRelays, 1)
	require.Equal(t, []byte(relay), msg.TriedRelays[0])

	// > plain escalation emits nothing until the router confirms the send

	require.Empty(t, node.GetEvents())

	node.OnSent(msg)

	evts := node.GetEvents()
	require.Len(t, evts, 1)
	require.Equal(t, types.StatusPropagated, evts[0].Status)
}

// 2-2
//
// A router that accepts the resubmit synchronously produces the propagated
// confirmation inline, without a separate sent callback.
func Test_Courier_Escalation_Sync_FastPath(t *testing.T) {
	rt := channel.NewRouter()
	rt.WithSyncSent(true)

	node := z.NewTestCourier(t, courierFac, rt,
		z.WithAutostart(false),
		z.WithActiveRelay(z.NewRelayAddr(t, 0xAA)))

	msg := z.NewOutbound(t, z.WithTryPropagation())
	node.OnFailed(msg)

	evts := node.GetEvents()
	require.Len(t, evts, 1)
	require.Equal(t, types.StatusPropagated, evts[0].Status)
}

// 2-3
//
// A resubmit error during escalation is terminal.
func Test_Courier_Escalation_Resubmit_Error(t *testing.T) {
	rt := channel.NewRouter()
	rt.WithFailNext(true)

	node := z.NewTestCourier(t, courierFac, rt,
		z.WithAutostart(false),
		z.WithActiveRelay(z.NewRelayAddr(t, 0xAA)))

	msg := z.NewOutbound(t, z.WithTryPropagation())
	node.OnFailed(msg)

	evts := node.GetEvents()
	require.Len(t, evts, 1)
	require.Equal(t, types.StatusFailed, evts[0].Status)
	require.Equal(t, types.ReasonResubmitFailed, evts[0].Reason)
	require.Equal(t, types.StateFailed, msg.State)
}

// 2-4
//
// Propagation-on-fail without any configured relay is terminal.
func Test_Courier_Escalation_No_Relay(t *testing.T) {
	rt := channel.NewRouter()
	node := z.NewTestCourier(t, courierFac, rt, z.WithAutostart(false))

	msg := z.NewOutbound(t, z.WithTryPropagation())
	node.OnFailed(msg)

	require.Empty(t, rt.GetOuts())

	evts := node.GetEvents()
	require.Len(t, evts, 1)
	require.Equal(t, types.StatusFailed, evts[0].Status)
	require.Equal(t, types.ReasonNoRelaysAvailable, evts[0].Reason)
}

// 3-1
//
// A failure on a message already escalated under the retry budget parks it
// and asks the host for a substitute relay, excluding the tried ones.
func Test_Courier_Relay_Substitution_Request(t *testing.T) {
	relayA := z.NewRelayAddr(t, 0xAA)

	requester := z.NewRelayRequester()

	rt := channel.NewRouter()
	node := z.NewTestCourier(t, courierFac, rt,
		z.WithAutostart(false),
		z.WithActiveRelay(relayA),
		z.WithRelayRequester(requester))

	msg := z.NewOutbound(t, z.WithPropagationAttempted(relayA))
	node.OnFailed(msg)

	evts := node.GetEvents()
	require.Len(t, evts, 1)
	require.Equal(t, types.StatusRetryingAlternativeRelay, evts[0].Status)
	require.Equal(t, 1, evts[0].TriedCount)

	reqs := requester.GetRequests()
	require.Len(t, reqs, 1)
	require.Equal(t, msg.HashHex(), reqs[0].MessageHash)
	require.Equal(t, []string{relayA.Hex()}, reqs[0].ExcludeRelays)
}

// 3-2
//
// Without a host-side requester there is nobody to ask: terminal.
func Test_Courier_Relay_Substitution_No_Requester(t *testing.T) {
	relayA := z.NewRelayAddr(t, 0xAA)

	rt := channel.NewRouter()
	node := z.NewTestCourier(t, courierFac, rt,
		z.WithAutostart(false),
		z.WithActiveRelay(relayA))

	msg := z.NewOutbound(t, z.WithPropagationAttempted(relayA))
	node.OnFailed(msg)

	evts := node.GetEvents()
	require.Len(t, evts, 1)
	require.Equal(t, types.StatusFailed, evts[0].Status)
	require.Equal(t, types.ReasonNoRelaysAvailable, evts[0].Reason)
}

// 3-3
//
// Once the tried list reaches the budget, no further relay is requested.
func Test_Courier_Relay_Retries_Exhausted(t *testing.T) {
	relayA := z.NewRelayAddr(t, 0xAA)
	relayB := z.NewRelayAddr(t, 0xBB)
	relayC := z.NewRelayAddr(t, 0xCC)

	requester := z.NewRelayRequester()

	rt := channel.NewRouter()
	node := z.NewTestCourier(t, courierFac, rt,
		z.WithAutostart(false),
		z.WithActiveRelay(relayC),
		z.WithRelayRequester(requester))

	msg := z.NewOutbound(t, z.WithPropagationAttempted(relayA, relayB, relayC))
	node.OnFailed(msg)

	require.Empty(t, requester.GetRequests())

	evts := node.GetEvents()
	require.Len(t, evts, 1)
	require.Equal(t, types.StatusFailed, evts[0].Status)
	require.Equal(t, types.ReasonMaxRelayRetriesExceeded, evts[0].Reason)
}

// 3-4
//
// A relay answer retries every parked message through the new relay.
func Test_Courier_Alternative_Relay_Retry(t *testing.T) {
	relayA := z.NewRelayAddr(t, 0xAA)
	relayB := z.NewRelayAddr(t, 0xBB)

	requester := z.NewRelayRequester()

	rt := channel.NewRouter()
	node := z.NewTestCourier(t, courierFac, rt,
		z.WithAutostart(false),
		z.WithActiveRelay(relayA),
		z.WithRelayRequester(requester))

	msg := z.NewOutbound(t, z.WithPropagationAttempted(relayA))
	node.OnFailed(msg)
	require.Len(t, requester.GetRequests(), 1)

	node.OnAlternativeRelay(relayB)

	// > the new relay becomes the active one and reaches the router

	require.Equal(t, relayB, node.ActiveRelay())
	require.Equal(t, relayB, rt.Relay())

	// > the message went out again, rewritten for the new relay

	outs := rt.GetOuts()
	require.Len(t, outs, 1)
	require.Same(t, msg, outs[0])
	require.Len(t, msg.TriedRelays, 2)
	require.Equal(t, []byte(relayB), msg.TriedRelays[1])
	require.Zero(t, msg.DeliveryAttempts)
	require.True(t, msg.DeferPropagationStamp)

	retrying := eventsWith(node.GetEvents(), types.StatusRetryingPropagated)
	require.Len(t, retrying, 1)
	require.Equal(t, msg.HashHex(), retrying[0].MessageHash)
}

// 3-5
//
// A "none available" answer fails every parked message.
func Test_Courier_Alternative_Relay_None(t *testing.T) {
	relayA := z.NewRelayAddr(t, 0xAA)

	requester := z.NewRelayRequester()

	rt := channel.NewRouter()
	node := z.NewTestCourier(t, courierFac, rt,
		z.WithAutostart(false),
		z.WithActiveRelay(relayA),
		z.WithRelayRequester(requester))

	msg1 := z.NewOutbound(t, z.WithPropagationAttempted(relayA))
	msg2 := z.NewOutbound(t, z.WithPropagationAttempted(relayA))
	node.OnFailed(msg1)
	node.OnFailed(msg2)

	node.OnAlternativeRelay(nil)

	require.Empty(t, rt.GetOuts())

	failed := eventsWith(node.GetEvents(), types.StatusFailed)
	require.Len(t, failed, 2)
	for _, evt := range failed {
		require.Equal(t, types.ReasonNoRelaysAvailable, evt.Reason)
	}

	// > a second answer finds an empty queue and does nothing

	node.OnAlternativeRelay(nil)
	require.Len(t, eventsWith(node.GetEvents(), types.StatusFailed), 2)
}

// 3-6
//
// A relay answer with nothing parked must not touch the active relay.
func Test_Courier_Alternative_Relay_Empty_Queue(t *testing.T) {
	relayA := z.NewRelayAddr(t, 0xAA)
	relayB := z.NewRelayAddr(t, 0xBB)

	rt := channel.NewRouter()
	node := z.NewTestCourier(t, courierFac, rt,
		z.WithAutostart(false),
		z.WithActiveRelay(relayA))

	node.OnAlternativeRelay(relayB)

	require.Equal(t, relayA, node.ActiveRelay())
	require.Nil(t, rt.Relay())
	require.Empty(t, node.GetEvents())
	require.Empty(t, rt.GetOuts())
}

// 4-1
//
// A failure signal for a message the relay already confirmed holding is
// spurious: discarded, nothing emitted.
func Test_Courier_Spurious_Failure_Suppressed(t *testing.T) {
	relayA := z.NewRelayAddr(t, 0xAA)

	requester := z.NewRelayRequester()

	rt := channel.NewRouter()
	node := z.NewTestCourier(t, courierFac, rt,
		z.WithAutostart(false),
		z.WithActiveRelay(relayA),
		z.WithRelayRequester(requester))

	msg := z.NewOutbound(t, z.WithPropagationAttempted(relayA))
	node.OnSent(msg)

	require.Len(t, node.GetEvents(), 1)

	// > the late failure must neither emit nor request a relay

	node.OnFailed(msg)

	require.Len(t, node.GetEvents(), 1)
	require.Empty(t, requester.GetRequests())
}

// 4-2
//
// The guard forgets a propagation record after the tracking TTL; failures
// arriving later run the normal decision tree again.
func Test_Courier_Guard_Sweep_Stale(t *testing.T) {
	relayA := z.NewRelayAddr(t, 0xAA)

	requester := z.NewRelayRequester()

	rt := channel.NewRouter()
	node := z.NewTestCourier(t, courierFac, rt,
		z.WithAutostart(false),
		z.WithActiveRelay(relayA),
		z.WithRelayRequester(requester),
		z.WithPropagatedTrackingTTL(time.Millisecond*50))

	msg := z.NewOutbound(t, z.WithPropagationAttempted(relayA))
	node.OnSent(msg)

	time.Sleep(time.Millisecond * 100)
	node.SweepStale()

	node.OnFailed(msg)

	retrying := eventsWith(node.GetEvents(), types.StatusRetryingAlternativeRelay)
	require.Len(t, retrying, 1)
	require.Len(t, requester.GetRequests(), 1)
}

// 4-3
//
// A failure signal arriving after the delivery confirmation of a propagated
// message is still spurious: the propagation record outlives the delivery
// and only the TTL sweep retires it.
func Test_Courier_Spurious_Failure_After_Delivery(t *testing.T) {
	relayA := z.NewRelayAddr(t, 0xAA)

	requester := z.NewRelayRequester()

	rt := channel.NewRouter()
	node := z.NewTestCourier(t, courierFac, rt,
		z.WithAutostart(false),
		z.WithActiveRelay(relayA),
		z.WithRelayRequester(requester))

	msg := z.NewOutbound(t, z.WithPropagationAttempted(relayA))
	node.OnSent(msg)
	node.OnDelivered(msg)

	node.OnFailed(msg)

	// > no retry machinery may touch a delivered message

	evts := node.GetEvents()
	require.Len(t, evts, 2)
	require.Equal(t, types.StatusPropagated, evts[0].Status)
	require.Equal(t, types.StatusDelivered, evts[1].Status)
	require.Empty(t, requester.GetRequests())
	require.Empty(t, rt.GetOuts())
}

// 4-4
//
// A sweep inside the TTL preserves fresh propagation records: failures for
// those messages stay suppressed.
func Test_Courier_Guard_Sweep_Keeps_Fresh(t *testing.T) {
	relayA := z.NewRelayAddr(t, 0xAA)

	requester := z.NewRelayRequester()

	rt := channel.NewRouter()
	node := z.NewTestCourier(t, courierFac, rt,
		z.WithAutostart(false),
		z.WithActiveRelay(relayA),
		z.WithRelayRequester(requester),
		z.WithPropagatedTrackingTTL(time.Hour))

	msg := z.NewOutbound(t, z.WithPropagationAttempted(relayA))
	node.OnSent(msg)

	node.SweepStale()
	node.OnFailed(msg)

	require.Len(t, node.GetEvents(), 1)
	require.Empty(t, requester.GetRequests())
}

// 4-5
//
// Status callbacks registered on the registry fire on matching transitions.
func Test_Courier_Status_Callback(t *testing.T) {
	rt := channel.NewRouter()
	node := z.NewTestCourier(t, courierFac, rt, z.WithAutostart(false))

	status := z.NewStatus()
	node.GetRegistry().RegisterStatusCallback(types.StatusFailed,
		func(types.StatusEvent) error {
			status.Call()
			return nil
		})

	msg := z.NewOutbound(t)
	msg.State = types.StateFailed
	node.OnFailed(msg)

	time.Sleep(time.Millisecond * 100)
	status.CheckCalled(t)
}

// 5-1
//
// Full lifecycle: opportunistic timeout, escalation, two relay
// substitutions, then the budget runs out.
func Test_Courier_Scenario_Retries_Until_Exhaustion(t *testing.T) {
	relayA := z.NewRelayAddr(t, 0xAA)
	relayB := z.NewRelayAddr(t, 0xBB)
	relayC := z.NewRelayAddr(t, 0xCC)

	requester := z.NewRelayRequester()

	rt := channel.NewRouter()
	node := z.NewTestCourier(t, courierFac, rt,
		z.WithOpportunisticTimeout(time.Millisecond*100),
		z.WithCheckInterval(time.Millisecond*20),
		z.WithActiveRelay(relayA),
		z.WithRelayRequester(requester))
	defer node.StopAll()

	msg := z.NewOutbound(t, z.WithTryPropagation())
	node.Track(msg)

	// > the timeout escalates the message to the configured relay

	escalated := waitResubmit(t, rt)
	require.Same(t, msg, escalated)
	require.Equal(t, types.MethodPropagated, msg.DesiredMethod)
	require.Len(t, msg.TriedRelays, 1)

	// > relay A fails, the host supplies relay B

	node.OnFailed(msg)
	require.Len(t, requester.GetRequests(), 1)

	node.OnAlternativeRelay(relayB)
	require.Len(t, msg.TriedRelays, 2)

	// > relay B fails, the host supplies relay C

	node.OnFailed(msg)
	require.Len(t, requester.GetRequests(), 2)
	require.Equal(t, []string{relayA.Hex(), relayB.Hex()},
		requester.GetRequests()[1].ExcludeRelays)

	node.OnAlternativeRelay(relayC)
	require.Len(t, msg.TriedRelays, 3)

	// > relay C fails too; a fourth attempt would exceed the budget

	node.OnFailed(msg)
	require.Len(t, requester.GetRequests(), 2)

	failed := eventsWith(node.GetEvents(), types.StatusFailed)
	require.Len(t, failed, 1)
	require.Equal(t, types.ReasonMaxRelayRetriesExceeded, failed[0].Reason)

	retrying := eventsWith(node.GetEvents(), types.StatusRetryingAlternativeRelay)
	require.Len(t, retrying, 2)
	require.Equal(t, 1, retrying[0].TriedCount)
	require.Equal(t, 2, retrying[1].TriedCount)
}
