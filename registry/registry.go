package registry

import (
	"github.com/lxmfkit/courier/types"
)

// Registry defines a registry to deliver status events to host-side
// observers and to keep track of everything emitted so far. It is the only
// channel through which the coordinator reports outcomes.
type Registry interface {
	// RegisterStatusCallback registers a function that will be executed
	// for that particular status by the Notify function.
	RegisterStatusCallback(types.Status, Exec)

	// Notify records the event and executes the registered callback, if
	// any. A panicking or failing callback never propagates to the
	// caller: Notify returns the problem as an error and nothing more.
	// The coordinator may call Notify while holding its internal lock, so
	// callbacks must not call back into the coordinator synchronously.
	Notify(evt types.StatusEvent) error

	// RegisterNotify registers an Exec function that will be called for
	// every event, whatever its status. The return error of Exec is not
	// taken into account.
	RegisterNotify(Exec)

	// GetEvents returns all the events notified so far.
	GetEvents() []types.StatusEvent
}

// Exec is the type of function executed as a handler on a status event.
type Exec func(types.StatusEvent) error
