package standard

import (
	"sync"

	"github.com/lxmfkit/courier/registry"
	"github.com/lxmfkit/courier/types"
	"golang.org/x/xerrors"
)

// NewRegistry returns a new initialized registry.
func NewRegistry() registry.Registry {
	return &Registry{
		handlers: make(map[types.Status]registry.Exec),
		notif:    notifications{},
		evts:     events{},
	}
}

// Registry defines the standard and default registry.
//
// - implements registry.Registry
type Registry struct {
	sync.RWMutex

	handlers map[types.Status]registry.Exec
	notif    notifications
	evts     events
}

// RegisterStatusCallback implements registry.Registry.
func (r *Registry) RegisterStatusCallback(s types.Status, exec registry.Exec) {
	r.Lock()
	r.handlers[s] = exec
	r.Unlock()
}

// Notify implements registry.Registry. The handler runs in a goroutine so a
// panicking host observer is caught here instead of unwinding the
// coordinator; the notification handlers run detached and are never awaited.
func (r *Registry) Notify(evt types.StatusEvent) error {
	r.RLock()
	h, ok := r.handlers[evt.Status]
	r.RUnlock()

	r.evts.add(evt)

	var err error

	if ok {
		wait := make(chan interface{})

		go func() {
			defer func() {
				res := recover()

				if res != nil {
					wait <- res
				}

				close(wait)
			}()

			err := h(evt)
			if err != nil {
				wait <- err
			}
		}()

		res := <-wait
		if res != nil {
			err = xerrors.Errorf("failed to call handler: %v", res)
		}
	}

	r.notif.ExecAll(evt)

	return err
}

// RegisterNotify implements registry.Registry.
func (r *Registry) RegisterNotify(exec registry.Exec) {
	r.notif.Add(exec)
}

// GetEvents implements registry.Registry.
func (r *Registry) GetEvents() []types.StatusEvent {
	return r.evts.get()
}

type notifications struct {
	sync.Mutex

	h []registry.Exec
}

func (h *notifications) Add(exec registry.Exec) {
	h.Lock()
	defer h.Unlock()

	h.h = append(h.h, exec)
}

// ExecAll executes all the registered notification handlers in a detached
// goroutine. Errors returned by those handlers are not taken into account,
// and the caller does not wait for them.
func (h *notifications) ExecAll(evt types.StatusEvent) {
	go func() {
		defer func() {
			// a panicking notification handler must not take the
			// process down
			_ = recover()
		}()

		h.Lock()
		defer h.Unlock()

		for _, handler := range h.h {
			_ = handler(evt)
		}
	}()
}

type events struct {
	sync.Mutex
	evts []types.StatusEvent
}

func (e *events) add(evt types.StatusEvent) {
	e.Lock()
	defer e.Unlock()

	e.evts = append(e.evts, evt)
}

func (e *events) get() []types.StatusEvent {
	e.Lock()
	defer e.Unlock()

	return append([]types.StatusEvent{}, e.evts...)
}
