package courier

// Service defines the functions for the basic operations of the coordinator.
type Service interface {
	// Start starts the watchdog loop. Calling it again while the loop is
	// alive is a no-op; the loop also starts lazily on the first Track
	// call.
	Start() error

	// Stop stops the watchdog loop. This function must block until the
	// loop goroutine is done. Operations already inside a callback run to
	// completion.
	Stop() error
}
