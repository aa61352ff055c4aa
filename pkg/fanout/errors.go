package fanout

import "errors"

var (
	// ErrDecode wraps every payload rejected by DecodeMessage
	ErrDecode = errors.New("fanout: malformed message")

	// ErrUnknownSubscriber is logged when a lookup misses. GetMessages never returns it.
	ErrUnknownSubscriber = errors.New("fanout: unknown subscriber")

	// ErrDispatcherStopped is returned by Publish once the dispatcher is shut down
	ErrDispatcherStopped = errors.New("fanout: dispatcher stopped")

	// ErrDispatcherRunning is returned by Start on a running dispatcher
	ErrDispatcherRunning = errors.New("fanout: dispatcher already running")
)
