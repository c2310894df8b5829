package wakebridge

// Token is an opaque waiter identifier, supplied by the executor when arming
// a handle, and passed back verbatim to Executor.Wake when it fires.
type Token uint64

// Kind identifies the primitive that produced a wake.
type Kind uint8

const (
	// KindDelay is a one-shot timer.
	KindDelay Kind = iota + 1
	// KindAnimation is an animation run reaching completion.
	KindAnimation
	// KindNotification is a cross-goroutine notification.
	KindNotification
	// KindRemote is a wake delivered through a RemoteWaker.
	KindRemote
)

// String returns a human-readable representation of the kind.
func (k Kind) String() string {
	switch k {
	case KindDelay:
		return "delay"
	case KindAnimation:
		return "animation"
	case KindNotification:
		return "notification"
	case KindRemote:
		return "remote"
	default:
		return "unknown"
	}
}

// Executor is the task executor, as seen by the bridge.
//
// Both methods are only ever called from the loop goroutine, and never
// reentrantly: the bridge does not call Drive from within Wake or Drive.
type Executor interface {
	// Wake marks the task waiting on token ready. It must not run the task.
	Wake(kind Kind, token Token)
	// Drive runs every ready task to its next suspension point.
	Drive()
}

// LoopRegistrar is optionally implemented by an Executor, to receive the
// bridge once, when it is first run, so that it may arm handles.
type LoopRegistrar interface {
	RegisterLoop(b *Bridge)
}
