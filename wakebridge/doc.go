// Package wakebridge adapts native event loop completions (timers,
// animations, and cross-goroutine notifications) into wake-ups for a
// cooperative task executor.
//
// # Model
//
// The executor is driven from the loop goroutine. It arms a handle with one
// of its own waiter tokens, then suspends the waiting task. When the native
// primitive completes, the bridge calls [Executor.Wake] with the token, and
// requests a drive. The drive runs on a later loop iteration, via the
// [DriveSignal], and never from within the native callback, so a task's
// continuation cannot observe a native handle half way through its own
// callback.
//
// Drive requests coalesce: any number of wakes before the drive runs result
// in a single call to [Executor.Drive]. A failed drive request does not lose
// the wake, as the token has already been delivered; the task runs at the
// next drive, and the failure is logged, rate limited per [Kind].
//
// # Handles
//
// [Delay], [AnimationHandle], and [Notification] share a lifecycle:
//
//	Created -> Armed -> Fired | Canceled -> Destroying -> Destroyed
//
// Handles may be re-armed after firing or being canceled, with a new token.
// Completions belonging to a canceled or superseded arm are ignored. Destroy
// is two-phase: the native primitive is released on the next loop iteration,
// and destroying a handle from within its own completion is deferred until
// the completion returns.
//
// # Threading
//
// [Bridge.RequestDrive], [Bridge.Stats], [RemoteWaker.Wake], and
// [Notification.Notify] are safe to call from any goroutine. Everything else
// belongs to the loop goroutine.
package wakebridge
