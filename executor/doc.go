// Package executor implements a cooperative task executor, driven from an
// event loop via a wakebridge.Bridge.
//
// Tasks are functions that suspend at explicit points: Task.Delay,
// Task.Animate, Task.Wait, Task.Yield, and Task.Join. Each suspension arms
// a bridge handle with a fresh waiter token, and the task is resumed by the
// drive that follows the corresponding wake. Canceling a suspension's
// context delivers a wake from the context's goroutine, via the bridge's
// RemoteWaker, so the handle is always canceled on the loop goroutine.
//
// Only one task runs at a time, and only while the loop goroutine is
// blocked in Executor.Drive (or Executor.Close).
package executor
