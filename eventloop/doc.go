// Package eventloop provides a small, single goroutine event loop for Go, in
// the style of libuv, featuring one-shot timers, cross-goroutine async
// notification handles, two-phase handle teardown, and reference counting of
// the handles that keep the loop alive.
//
// # Architecture
//
// A [Loop] owns a timer heap, a list of [Async] handles, and a platform
// wake-up mechanism (eventfd on Linux, a self-pipe on other unix platforms,
// waited on using poll(2)). Each iteration runs due timers, blocks until the
// next timer is due or a wake-up arrives, dispatches pending async callbacks,
// then runs pending close callbacks.
//
// # Thread Safety
//
// Handles belong to the loop goroutine:
//   - [Async.Send] and [Loop.Stop] are safe to call from any goroutine
//   - Multiple sends before the loop dispatches an async coalesce into one callback
//   - All other handle methods must be called from the loop goroutine, or
//     while the loop is not running
//
// # Handle Lifecycle
//
// Handles are allocated by [Loop.NewTimer] and [Loop.NewAsync], which fail
// (rather than panic) if the loop is closed, or a [WithMaxHandles] cap is
// reached. Close is two-phase: the handle stops immediately, but is only
// released, and its close callback invoked, on the next loop iteration.
// [Loop.Close] fails with [ErrLoopBusy] until every handle has completed its
// close.
//
// # Usage
//
//	loop, err := eventloop.New()
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	timer, err := loop.NewTimer()
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	_ = timer.Start(100*time.Millisecond, func() {
//	    fmt.Println("Hello after 100ms")
//	    timer.Close(nil)
//	})
//
//	if err := loop.Run(context.Background(), eventloop.RunDefault); err != nil {
//	    log.Fatal(err)
//	}
//
//	_ = loop.Close()
package eventloop
