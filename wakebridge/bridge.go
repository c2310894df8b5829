package wakebridge

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/joeycumines/go-catrate"
	"github.com/joeycumines/go-wakebridge/anim"
	"github.com/joeycumines/go-wakebridge/eventloop"
	"github.com/joeycumines/logiface"
)

// Bridge connects a native event loop to a cooperative task executor.
//
// The executor arms handles (NewDelay, NewAnimation, NewNotification) with
// its own waiter tokens. When a handle fires, the bridge calls
// Executor.Wake with that token, then requests a drive, via the DriveSignal,
// so that Executor.Drive runs on a later loop iteration, rather than from
// within the native callback.
//
// Apart from RequestDrive, Remote, Stats, and the methods of RemoteWaker and
// Notification.Notify, the bridge and its handles must only be used from the
// loop goroutine, or while the loop is not running.
type Bridge struct {
	loop     Loop
	exec     Executor
	animator Animator
	logger   *logiface.Logger[logiface.Event]
	limiter  *catrate.Limiter
	signal   atomic.Pointer[DriveSignal]
	remote   *RemoteWaker
	live     map[tracked]struct{}

	wakes         atomic.Uint64
	remoteWakes   atomic.Uint64
	driveRequests atomic.Uint64
	driveFailures atomic.Uint64
	drives        atomic.Uint64
	staleFires    atomic.Uint64

	running   atomic.Bool
	closed    atomic.Bool
	keepAlive bool
	driving   bool
}

// tracked is implemented by every Handle instantiation.
type tracked interface {
	destroyOutstanding()
}

// Stats are cumulative counters, for diagnostics.
type Stats struct {
	// Wakes counts calls to Executor.Wake, including RemoteWakes.
	Wakes uint64
	// RemoteWakes counts wakes delivered via the RemoteWaker.
	RemoteWakes uint64
	// DriveRequests counts calls to RequestDrive.
	DriveRequests uint64
	// DriveFailures counts drive requests from completions that failed.
	DriveFailures uint64
	// Drives counts calls to Executor.Drive.
	Drives uint64
	// StaleFires counts native completions ignored as they belonged to a
	// canceled or superseded arm.
	StaleFires uint64
}

// New creates a bridge. If exec implements LoopRegistrar, it is registered
// with the bridge before New returns.
//
// Panics if the rates given WithDriveFailureRates are invalid, per
// catrate.NewLimiter.
func New(loop Loop, exec Executor, opts ...Option) (*Bridge, error) {
	if loop == nil || exec == nil {
		return nil, fmt.Errorf("wakebridge: nil loop or executor")
	}
	cfg, err := resolveOptions(opts)
	if err != nil {
		return nil, err
	}

	b := &Bridge{
		loop:      loop,
		exec:      exec,
		animator:  cfg.animator,
		logger:    cfg.logger,
		live:      make(map[tracked]struct{}),
		keepAlive: cfg.keepAlive,
	}
	if len(cfg.driveFailureRate) != 0 {
		b.limiter = catrate.NewLimiter(cfg.driveFailureRate)
	}
	b.remote = &RemoteWaker{bridge: b, limit: cfg.remoteQueueSize}

	if r, ok := exec.(LoopRegistrar); ok {
		r.RegisterLoop(b)
	}

	return b, nil
}

// NewDelay allocates a timer handle.
func (b *Bridge) NewDelay() (*Delay, error) {
	if b.closed.Load() {
		return nil, ErrBridgeClosed
	}
	timer, err := b.loop.NewTimer()
	if err != nil {
		return nil, fmt.Errorf("wakebridge: new delay: %w", err)
	}
	return newHandle[time.Duration](b, KindDelay, &timerPrimitive{timer: timer}), nil
}

// NewAnimation allocates an animation handle. Requires WithAnimator.
func (b *Bridge) NewAnimation() (*AnimationHandle, error) {
	if b.closed.Load() {
		return nil, ErrBridgeClosed
	}
	if b.animator == nil {
		return nil, ErrNoAnimator
	}
	a, err := b.animator.NewAnimation()
	if err != nil {
		return nil, fmt.Errorf("wakebridge: new animation: %w", err)
	}
	return newHandle[anim.Spec](b, KindAnimation, &animationPrimitive{anim: a}), nil
}

// NewNotification allocates a cross-goroutine notification.
func (b *Bridge) NewNotification() (*Notification, error) {
	if b.closed.Load() {
		return nil, ErrBridgeClosed
	}
	p := new(asyncPrimitive)
	async, err := b.loop.NewAsync(p.dispatch)
	if err != nil {
		return nil, fmt.Errorf("wakebridge: new notification: %w", err)
	}
	async.Unref()
	p.async = async
	return &Notification{
		h:    newHandle[struct{}](b, KindNotification, p),
		prim: p,
	}, nil
}

// Remote returns the bridge's RemoteWaker.
func (b *Bridge) Remote() *RemoteWaker {
	return b.remote
}

// Signal returns the drive signal, or nil if the bridge has not been run.
func (b *Bridge) Signal() *DriveSignal {
	return b.signal.Load()
}

// RequestDrive schedules Executor.Drive, on the loop goroutine. Safe to call
// from any goroutine. Before the first Run, it is a no-op, as Run always
// drives on startup.
func (b *Bridge) RequestDrive() error {
	if b.closed.Load() {
		return ErrBridgeClosed
	}
	b.driveRequests.Add(1)
	s := b.signal.Load()
	if s == nil {
		return nil
	}
	return s.Request()
}

// Run initializes the drive signal (on the first call), drives the executor
// once, so tasks that are already ready make progress, then runs the loop
// until it has nothing left to wait on, or ctx is done.
//
// The drive signal does not keep the loop alive, unless WithKeepAlive is
// used. Errors from the loop, including ctx.Err(), are returned as-is.
func (b *Bridge) Run(ctx context.Context) error {
	if b.closed.Load() {
		return ErrBridgeClosed
	}
	if !b.running.CompareAndSwap(false, true) {
		return ErrBridgeRunning
	}
	defer b.running.Store(false)

	if b.signal.Load() == nil {
		async, err := b.loop.NewAsync(b.drive)
		if err != nil {
			return fmt.Errorf("wakebridge: init drive signal: %w", err)
		}
		if !b.keepAlive {
			async.Unref()
		}
		b.signal.Store(&DriveSignal{async: async})
	}

	b.logger.Debug().
		Bool("keep_alive", b.keepAlive).
		Log("wakebridge: running")

	b.drive()

	return b.loop.Run(ctx, eventloop.RunDefault)
}

// Close destroys any outstanding handles, and the drive signal. When called
// while the loop is not running, it also runs the loop once, without
// blocking, to complete their release, so the loop may then be closed.
// Otherwise, the release completes on the loop's next iteration.
func (b *Bridge) Close() error {
	if !b.closed.CompareAndSwap(false, true) {
		return ErrBridgeClosed
	}

	for h := range b.live {
		h.destroyOutstanding()
	}
	clear(b.live)

	if s := b.signal.Swap(nil); s != nil {
		s.async.Close(nil)
	}

	if b.running.Load() {
		return nil
	}
	if err := b.loop.Run(context.Background(), eventloop.RunNoWait); err != nil {
		return fmt.Errorf("wakebridge: close: %w", err)
	}
	return nil
}

// Stats returns a snapshot of the bridge's counters. Safe to call from any
// goroutine.
func (b *Bridge) Stats() Stats {
	return Stats{
		Wakes:         b.wakes.Load(),
		RemoteWakes:   b.remoteWakes.Load(),
		DriveRequests: b.driveRequests.Load(),
		DriveFailures: b.driveFailures.Load(),
		Drives:        b.drives.Load(),
		StaleFires:    b.staleFires.Load(),
	}
}

// Live returns the number of handles that have not been destroyed.
func (b *Bridge) Live() int {
	return len(b.live)
}

func (b *Bridge) track(h tracked) {
	b.live[h] = struct{}{}
}

func (b *Bridge) untrack(h tracked) {
	delete(b.live, h)
}

func (b *Bridge) wake(kind Kind, token Token) {
	b.wakes.Add(1)
	b.exec.Wake(kind, token)
}

// drive is the drive signal handler: it delivers remote wakes, then drives
// the executor.
func (b *Bridge) drive() {
	if b.driving {
		return
	}
	b.driving = true
	defer func() { b.driving = false }()

	for _, w := range b.remote.drain() {
		b.remoteWakes.Add(1)
		b.wake(w.Kind, w.Token)
	}

	b.drives.Add(1)
	b.exec.Drive()
}

// reportDriveFailure logs a failed drive request, rate limited per kind.
func (b *Bridge) reportDriveFailure(kind Kind, err error) {
	failures := b.driveFailures.Add(1)
	next, ok := b.limiter.Allow(kind)
	if !ok {
		return
	}
	builder := b.logger.Err().
		Err(err).
		Str("kind", kind.String()).
		Uint64("failures", failures)
	if !next.IsZero() {
		builder = builder.Time("suppressed_until", next)
	}
	builder.Log("wakebridge: drive request failed, wake deferred to the next drive")
}
