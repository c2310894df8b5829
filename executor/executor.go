package executor

import (
	"context"
	"errors"
	"fmt"

	"github.com/joeycumines/go-wakebridge/wakebridge"
	"github.com/joeycumines/logiface"
)

// Executor is a single goroutine, cooperative task executor, driven by a
// wakebridge.Bridge.
//
// Each task runs on its own goroutine, but only ever one at a time, while
// the executor (on the loop goroutine) waits for it to suspend or return.
// Tasks therefore behave as if they ran on the loop goroutine, and may use
// loop-only APIs directly.
//
// Apart from the methods of Task that are documented otherwise, Executor,
// Task, and Group must only be used from the loop goroutine, from within a
// task, or while the loop is not running.
type Executor struct {
	bridge *wakebridge.Bridge
	logger *logiface.Logger[logiface.Event]
	ready  []*Task
	waits  map[wakebridge.Token]*wait
	tasks  map[*Task]struct{}
	stats  Stats
	budget int
	// nextToken is the last waiter token issued, tokens are never reused
	nextToken wakebridge.Token
	nextID    uint64
	driving   bool
	closed    bool
}

// Stats are cumulative counters, for diagnostics.
type Stats struct {
	// Spawned counts tasks passed to Spawn.
	Spawned uint64
	// Completed counts tasks that have returned.
	Completed uint64
	// Resumes counts task resumptions, across all drives.
	Resumes uint64
	// Drives counts calls to Drive.
	Drives uint64
	// BudgetExhausted counts drives that ended with tasks still ready.
	BudgetExhausted uint64
	// StaleWakes counts wakes for tokens that were not being waited on.
	StaleWakes uint64
}

// wait is a single suspension, keyed by its token.
type wait struct {
	task     *Task
	token    wakebridge.Token
	canceled bool
	closed   bool
}

var (
	// compile time assertions

	_ wakebridge.Executor      = (*Executor)(nil)
	_ wakebridge.LoopRegistrar = (*Executor)(nil)
)

// New creates an executor. It must then be passed to wakebridge.New, which
// registers it.
func New(opts ...Option) (*Executor, error) {
	cfg, err := resolveOptions(opts)
	if err != nil {
		return nil, err
	}
	return &Executor{
		logger: cfg.logger,
		budget: cfg.budget,
		waits:  make(map[wakebridge.Token]*wait),
		tasks:  make(map[*Task]struct{}),
	}, nil
}

// RegisterLoop implements wakebridge.LoopRegistrar. Panics if already
// registered.
func (e *Executor) RegisterLoop(b *wakebridge.Bridge) {
	if e.bridge != nil {
		panic(errors.New("executor: already registered with a bridge"))
	}
	e.bridge = b
}

// Bridge returns the registered bridge, or nil.
func (e *Executor) Bridge() *wakebridge.Bridge {
	return e.bridge
}

// Spawn schedules fn to run as a new task, on the next drive. The task's
// context is derived from ctx, and is canceled once the task returns.
func (e *Executor) Spawn(ctx context.Context, fn func(t *Task) error) (*Task, error) {
	if fn == nil {
		return nil, errors.New("executor: nil task function")
	}
	if e.closed {
		return nil, ErrClosed
	}
	if ctx == nil {
		ctx = context.Background()
	}
	e.nextID++
	t := &Task{
		exec:     e,
		fn:       fn,
		id:       e.nextID,
		resumeCh: make(chan struct{}),
		yieldCh:  make(chan struct{}),
		done:     make(chan struct{}),
	}
	t.ctx, t.cancel = context.WithCancel(ctx)
	e.tasks[t] = struct{}{}
	e.stats.Spawned++
	e.schedule(t)
	return t, nil
}

// Wake implements wakebridge.Executor. It marks the task waiting on token
// ready, without running it. Wakes of kind wakebridge.KindRemote are
// cancellations, delivered once a wait's context is done.
func (e *Executor) Wake(kind wakebridge.Kind, token wakebridge.Token) {
	w, ok := e.waits[token]
	if !ok {
		e.stats.StaleWakes++
		e.logger.Debug().
			Str("kind", kind.String()).
			Uint64("token", uint64(token)).
			Log("executor: ignoring stale wake")
		return
	}
	delete(e.waits, token)
	w.canceled = kind == wakebridge.KindRemote
	e.schedule(w.task)
}

// Drive implements wakebridge.Executor. It resumes the tasks that were
// ready when it was called, in the order they became ready, up to the
// drive budget. Tasks made ready during the drive run on a later drive,
// which is requested before Drive returns.
func (e *Executor) Drive() {
	if e.driving {
		return
	}
	e.driving = true
	defer func() { e.driving = false }()

	e.stats.Drives++

	batch := e.ready
	e.ready = nil

	n := min(len(batch), e.budget)
	for _, t := range batch[:n] {
		e.resume(t)
	}

	if n < len(batch) {
		e.stats.BudgetExhausted++
		e.ready = append(batch[n:len(batch):len(batch)], e.ready...)
		e.logger.Debug().
			Int("budget", e.budget).
			Int("remaining", len(batch)-n).
			Log("executor: drive budget exhausted")
	}

	if len(e.ready) != 0 {
		e.requestDrive()
	}
}

// Close stops the executor. Every pending wait fails with ErrClosed, and
// every unfinished task, including any not yet started, is run until it
// returns. Waits made after Close fail immediately, so tasks that ignore
// the error may loop forever, blocking Close.
//
// Must be called from the loop goroutine, or while the loop is not
// running. Close it before closing the bridge, to release the tasks'
// handles. Subsequent calls return ErrClosed.
func (e *Executor) Close() error {
	if e.closed {
		return ErrClosed
	}
	e.closed = true

	for token, w := range e.waits {
		delete(e.waits, token)
		w.closed = true
		e.ready = append(e.ready, w.task)
	}
	for t := range e.tasks {
		t.cancel()
	}

	for len(e.ready) != 0 {
		batch := e.ready
		e.ready = nil
		for _, t := range batch {
			e.resume(t)
		}
	}

	if n := len(e.tasks); n != 0 {
		return fmt.Errorf("executor: close: %d tasks did not finish", n)
	}
	return nil
}

// Tasks returns the number of unfinished tasks.
func (e *Executor) Tasks() int {
	return len(e.tasks)
}

// Stats returns a snapshot of the executor's counters.
func (e *Executor) Stats() Stats {
	return e.stats
}

func (e *Executor) schedule(t *Task) {
	t.state = taskReady
	e.ready = append(e.ready, t)
	if !e.driving {
		e.requestDrive()
	}
}

func (e *Executor) requestDrive() {
	if e.bridge == nil {
		return
	}
	if err := e.bridge.RequestDrive(); err != nil && !errors.Is(err, wakebridge.ErrBridgeClosed) {
		// the bridge logs and counts failures from completions, this covers
		// the executor's own requests
		e.logger.Warning().
			Err(err).
			Int("ready", len(e.ready)).
			Log("executor: drive request failed")
	}
}

// newWait registers a suspension for t, with a fresh token.
func (e *Executor) newWait(t *Task) *wait {
	e.nextToken++
	w := &wait{task: t, token: e.nextToken}
	e.waits[w.token] = w
	return w
}

// resolve completes the wait for token, if any, as if it fired.
func (e *Executor) resolve(token wakebridge.Token) {
	if w, ok := e.waits[token]; ok {
		delete(e.waits, token)
		e.schedule(w.task)
	}
}

// resume runs t until it suspends or returns.
func (e *Executor) resume(t *Task) {
	if t.state != taskReady {
		return
	}
	t.state = taskRunning
	e.stats.Resumes++
	if !t.started {
		t.started = true
		go t.run()
	} else {
		t.resumeCh <- struct{}{}
	}
	<-t.yieldCh
	if t.state == taskDone {
		e.finish(t)
	}
}

func (e *Executor) finish(t *Task) {
	delete(e.tasks, t)
	e.stats.Completed++
	t.cancel()
	destroyHandle(t.delay)
	destroyHandle(t.anim)
	close(t.done)

	joiners := t.joiners
	t.joiners = nil
	for _, token := range joiners {
		e.resolve(token)
	}

	if t.err != nil {
		e.logger.Debug().
			Uint64("task", t.id).
			Err(t.err).
			Log("executor: task returned an error")
	}
}

// destroyHandle destroys h, unless it is nil, or already destroyed (e.g. by
// wakebridge.Bridge.Close).
func destroyHandle[A any](h *wakebridge.Handle[A]) {
	if h == nil {
		return
	}
	switch h.State() {
	case wakebridge.StateDestroying, wakebridge.StateDestroyed:
		return
	}
	h.Destroy()
}
