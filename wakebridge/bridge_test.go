package wakebridge_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/joeycumines/go-wakebridge/anim"
	"github.com/joeycumines/go-wakebridge/internal/loopfake"
	"github.com/joeycumines/go-wakebridge/wakebridge"
	"github.com/joeycumines/logiface"
	"github.com/joeycumines/stumpy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type wakeup struct {
	kind  wakebridge.Kind
	token wakebridge.Token
}

// recorder is an Executor that records every call, and the set of tokens
// ready at each drive.
type recorder struct {
	bridge  *wakebridge.Bridge
	onWake  func(kind wakebridge.Kind, token wakebridge.Token)
	onDrive func()
	events  []string
	wakes   []wakeup
	ready   []wakebridge.Token
	drained [][]wakebridge.Token
	drives  int
}

func (r *recorder) RegisterLoop(b *wakebridge.Bridge) {
	r.bridge = b
	r.events = append(r.events, "register")
}

func (r *recorder) Wake(kind wakebridge.Kind, token wakebridge.Token) {
	r.wakes = append(r.wakes, wakeup{kind, token})
	r.ready = append(r.ready, token)
	r.events = append(r.events, fmt.Sprintf("wake %s %d", kind, token))
	if r.onWake != nil {
		r.onWake(kind, token)
	}
}

func (r *recorder) Drive() {
	r.drives++
	r.drained = append(r.drained, r.ready)
	r.ready = nil
	r.events = append(r.events, "drive")
	if r.onDrive != nil {
		r.onDrive()
	}
}

type harness struct {
	loop     *loopfake.Loop
	animator *loopfake.Animator
	exec     *recorder
	bridge   *wakebridge.Bridge
}

// newHarness returns a bridge on a fake loop, already run, so the drive
// signal is initialized, and the initial drive done.
func newHarness(t *testing.T, opts ...wakebridge.Option) *harness {
	t.Helper()
	h := &harness{
		loop: loopfake.New(),
		exec: new(recorder),
	}
	h.animator = loopfake.NewAnimator(h.loop)
	b, err := wakebridge.New(h.loop, h.exec, append([]wakebridge.Option{wakebridge.WithAnimator(h.animator)}, opts...)...)
	require.NoError(t, err)
	h.bridge = b
	require.Same(t, b, h.exec.bridge)
	require.NoError(t, b.Run(context.Background()))
	require.Equal(t, 1, h.exec.drives)
	h.exec.drained = nil
	h.exec.events = nil
	return h
}

func indexOf(trace []string, event string) int {
	return slices.Index(trace, event)
}

func TestDelay_firesOnceWithToken(t *testing.T) {
	h := newHarness(t)

	d, err := h.bridge.NewDelay()
	require.NoError(t, err)
	require.NoError(t, d.Arm(10*time.Millisecond, 1))

	tok, ok := d.Token()
	assert.True(t, ok)
	assert.Equal(t, wakebridge.Token(1), tok)
	assert.Equal(t, wakebridge.StateArmed, d.State())

	h.loop.Advance(9 * time.Millisecond)
	assert.Empty(t, h.exec.wakes)

	h.loop.Advance(1 * time.Millisecond)
	assert.Equal(t, []wakeup{{wakebridge.KindDelay, 1}}, h.exec.wakes)
	assert.Equal(t, []string{"wake delay 1", "drive"}, h.exec.events)
	assert.Equal(t, [][]wakebridge.Token{{1}}, h.exec.drained)
	assert.Equal(t, wakebridge.StateFired, d.State())
	_, ok = d.Token()
	assert.False(t, ok)

	// never again
	h.loop.Advance(time.Hour)
	assert.Len(t, h.exec.wakes, 1)
}

func TestDelay_cancelBeforeFire(t *testing.T) {
	h := newHarness(t)

	d, err := h.bridge.NewDelay()
	require.NoError(t, err)
	require.NoError(t, d.Arm(10*time.Millisecond, 1))

	h.loop.Advance(5 * time.Millisecond)
	assert.True(t, d.Cancel())
	assert.Equal(t, wakebridge.StateCanceled, d.State())

	h.loop.Advance(time.Hour)
	assert.Empty(t, h.exec.wakes)
	assert.Zero(t, h.exec.drives)
	assert.NotContains(t, h.loop.Trace(), "timer#2 fire")
}

func TestHandle_cancelIsIdempotent(t *testing.T) {
	h := newHarness(t)

	d, err := h.bridge.NewDelay()
	require.NoError(t, err)

	assert.False(t, d.Cancel(), "never armed")

	require.NoError(t, d.Arm(time.Millisecond, 1))
	assert.True(t, d.Cancel())
	before := h.loop.Trace()
	assert.False(t, d.Cancel())
	assert.Equal(t, before, h.loop.Trace())
	assert.Equal(t, wakebridge.StateCanceled, d.State())

	require.NoError(t, d.Arm(time.Millisecond, 2))
	h.loop.Advance(time.Millisecond)
	assert.False(t, d.Cancel(), "already fired")
	assert.Equal(t, wakebridge.StateFired, d.State())
	assert.Equal(t, []wakeup{{wakebridge.KindDelay, 2}}, h.exec.wakes)
}

func TestHandle_rearmUsesNewToken(t *testing.T) {
	h := newHarness(t)

	d, err := h.bridge.NewDelay()
	require.NoError(t, err)

	for tok := wakebridge.Token(1); tok <= 3; tok++ {
		require.NoError(t, d.Arm(time.Millisecond, tok))
		h.loop.Advance(time.Millisecond)
	}

	assert.Equal(t, []wakeup{
		{wakebridge.KindDelay, 1},
		{wakebridge.KindDelay, 2},
		{wakebridge.KindDelay, 3},
	}, h.exec.wakes)
}

func TestHandle_invalidUsePanics(t *testing.T) {
	h := newHarness(t)

	d, err := h.bridge.NewDelay()
	require.NoError(t, err)
	require.NoError(t, d.Arm(time.Millisecond, 1))

	assertPanicsWith := func(target error, fn func()) {
		t.Helper()
		defer func() {
			t.Helper()
			r := recover()
			err, ok := r.(error)
			if !ok || !errors.Is(err, target) {
				t.Errorf("expected panic wrapping %v, got %v", target, r)
			}
		}()
		fn()
	}

	assertPanicsWith(wakebridge.ErrHandleArmed, func() { _ = d.Arm(time.Millisecond, 2) })

	d.Destroy()
	assertPanicsWith(wakebridge.ErrInvalidHandle, func() { _ = d.Arm(time.Millisecond, 3) })
	assertPanicsWith(wakebridge.ErrInvalidHandle, d.Destroy)

	h.loop.Advance(time.Hour)
	assert.Empty(t, h.exec.wakes, "destroy cancels an armed handle")
	assert.Equal(t, wakebridge.StateDestroyed, d.State())
}

func TestHandle_destroyIsTwoPhase(t *testing.T) {
	h := newHarness(t)

	d, err := h.bridge.NewDelay()
	require.NoError(t, err)
	assert.Equal(t, 1, h.bridge.Live())

	d.Destroy()
	assert.Equal(t, wakebridge.StateDestroying, d.State())
	assert.Equal(t, 0, h.bridge.Live())
	assert.Contains(t, h.loop.Trace(), "timer#2 close")
	assert.NotContains(t, h.loop.Trace(), "timer#2 closed")

	h.loop.Step()
	assert.Equal(t, wakebridge.StateDestroyed, d.State())
	assert.Contains(t, h.loop.Trace(), "timer#2 closed")
}

func TestHandle_destroyFromCompletionIsDeferred(t *testing.T) {
	h := newHarness(t)

	d, err := h.bridge.NewDelay()
	require.NoError(t, err)

	var closeRequestedDuringWake bool
	h.exec.onWake = func(kind wakebridge.Kind, token wakebridge.Token) {
		d.Destroy()
		assert.Equal(t, wakebridge.StateDestroying, d.State())
		closeRequestedDuringWake = slices.Contains(h.loop.Trace(), "timer#2 close")
	}

	require.NoError(t, d.Arm(10*time.Millisecond, 7))
	h.loop.Advance(10 * time.Millisecond)

	assert.False(t, closeRequestedDuringWake, "native close requested while the completion was in flight")
	assert.Equal(t, wakebridge.StateDestroyed, d.State())

	trace := h.loop.Trace()
	fired, fireDone, closed := indexOf(trace, "timer#2 fire"), indexOf(trace, "timer#2 fire done"), indexOf(trace, "timer#2 closed")
	require.True(t, fired >= 0 && fireDone > fired && closed > fireDone, "unexpected trace: %v", trace)

	// the woken task is still driven
	assert.Equal(t, [][]wakebridge.Token{{7}}, h.exec.drained)
}

func TestHandle_panicInWakeDoesNotWedgeDestroy(t *testing.T) {
	h := newHarness(t)

	d, err := h.bridge.NewDelay()
	require.NoError(t, err)

	h.exec.onWake = func(kind wakebridge.Kind, token wakebridge.Token) {
		panic("wake failed")
	}

	require.NoError(t, d.Arm(10*time.Millisecond, 3))
	assert.PanicsWithValue(t, "wake failed", func() { h.loop.Advance(10 * time.Millisecond) })
	assert.Equal(t, wakebridge.StateFired, d.State())

	// the drive is still requested
	h.exec.onWake = nil
	h.loop.Drain()
	assert.Equal(t, [][]wakebridge.Token{{3}}, h.exec.drained)

	// and destroy is not deferred
	d.Destroy()
	assert.Contains(t, h.loop.Trace(), "timer#2 close")
	h.loop.Drain()
	assert.Equal(t, wakebridge.StateDestroyed, d.State())
}

func TestAnimation_completionOrder(t *testing.T) {
	h := newHarness(t)

	a, err := h.bridge.NewAnimation()
	require.NoError(t, err)
	b, err := h.bridge.NewAnimation()
	require.NoError(t, err)
	assert.Equal(t, wakebridge.KindAnimation, a.Kind())

	require.NoError(t, a.Arm(anim.Spec{Duration: time.Second, To: 1}, 1))
	require.NoError(t, b.Arm(anim.Spec{Duration: time.Second, To: 2}, 2))

	natives := h.animator.Animations()
	require.Len(t, natives, 2)
	assert.Equal(t, float32(2), natives[1].Spec().To)

	require.True(t, natives[1].Complete())
	require.True(t, natives[0].Complete())

	assert.Equal(t, []wakeup{
		{wakebridge.KindAnimation, 2},
		{wakebridge.KindAnimation, 1},
	}, h.exec.wakes)
	assert.Equal(t, [][]wakebridge.Token{{2}, {1}}, h.exec.drained)
	assert.Equal(t, []string{"wake animation 2", "drive", "wake animation 1", "drive"}, h.exec.events)
}

func TestAnimation_staleCompletionIsIgnored(t *testing.T) {
	h := newHarness(t)

	a, err := h.bridge.NewAnimation()
	require.NoError(t, err)
	require.NoError(t, a.Arm(anim.Spec{Duration: time.Second}, 1))

	native := h.animator.Animations()[0]
	stale := native.Callback()
	require.NotNil(t, stale)

	// delete and completion race natively: the bridge must not wake
	assert.True(t, a.Cancel())
	stale()
	h.loop.Drain()
	assert.Empty(t, h.exec.wakes)
	assert.Equal(t, uint64(1), h.bridge.Stats().StaleFires)

	// nor wake the new arm early, with a completion of the previous arm
	require.NoError(t, a.Arm(anim.Spec{Duration: time.Second}, 2))
	stale()
	h.loop.Drain()
	assert.Empty(t, h.exec.wakes)
	assert.Equal(t, uint64(2), h.bridge.Stats().StaleFires)

	require.True(t, native.Complete())
	assert.Equal(t, []wakeup{{wakebridge.KindAnimation, 2}}, h.exec.wakes)
}

func TestBridge_noAnimator(t *testing.T) {
	b, err := wakebridge.New(loopfake.New(), new(recorder))
	require.NoError(t, err)
	_, err = b.NewAnimation()
	assert.ErrorIs(t, err, wakebridge.ErrNoAnimator)
}

func TestBridge_allocationFailure(t *testing.T) {
	h := newHarness(t)
	allocErr := errors.New("out of handles")
	h.loop.AllocErr = allocErr

	_, err := h.bridge.NewDelay()
	assert.ErrorIs(t, err, allocErr)
	_, err = h.bridge.NewAnimation()
	assert.ErrorIs(t, err, allocErr)
	_, err = h.bridge.NewNotification()
	assert.ErrorIs(t, err, allocErr)
	assert.Equal(t, 0, h.bridge.Live())
}

func TestBridge_driveRequestsCoalesce(t *testing.T) {
	h := newHarness(t)

	// tasks made ready outside of any completion
	h.exec.ready = []wakebridge.Token{1, 2, 3}

	const n = 50
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, h.bridge.RequestDrive())
		}()
	}
	wg.Wait()

	h.loop.Drain()

	assert.Equal(t, 1, h.exec.drives)
	assert.Equal(t, [][]wakebridge.Token{{1, 2, 3}}, h.exec.drained)
	assert.Equal(t, uint64(n), h.bridge.Signal().Requests())
}

func TestBridge_driveFailureDoesNotLoseWake(t *testing.T) {
	var logs syncBuffer
	h := newHarness(t, wakebridge.WithLogger(newTestLogger(&logs)))

	failing := true
	h.loop.SendErr = func(*loopfake.Async) error {
		if failing {
			return errors.New("send failed")
		}
		return nil
	}

	d1, err := h.bridge.NewDelay()
	require.NoError(t, err)
	d2, err := h.bridge.NewDelay()
	require.NoError(t, err)
	require.NoError(t, d1.Arm(10*time.Millisecond, 1))
	require.NoError(t, d2.Arm(20*time.Millisecond, 2))

	h.loop.Advance(10 * time.Millisecond)

	// woken, but not driven
	assert.Equal(t, []wakeup{{wakebridge.KindDelay, 1}}, h.exec.wakes)
	assert.Zero(t, h.exec.drives)
	assert.Equal(t, uint64(1), h.bridge.Stats().DriveFailures)
	assert.Equal(t, uint64(1), h.bridge.Signal().Failures())
	assert.Contains(t, logs.String(), `drive request failed`)
	assert.Contains(t, logs.String(), `"kind":"delay"`)

	failing = false
	h.loop.Advance(10 * time.Millisecond)

	// the next drive observes both
	assert.Equal(t, 1, h.exec.drives)
	assert.Equal(t, [][]wakebridge.Token{{1, 2}}, h.exec.drained)
}

func TestBridge_driveFailureLogsAreRateLimited(t *testing.T) {
	var logs syncBuffer
	h := newHarness(t,
		wakebridge.WithLogger(newTestLogger(&logs)),
		wakebridge.WithDriveFailureRates(map[time.Duration]int{time.Hour: 2}),
	)
	h.loop.SendErr = func(*loopfake.Async) error { return errors.New("send failed") }

	d, err := h.bridge.NewDelay()
	require.NoError(t, err)
	for i := 1; i <= 5; i++ {
		require.NoError(t, d.Arm(time.Millisecond, wakebridge.Token(i)))
		h.loop.Advance(time.Millisecond)
	}

	assert.Len(t, h.exec.wakes, 5)
	assert.Equal(t, uint64(5), h.bridge.Stats().DriveFailures)
	assert.Equal(t, 2, strings.Count(logs.String(), "wake deferred to the next drive"))
}

func TestBridge_runDrivesInitiallyThenUntilIdle(t *testing.T) {
	loop := loopfake.New()
	exec := new(recorder)
	b, err := wakebridge.New(loop, exec)
	require.NoError(t, err)

	// a task that sleeps three times, in 10ms steps
	d, err := b.NewDelay()
	require.NoError(t, err)
	exec.onDrive = func() {
		if exec.drives <= 3 {
			require.NoError(t, d.Arm(10*time.Millisecond, wakebridge.Token(exec.drives)))
		}
	}

	require.NoError(t, b.Run(context.Background()))

	assert.Equal(t, 30*time.Millisecond, loop.Now())
	assert.Equal(t, []string{
		"register",
		"drive",
		"wake delay 1", "drive",
		"wake delay 2", "drive",
		"wake delay 3", "drive",
	}, exec.events)
	assert.Equal(t, wakebridge.Stats{Wakes: 3, DriveRequests: 3, Drives: 4}, b.Stats())

	require.NoError(t, b.Close())
	assert.Equal(t, wakebridge.StateDestroyed, d.State())
}

func TestBridge_runIsNotReentrant(t *testing.T) {
	loop := loopfake.New()
	exec := new(recorder)
	b, err := wakebridge.New(loop, exec)
	require.NoError(t, err)

	var got error
	exec.onDrive = func() { got = b.Run(context.Background()) }
	require.NoError(t, b.Run(context.Background()))
	assert.ErrorIs(t, got, wakebridge.ErrBridgeRunning)
}

func TestBridge_closeTearsDownOutstandingHandles(t *testing.T) {
	h := newHarness(t)

	d, err := h.bridge.NewDelay()
	require.NoError(t, err)
	require.NoError(t, d.Arm(time.Hour, 1))
	a, err := h.bridge.NewAnimation()
	require.NoError(t, err)
	n, err := h.bridge.NewNotification()
	require.NoError(t, err)
	require.NoError(t, n.Arm(3))
	destroyed, err := h.bridge.NewDelay()
	require.NoError(t, err)
	destroyed.Destroy()

	require.NoError(t, h.bridge.Close())

	assert.Equal(t, wakebridge.StateDestroyed, d.State())
	assert.Equal(t, wakebridge.StateDestroyed, a.State())
	assert.Equal(t, wakebridge.StateDestroyed, n.State())
	assert.Equal(t, wakebridge.StateDestroyed, destroyed.State())
	assert.Equal(t, 0, h.bridge.Live())
	assert.False(t, h.loop.Pending())
	assert.Contains(t, h.loop.Trace(), "async#1 closed", "drive signal not closed")

	assert.ErrorIs(t, h.bridge.Close(), wakebridge.ErrBridgeClosed)
	assert.ErrorIs(t, h.bridge.RequestDrive(), wakebridge.ErrBridgeClosed)
	assert.ErrorIs(t, h.bridge.Run(context.Background()), wakebridge.ErrBridgeClosed)
	_, err = h.bridge.NewDelay()
	assert.ErrorIs(t, err, wakebridge.ErrBridgeClosed)
	assert.ErrorIs(t, n.Notify(), loopfake.ErrClosed)
	assert.Empty(t, h.exec.wakes)
}

func TestBridge_keepAlive(t *testing.T) {
	for _, keepAlive := range []bool{false, true} {
		t.Run(fmt.Sprint(keepAlive), func(t *testing.T) {
			loop := loopfake.New()
			b, err := wakebridge.New(loop, new(recorder), wakebridge.WithKeepAlive(keepAlive))
			require.NoError(t, err)
			require.NoError(t, b.Run(context.Background()))

			asyncs := loop.Asyncs()
			require.Len(t, asyncs, 1)
			assert.Equal(t, keepAlive, asyncs[0].HasRef())
		})
	}
}

func TestInvalidOptions(t *testing.T) {
	_, err := wakebridge.New(loopfake.New(), new(recorder), wakebridge.WithRemoteQueueSize(-1))
	assert.Error(t, err)
	_, err = wakebridge.New(nil, new(recorder))
	assert.Error(t, err)
}

func TestKind_String(t *testing.T) {
	for kind, want := range map[wakebridge.Kind]string{
		wakebridge.KindDelay:        "delay",
		wakebridge.KindAnimation:    "animation",
		wakebridge.KindNotification: "notification",
		wakebridge.KindRemote:       "remote",
		wakebridge.Kind(0):          "unknown",
	} {
		assert.Equal(t, want, kind.String())
	}
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func newTestLogger(w *syncBuffer) *logiface.Logger[logiface.Event] {
	return stumpy.L.New(
		stumpy.L.WithStumpy(stumpy.WithWriter(w), stumpy.WithTimeField(``)),
		stumpy.L.WithLevel(logiface.LevelTrace),
	).Logger()
}
