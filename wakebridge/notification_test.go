package wakebridge_test

import (
	"sync"
	"testing"

	"github.com/joeycumines/go-wakebridge/wakebridge"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNotification_coalescesWhileArmed(t *testing.T) {
	h := newHarness(t)

	n, err := h.bridge.NewNotification()
	require.NoError(t, err)
	require.NoError(t, n.Arm(5))

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, n.Notify())
		}()
	}
	wg.Wait()

	h.loop.Drain()

	assert.Equal(t, []wakeup{{wakebridge.KindNotification, 5}}, h.exec.wakes)
	assert.Equal(t, [][]wakebridge.Token{{5}}, h.exec.drained)
	assert.Equal(t, wakebridge.StateFired, n.State())
	assert.Equal(t, uint64(10), n.Notified())
}

func TestNotification_latchesUntilArmed(t *testing.T) {
	h := newHarness(t)

	n, err := h.bridge.NewNotification()
	require.NoError(t, err)

	require.NoError(t, n.Notify())
	h.loop.Drain()
	assert.Empty(t, h.exec.wakes)

	require.NoError(t, n.Arm(9))
	tok, ok := n.Token()
	assert.True(t, ok)
	assert.Equal(t, wakebridge.Token(9), tok)

	// delivered on the next iteration, not synchronously from Arm
	assert.Empty(t, h.exec.wakes)
	h.loop.Drain()
	assert.Equal(t, []wakeup{{wakebridge.KindNotification, 9}}, h.exec.wakes)

	// consumed
	require.NoError(t, n.Arm(10))
	h.loop.Drain()
	assert.Len(t, h.exec.wakes, 1)
}

func TestNotification_cancel(t *testing.T) {
	h := newHarness(t)

	n, err := h.bridge.NewNotification()
	require.NoError(t, err)
	require.NoError(t, n.Arm(1))

	native := h.loop.Asyncs()[len(h.loop.Asyncs())-1]
	assert.True(t, native.HasRef(), "armed notification keeps the loop alive")

	assert.True(t, n.Cancel())
	assert.False(t, n.Cancel())
	assert.False(t, native.HasRef())

	require.NoError(t, n.Notify())
	h.loop.Drain()
	assert.Empty(t, h.exec.wakes)

	n.Destroy()
	h.loop.Drain()
	assert.Equal(t, wakebridge.StateDestroyed, n.State())
}

func TestRemoteWaker_deliversOnLoop(t *testing.T) {
	h := newHarness(t)

	remote := h.bridge.Remote()

	var wg sync.WaitGroup
	for i := 1; i <= 4; i++ {
		wg.Add(1)
		go func(tok wakebridge.Token) {
			defer wg.Done()
			assert.NoError(t, remote.Wake(wakebridge.KindRemote, tok))
		}(wakebridge.Token(i))
	}
	wg.Wait()

	assert.Equal(t, 4, remote.Len())
	assert.Empty(t, h.exec.wakes, "executor touched from outside the loop")

	h.loop.Drain()

	assert.Equal(t, 0, remote.Len())
	assert.Len(t, h.exec.wakes, 4)
	require.Len(t, h.exec.drained, 1)
	assert.ElementsMatch(t, []wakebridge.Token{1, 2, 3, 4}, h.exec.drained[0])
	assert.Equal(t, uint64(4), h.bridge.Stats().RemoteWakes)
}

func TestRemoteWaker_queueLimit(t *testing.T) {
	h := newHarness(t, wakebridge.WithRemoteQueueSize(2))

	remote := h.bridge.Remote()
	require.NoError(t, remote.Wake(wakebridge.KindRemote, 1))
	require.NoError(t, remote.Wake(wakebridge.KindRemote, 2))
	assert.ErrorIs(t, remote.Wake(wakebridge.KindRemote, 3), wakebridge.ErrRemoteQueueFull)

	h.loop.Drain()
	require.NoError(t, remote.Wake(wakebridge.KindRemote, 3))
	h.loop.Drain()

	assert.Equal(t, []wakeup{
		{wakebridge.KindRemote, 1},
		{wakebridge.KindRemote, 2},
		{wakebridge.KindRemote, 3},
	}, h.exec.wakes)
}

func TestRemoteWaker_closed(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.bridge.Close())
	assert.ErrorIs(t, h.bridge.Remote().Wake(wakebridge.KindRemote, 1), wakebridge.ErrBridgeClosed)
}
