// Command wakedemo runs cooperative tasks on an event loop, suspended on
// timers, animations, and a notification sent from another goroutine.
//
// Run with: go run ./cmd/wakedemo -level debug
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/joeycumines/go-wakebridge/anim"
	"github.com/joeycumines/go-wakebridge/eventloop"
	"github.com/joeycumines/go-wakebridge/executor"
	"github.com/joeycumines/go-wakebridge/wakebridge"
	"github.com/joeycumines/logiface"
	"github.com/joeycumines/stumpy"
	"github.com/tanema/gween/ease"
)

var (
	level     = flag.String("level", "info", "Log level (emerg, alert, crit, err, warning, notice, info, debug, trace)")
	tasks     = flag.Int("tasks", 3, "Number of delay tasks")
	step      = flag.Duration("step", 100*time.Millisecond, "Delay increment between tasks")
	rounds    = flag.Int("rounds", 3, "Delays per task")
	animate   = flag.Duration("animate", 500*time.Millisecond, "Animation duration (0 to disable)")
	notify    = flag.Duration("notify", 250*time.Millisecond, "Notification delay (0 to disable)")
	frame     = flag.Duration("frame", anim.DefaultFramePeriod, "Animation frame period")
	timeout   = flag.Duration("timeout", 0, "Cancel all tasks after this long (0 for no timeout)")
	keepAlive = flag.Bool("keepalive", false, "Keep the loop alive after all tasks finish (until interrupted)")
)

func main() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage of %s:\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	lvl, ok := parseLevel(*level)
	if !ok || *tasks < 0 || *rounds < 1 {
		flag.Usage()
		os.Exit(2)
	}

	logger := stumpy.L.New(
		stumpy.L.WithStumpy(stumpy.WithWriter(os.Stderr)),
		stumpy.L.WithLevel(lvl),
	).Logger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := run(ctx, logger); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		logger.Crit().Err(err).Log("wakedemo: failed")
		os.Exit(1)
	}
}

func parseLevel(s string) (logiface.Level, bool) {
	for l := logiface.LevelEmergency; l <= logiface.LevelTrace; l++ {
		if strings.EqualFold(s, l.String()) {
			return l, true
		}
	}
	return 0, false
}

func run(ctx context.Context, logger *logiface.Logger[logiface.Event]) (err error) {
	loop, err := eventloop.New(eventloop.WithLogger(logger))
	if err != nil {
		return err
	}
	defer func() {
		if e := loop.Close(); e != nil && err == nil {
			err = e
		}
	}()

	engine, err := anim.NewEngine(loop, anim.WithLogger(logger), anim.WithFramePeriod(*frame))
	if err != nil {
		return err
	}

	exec, err := executor.New(executor.WithLogger(logger))
	if err != nil {
		return err
	}

	bridge, err := wakebridge.New(
		wakebridge.NativeLoop(loop),
		exec,
		wakebridge.WithLogger(logger),
		wakebridge.WithAnimator(wakebridge.NativeAnimator(engine)),
		wakebridge.WithKeepAlive(*keepAlive),
	)
	if err != nil {
		return err
	}

	defer func() {
		// release everything, then flush close callbacks, so the loop closes
		_ = exec.Close()
		_ = bridge.Close()
		engine.Close(nil)
		_ = loop.Run(context.Background(), eventloop.RunNoWait)
	}()

	taskCtx := ctx
	if *timeout > 0 {
		var cancel context.CancelFunc
		taskCtx, cancel = context.WithTimeout(ctx, *timeout)
		defer cancel()
	}

	start := time.Now()
	group := executor.NewGroup(exec)

	for i := 0; i < *tasks; i++ {
		d := time.Duration(i+1) * *step
		if _, err := group.Go(taskCtx, func(task *executor.Task) error {
			for r := 1; r <= *rounds; r++ {
				if err := task.Delay(task.Context(), d); err != nil {
					return err
				}
				logger.Info().
					Uint64("task", task.ID()).
					Int("round", r).
					Dur("elapsed", time.Since(start).Round(time.Millisecond)).
					Log("wakedemo: delay elapsed")
			}
			return nil
		}); err != nil {
			return err
		}
	}

	if *animate > 0 {
		if _, err := group.Go(taskCtx, func(task *executor.Task) error {
			var last float32
			err := task.Animate(task.Context(), anim.Spec{
				Exec:     func(v float32) { last = v },
				Ease:     ease.OutBounce,
				Duration: *animate,
				From:     0,
				To:       100,
			})
			if err != nil {
				return err
			}
			logger.Info().
				Uint64("task", task.ID()).
				Float32("value", last).
				Dur("elapsed", time.Since(start).Round(time.Millisecond)).
				Log("wakedemo: animation completed")
			return nil
		}); err != nil {
			return err
		}
	}

	if *notify > 0 {
		n, err := bridge.NewNotification()
		if err != nil {
			return err
		}
		if _, err := group.Go(taskCtx, func(task *executor.Task) error {
			go func() {
				time.Sleep(*notify)
				if err := n.Notify(); err != nil {
					logger.Warning().Err(err).Log("wakedemo: notify failed")
				}
			}()
			if err := task.Wait(task.Context(), n); err != nil {
				return err
			}
			logger.Info().
				Uint64("task", task.ID()).
				Dur("elapsed", time.Since(start).Round(time.Millisecond)).
				Log("wakedemo: notified")
			return nil
		}); err != nil {
			return err
		}
	}

	if _, err := exec.Spawn(taskCtx, func(task *executor.Task) error {
		err := group.Wait(task.Context(), task)
		b := logger.Notice().
			Int("tasks", group.Len()).
			Dur("elapsed", time.Since(start).Round(time.Millisecond))
		if e := group.Err(); e != nil {
			b = b.Err(e)
		}
		b.Log("wakedemo: all tasks finished")
		return err
	}); err != nil {
		return err
	}

	if err := bridge.Run(ctx); err != nil {
		return err
	}

	stats := bridge.Stats()
	logger.Info().
		Uint64("wakes", stats.Wakes).
		Uint64("remote_wakes", stats.RemoteWakes).
		Uint64("drive_requests", stats.DriveRequests).
		Uint64("drives", stats.Drives).
		Uint64("drive_failures", stats.DriveFailures).
		Uint64("stale_fires", stats.StaleFires).
		Log("wakedemo: done")

	return group.Err()
}
