package eventloop

import (
	"testing"
	"time"
)

func TestDefaultOptions(t *testing.T) {
	l := newTestLoop(t)

	if l.maxHandles != 0 {
		t.Errorf("expected no handle cap by default, got %d", l.maxHandles)
	}
	if l.maxPollTimeout != 10*time.Second {
		t.Errorf("expected default max poll timeout of 10s, got %s", l.maxPollTimeout)
	}
	if l.logger != nil {
		t.Error("expected no logger by default")
	}
}

func TestCustomOptions(t *testing.T) {
	var buf syncBuffer
	logger := newTestLogger(&buf)

	l := newTestLoop(t,
		WithLogger(logger),
		WithMaxHandles(7),
		WithMaxPollTimeout(time.Second),
		nil,
	)

	if l.logger != logger {
		t.Error("logger not applied")
	}
	if l.maxHandles != 7 {
		t.Errorf("expected max handles of 7, got %d", l.maxHandles)
	}
	if l.maxPollTimeout != time.Second {
		t.Errorf("expected max poll timeout of 1s, got %s", l.maxPollTimeout)
	}
}

func TestInvalidOptions(t *testing.T) {
	for name, opt := range map[string]LoopOption{
		"negative max handles":  WithMaxHandles(-1),
		"zero max poll timeout": WithMaxPollTimeout(0),
		"negative poll timeout": WithMaxPollTimeout(-time.Second),
	} {
		t.Run(name, func(t *testing.T) {
			l, err := New(opt)
			if err == nil {
				_ = l.Close()
				t.Fatal("expected an error")
			}
		})
	}
}

func TestMaxPollTimeoutBoundsPoll(t *testing.T) {
	l := newTestLoop(t, WithMaxPollTimeout(5*time.Millisecond))

	timer, err := l.NewTimer()
	if err != nil {
		t.Fatal(err)
	}
	defer timer.Close(nil)
	if err := timer.Start(time.Hour, func() {}); err != nil {
		t.Fatal(err)
	}

	l.UpdateTime()
	if d := l.pollTimeout(RunDefault); d != 5*time.Millisecond {
		t.Fatalf("expected poll timeout of 5ms, got %s", d)
	}
	if d := l.pollTimeout(RunNoWait); d != 0 {
		t.Fatalf("expected no-wait poll timeout of 0, got %s", d)
	}
}
