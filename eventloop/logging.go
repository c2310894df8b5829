package eventloop

const (
	phaseTimer = "timer"
	phaseAsync = "async"
	phaseClose = "close"
)

func (l *Loop) logPanic(phase string, r any) {
	l.logger.Err().
		Uint64("loop_id", l.id).
		Str("phase", phase).
		Any("panic", r).
		Log("eventloop: callback panicked")
}

func (l *Loop) logPollError(err error) {
	l.logger.Crit().
		Uint64("loop_id", l.id).
		Err(err).
		Log("eventloop: poll failed")
}
