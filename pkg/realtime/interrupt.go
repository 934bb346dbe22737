package realtime

// Interrupter cancels all scheduled and playing output on barge-in. It only
// touches the output path; capture keeps streaming.
type Interrupter struct {
	sched  *Scheduler
	notify func(stopped int)
}

func NewInterrupter(sched *Scheduler, notify func(stopped int)) *Interrupter {
	return &Interrupter{sched: sched, notify: notify}
}

// Interrupt stops every tracked unit and resets the cursor to the current
// output time. It returns how many units were stopped and is a no-op on an
// empty set.
func (i *Interrupter) Interrupt() int {
	stopped := i.cancelAll()
	if stopped > 0 && i.notify != nil {
		i.notify(stopped)
	}
	return stopped
}

// cancelAll is Interrupt without the notification, used during teardown.
func (i *Interrupter) cancelAll() int {
	s := i.sched

	s.mu.Lock()
	units := s.units
	output := s.output

	now := s.cursor
	if output != nil {
		now = output.Now()
	}

	for _, u := range units {
		// detach first so the stop below cannot run normal completion
		u.detached = true
		stopAt := max(now, u.Start)
		if u.handle != nil {
			u.handle.Stop(stopAt)
			u.handle.Release()
		}
	}
	stopped := len(units)

	s.units = make(map[uint64]*PlaybackUnit)
	s.speaking = false
	if output != nil {
		s.cursor = now
	}
	s.mu.Unlock()

	// Suspend may wait on the device thread, whose ended callbacks take s.mu
	if stopped > 0 && output != nil && output.State() == OutputRunning {
		if err := output.Suspend(); err != nil {
			s.logger.Debug("output suspend failed", "error", err)
		}
	}
	return stopped
}
