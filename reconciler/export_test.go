package reconciler

// ForceCheck starts a check even while another is in flight
func (r *Reconciler) ForceCheck() {
	r.post(func() { r.check(normalCheck, true) })
}

// SetResultHook observes every fetch result once the loop has handled it. Call before Start.
func (r *Reconciler) SetResultHook(f func(seq uint64)) {
	r.resultHook = f
}

// Sync returns once every event posted before it has run
func (r *Reconciler) Sync() {
	done := make(chan struct{})
	r.post(func() { close(done) })
	select {
	case <-done:
	case <-r.done:
	}
}

// Seq returns how many checks have been started
func (r *Reconciler) Seq() uint64 {
	result := make(chan uint64, 1)
	r.post(func() { result <- r.seq })
	select {
	case seq := <-result:
		return seq
	case <-r.done:
		return 0
	}
}
