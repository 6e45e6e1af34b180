package engine

import "time"

// flushWorker rewrites the snapshot whenever the dirty flag is set. A short
// batch delay lets a burst of mutations land in one rewrite. Sync failures
// never abort the process: they are logged and posted to the health channel,
// and the dirty flag is cleared either way so the loop cannot spin on a
// persistently failing disk.
func (e *Engine) flushWorker() {
	defer close(e.flusherDone)
	for {
		if e.dirty.Load() {
			if e.sleepOrStop(e.opts.FlushDelay) {
				return
			}
			e.mu.Lock()
			if e.dirty.Load() {
				if err := e.syncToFileLocked(); err != nil {
					e.log.WithError(err).Error("flusher sync failed")
					select {
					case e.health <- err:
					default:
					}
				}
				e.dirty.Store(false)
			}
			e.mu.Unlock()
		} else if e.sleepOrStop(e.opts.IdleDelay) {
			return
		}
	}
}

// sleepOrStop reports whether the flusher was asked to stop while sleeping.
func (e *Engine) sleepOrStop(d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-e.stopFlusher:
		return true
	case <-t.C:
		return false
	}
}

// Health delivers flusher sync failures. Reads are optional; the channel
// holds at most one pending error and the flusher never blocks on it.
func (e *Engine) Health() <-chan error {
	return e.health
}

// Dirty reports whether un-flushed mutations exist.
func (e *Engine) Dirty() bool {
	return e.dirty.Load()
}
