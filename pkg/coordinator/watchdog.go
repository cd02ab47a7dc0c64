package coordinator

import "time"

// watch samples the counters so a request is noticed even when no worker
// reaches a safe point, and forces termination once the break deadline
// passes without quiescence.
func (c *Coordinator) watch() {
	defer close(c.watchDone)

	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.watchStop:
			return
		case <-c.finished:
			return
		case now := <-ticker.C:
			c.tick(now)
		}
	}
}

func (c *Coordinator) tick(now time.Time) {
	if c.terminated() {
		return
	}

	c.mu.Lock()
	c.absorbLocked(now)
	overdue := c.breakRequested && !c.quiesced &&
		!c.deadline.IsZero() && !now.Before(c.deadline)
	c.mu.Unlock()

	if overdue {
		c.force(now)
	}
}
