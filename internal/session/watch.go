package session

// Watch returns a channel that receives a snapshot after every change,
// starting with the current one. Only the latest snapshot is buffered: a
// slow reader skips intermediate states but never misses the newest.
// The returned func stops the subscription and closes the channel.
func (c *Controller) Watch() (<-chan Session, func()) {
	ch := make(chan Session, 1)

	c.mu.Lock()
	id := c.nextWatch
	c.nextWatch++
	c.watchers[id] = ch
	ch <- c.sess.Clone()
	c.mu.Unlock()

	return ch, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if w, ok := c.watchers[id]; ok {
			close(w)
			delete(c.watchers, id)
		}
	}
}

// notifyLocked fans the current snapshot out to all watchers.
func (c *Controller) notifyLocked() {
	if len(c.watchers) == 0 {
		return
	}
	snap := c.sess.Clone()
	for _, ch := range c.watchers {
		select {
		case ch <- snap:
		default:
			// Replace the stale snapshot.
			select {
			case <-ch:
			default:
			}
			ch <- snap
		}
	}
}
