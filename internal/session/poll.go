package session

import (
	"time"
)

// poll issues check requests for s until it reaches a terminal status, is
// cancelled or superseded, or the controller is closed. The next tick is
// scheduled only after the previous response has been applied, so at most
// one check per session is ever in flight.
func (c *Controller) poll(s *session) {
	timer := time.NewTimer(c.interval)
	defer timer.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-timer.C:
		}

		resp, err := c.transport.Check(s.ctx, s.id)
		if !c.applyCheck(s, resp, err) {
			return
		}
		timer.Reset(c.interval)
	}
}
