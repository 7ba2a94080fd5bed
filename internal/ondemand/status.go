package ondemand

import "time"

// Status is a point-in-time snapshot of the pool for the admin status
// route (§6.2 GET /on-demand/status).
type Status struct {
	PoolSize            int       `json:"poolSize"`
	InFlight            int       `json:"inFlight"`
	Paused              bool      `json:"paused"`
	PausedUntil         time.Time `json:"pausedUntil,omitempty"`
	AbortedSessionCount int       `json:"abortedSessionCount"`
}

// Status reports the pool's current size, in-flight request count, and
// pause state.
func (p *Pool) Status() Status {
	p.mu.Lock()
	defer p.mu.Unlock()

	s := Status{
		PoolSize:            len(p.workers),
		InFlight:            len(p.inflight),
		Paused:              p.paused.Load(),
		AbortedSessionCount: len(p.abortedSIDs),
	}
	if s.Paused {
		s.PausedUntil = time.Unix(0, p.pauseUntil.Load())
	}
	return s
}
