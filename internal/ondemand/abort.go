package ondemand

import (
	"time"
)

// DefaultPauseWindow and MaxPauseWindow bound the global pause set by
// /on-demand/abort-all (§4.7).
const (
	DefaultPauseWindow = 60 * time.Second
	MaxPauseWindow     = 5 * time.Minute
)

// AbortSession marks sid as aborted for abortedSessionTTL and drops any
// queued-but-not-started requests carrying it.
func (p *Pool) AbortSession(sid string) {
	if sid == "" {
		return
	}
	p.mu.Lock()
	p.abortedSIDs[sid] = time.Now().Add(abortedSessionTTL)
	p.pruneAbortedSessionsLocked()
	p.mu.Unlock()

	p.cancelQueued(func(r Request) bool { return r.SessionID == sid }, ErrSessionAborted)
}

func (p *Pool) pruneAbortedSessionsLocked() {
	now := time.Now()
	for sid, expiry := range p.abortedSIDs {
		if now.After(expiry) {
			delete(p.abortedSIDs, sid)
		}
	}
}

// cancelQueued drains any queued job matching pred from the job channel
// before a worker picks it up, fulfilling its waiters with reason.
// Jobs already handed to a worker are unaffected; the worker process
// itself is not interrupted mid-render.
func (p *Pool) cancelQueued(pred func(Request) bool, reason error) {
	var kept []*queuedRequest
	draining := true
	for draining {
		select {
		case qr := <-p.jobs:
			if pred(qr.req) {
				p.mu.Lock()
				delete(p.inflight, qr.req.dedupKey())
				p.mu.Unlock()
				for _, w := range qr.waiters {
					w <- Response{Err: reason}
				}
			} else {
				kept = append(kept, qr)
			}
		default:
			draining = false
		}
	}
	for _, qr := range kept {
		p.jobs <- qr
	}
}

// AbortAll implements the global pause of §4.7: sets a pause window
// (clamped to MaxPauseWindow), drains every queued request with
// ErrAborted, and leaves in-progress renders to finish on their own.
func (p *Pool) AbortAll(window time.Duration) {
	if window <= 0 {
		window = DefaultPauseWindow
	}
	if window > MaxPauseWindow {
		window = MaxPauseWindow
	}
	p.paused.Store(true)
	p.pauseUntil.Store(time.Now().Add(window).UnixNano())
	p.cancelQueued(func(Request) bool { return true }, ErrAborted)
}
