package swarm

import "sync/atomic"

// Progress tracks bytes confirmed written to disk so the orchestrator can
// report an accurate "left" value on each re-announce.
type Progress struct {
	completed int64
}

// Add records n more bytes as durably written.
func (p *Progress) Add(n int64) {
	atomic.AddInt64(&p.completed, n)
}

// Completed returns the total bytes written so far.
func (p *Progress) Completed() int64 {
	return atomic.LoadInt64(&p.completed)
}
