package rabbitmq

import "sync/atomic"

// PauseFlag is shared by the UI and every worker. While set, workers drop
// deliveries instead of forwarding them.
type PauseFlag struct {
	v atomic.Bool
}

func (p *PauseFlag) Paused() bool { return p.v.Load() }

func (p *PauseFlag) Set(paused bool) { p.v.Store(paused) }

// Toggle flips the flag and returns the new value.
func (p *PauseFlag) Toggle() bool {
	for {
		old := p.v.Load()
		if p.v.CompareAndSwap(old, !old) {
			return !old
		}
	}
}
