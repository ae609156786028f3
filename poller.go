package rtu485

import (
	"sync"
	"time"
)

// Poller drives one or more register managers on a fixed interval. A single
// goroutine ticks them all: RTU transactions serialize on the shared bus
// anyway, so per-manager goroutines would only contend on the transporter
// lock.
type Poller struct {
	interval time.Duration
	managers []*RegisterManager
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewPoller creates a poller. Intervals at or below zero fall back to one
// second.
func NewPoller(interval time.Duration) *Poller {
	if interval <= 0 {
		interval = time.Second
	}
	return &Poller{
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

// AddManager registers a manager with the poller. Add managers before
// calling Start.
func (p *Poller) AddManager(m *RegisterManager) {
	p.managers = append(p.managers, m)
}

// Start launches the polling loop. The first pass runs after one interval.
func (p *Poller) Start() {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()
		for {
			select {
			case <-p.stopCh:
				return
			case <-ticker.C:
				for _, m := range p.managers {
					m.Poll()
				}
			}
		}
	}()
}

// Stop halts polling and waits for any in-flight pass to finish. Safe to
// call more than once.
func (p *Poller) Stop() {
	p.stopOnce.Do(func() {
		close(p.stopCh)
	})
	p.wg.Wait()
}
