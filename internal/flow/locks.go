package flow

import "sync"

// phoneLocks serializes inbound processing per phone number so two rapid
// webhook deliveries for the same patient cannot race on conversation state.
type phoneLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newPhoneLocks() *phoneLocks {
	return &phoneLocks{locks: make(map[string]*sync.Mutex)}
}

// lock acquires the mutex for phone, creating it on first use, and returns
// the unlock function.
func (p *phoneLocks) lock(phone string) func() {
	p.mu.Lock()
	m, ok := p.locks[phone]
	if !ok {
		m = &sync.Mutex{}
		p.locks[phone] = m
	}
	p.mu.Unlock()

	m.Lock()
	return m.Unlock
}
