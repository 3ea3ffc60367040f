package orchestrator

import "sync"

// invoiceLocks serializes mutations per invoice id. Locks are created on
// first use and kept for the process lifetime; invoice ids are few enough
// that eviction is not worth the bookkeeping.
type invoiceLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newInvoiceLocks() *invoiceLocks {
	return &invoiceLocks{locks: make(map[string]*sync.Mutex)}
}

func (l *invoiceLocks) lock(invoiceID string) *sync.Mutex {
	l.mu.Lock()
	m, ok := l.locks[invoiceID]
	if !ok {
		m = &sync.Mutex{}
		l.locks[invoiceID] = m
	}
	l.mu.Unlock()

	m.Lock()
	return m
}
