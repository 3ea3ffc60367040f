// Package worker runs the background workers behind the invoice service.
package worker

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// Worker is the contract every background worker implements. Start must not
// block; Stop must be safe to call more than once.
type Worker interface {
	Start(ctx context.Context) error
	Stop()
	Name() string
}

// Manager owns the registered workers and starts and stops them as a group
type Manager struct {
	mu      sync.Mutex
	workers []Worker
	logger  *zap.Logger
}

func NewManager(logger *zap.Logger) *Manager {
	return &Manager{logger: logger}
}

// Register adds a worker. Workers start in registration order and stop in
// reverse.
func (m *Manager) Register(w Worker) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.workers = append(m.workers, w)
}

// StartAll starts every registered worker. On the first failure it stops the
// workers already running and returns the error.
func (m *Manager) StartAll(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i, w := range m.workers {
		if err := w.Start(ctx); err != nil {
			m.logger.Error("worker failed to start",
				zap.String("worker", w.Name()),
				zap.Error(err))
			for j := i - 1; j >= 0; j-- {
				m.workers[j].Stop()
			}
			return err
		}
		m.logger.Info("worker started", zap.String("worker", w.Name()))
	}
	return nil
}

// StopAll stops all workers in reverse registration order
func (m *Manager) StopAll() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i := len(m.workers) - 1; i >= 0; i-- {
		m.workers[i].Stop()
		m.logger.Info("worker stopped", zap.String("worker", m.workers[i].Name()))
	}
}
