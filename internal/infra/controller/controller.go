// Package controller runs periodic reconciliation loops that keep background
// state healthy: stuck analysis jobs are failed and old audit entries purged.
//
// Each controller runs in its own goroutine. A failed reconciliation is
// logged and retried on the next tick; it never stops the other loops.
package controller

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/agencyhub/api/pkg/logger"
)

// Controller is one reconciliation loop.
type Controller interface {
	Name() string
	Interval() time.Duration

	// Reconcile must be idempotent. It returns the number of items it changed.
	Reconcile(ctx context.Context) (int, error)
}

// Metrics records reconciliation runs.
type Metrics interface {
	RecordReconcile(controller string, items int, duration time.Duration, err error)
}

// ErrAlreadyRunning is returned by Run when the manager is already running.
var ErrAlreadyRunning = errors.New("controller manager already running")

// Manager runs registered controllers until its context is canceled.
type Manager struct {
	mu          sync.Mutex
	controllers []Controller
	running     bool
	metrics     Metrics
	logger      *logger.Logger
}

// NewManager creates a Manager. metrics may be nil.
func NewManager(metrics Metrics, log *logger.Logger) *Manager {
	return &Manager{
		metrics: metrics,
		logger:  log.With("component", "controller-manager"),
	}
}

// Register adds a controller. It panics when called on a running manager.
func (m *Manager) Register(c Controller) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		panic("controller: register on running manager")
	}
	m.controllers = append(m.controllers, c)
	m.logger.Info("controller registered", "name", c.Name(), "interval", c.Interval().String())
}

// Names returns the registered controller names.
func (m *Manager) Names() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	names := make([]string, len(m.controllers))
	for i, c := range m.controllers {
		names[i] = c.Name()
	}
	return names
}

// Run starts every controller and blocks until ctx is canceled and all
// loops have returned.
func (m *Manager) Run(ctx context.Context) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return ErrAlreadyRunning
	}
	m.running = true
	controllers := append([]Controller(nil), m.controllers...)
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		m.running = false
		m.mu.Unlock()
	}()

	m.logger.Info("starting controllers", "count", len(controllers))

	var wg sync.WaitGroup
	for _, c := range controllers {
		wg.Add(1)
		go func(c Controller) {
			defer wg.Done()
			m.loop(ctx, c)
		}(c)
	}
	wg.Wait()

	m.logger.Info("controllers stopped")
	return nil
}

// RunOnce runs a single reconciliation of the named controller.
func (m *Manager) RunOnce(ctx context.Context, name string) (int, error) {
	m.mu.Lock()
	var target Controller
	for _, c := range m.controllers {
		if c.Name() == name {
			target = c
			break
		}
	}
	m.mu.Unlock()

	if target == nil {
		return 0, errors.New("controller: unknown controller " + name)
	}
	return m.reconcile(ctx, target)
}

func (m *Manager) loop(ctx context.Context, c Controller) {
	_, _ = m.reconcile(ctx, c)

	ticker := time.NewTicker(c.Interval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.logger.Debug("controller stopping", "name", c.Name())
			return
		case <-ticker.C:
			_, _ = m.reconcile(ctx, c)
		}
	}
}

func (m *Manager) reconcile(ctx context.Context, c Controller) (int, error) {
	name := c.Name()
	start := time.Now()

	rctx, cancel := context.WithTimeout(ctx, c.Interval())
	defer cancel()

	n, err := c.Reconcile(rctx)
	elapsed := time.Since(start)

	switch {
	case err != nil:
		m.logger.Error("reconcile failed", "name", name, "duration", elapsed, "error", err)
	case n > 0:
		m.logger.Info("reconcile completed", "name", name, "items", n, "duration", elapsed)
	default:
		m.logger.Debug("reconcile completed", "name", name, "duration", elapsed)
	}

	if m.metrics != nil {
		m.metrics.RecordReconcile(name, n, elapsed, err)
	}
	return n, err
}
