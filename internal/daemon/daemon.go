// Package daemon supervises the background loops that keep the store
// tidy while the server runs.
package daemon

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Task is one background loop; it returns when ctx is cancelled or on
// an unrecoverable error.
type Task func(ctx context.Context) error

type Manager struct {
	logger *slog.Logger
	tasks  map[string]Task
	wg     sync.WaitGroup
}

func NewManager(logger *slog.Logger) *Manager {
	return &Manager{
		logger: logger,
		tasks:  make(map[string]Task),
	}
}

func (m *Manager) Add(name string, task Task) {
	m.tasks[name] = task
}

// Start launches every registered task. Crashed tasks restart after a
// short backoff until ctx is cancelled.
func (m *Manager) Start(ctx context.Context) {
	for name, task := range m.tasks {
		m.wg.Add(1)
		go m.run(ctx, name, task)
	}
}

// Wait blocks until all tasks have stopped.
func (m *Manager) Wait() {
	m.wg.Wait()
}

func (m *Manager) run(ctx context.Context, name string, task Task) {
	defer m.wg.Done()

	for {
		err := task(ctx)
		if ctx.Err() != nil {
			m.logger.Info("daemon stopped", slog.String("name", name))
			return
		}
		if err != nil {
			m.logger.Error("daemon crashed, restarting",
				slog.String("name", name),
				slog.String("error", err.Error()))
			select {
			case <-ctx.Done():
				return
			case <-time.After(2 * time.Second):
			}
			continue
		}
		m.logger.Info("daemon exited", slog.String("name", name))
		return
	}
}
