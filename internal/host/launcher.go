package host

import (
	"context"
	"sync"

	"github.com/charmbracelet/log"
)

// Environment creates and destroys the audio host. At most one host exists
// at a time.
type Environment interface {
	// CreateHost starts a host. It fails with ErrHostExists when one is
	// running and with ErrCreationInProgress during a concurrent creation.
	CreateHost(ctx context.Context) error
	// DestroyHost stops the running host and waits for it to exit. It
	// returns ErrNoHost when there is nothing to destroy.
	DestroyHost(ctx context.Context) error
	// HasHost reports whether a host is running.
	HasHost() bool
}

// Factory builds a fresh host for each creation.
type Factory func() *Host

// Launcher is the in-process Environment: each host runs on its own goroutine.
type Launcher struct {
	factory Factory
	logger  *log.Logger

	mu       sync.Mutex
	running  *instance
	creating bool
}

type instance struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// NewLauncher creates a launcher that builds hosts with factory.
func NewLauncher(factory Factory) *Launcher {
	return &Launcher{factory: factory, logger: log.WithPrefix("launcher")}
}

// CreateHost implements Environment.
func (l *Launcher) CreateHost(ctx context.Context) error {
	l.mu.Lock()
	switch {
	case l.running != nil:
		l.mu.Unlock()
		return ErrHostExists
	case l.creating:
		l.mu.Unlock()
		return ErrCreationInProgress
	}
	l.creating = true
	l.mu.Unlock()

	defer func() {
		l.mu.Lock()
		l.creating = false
		l.mu.Unlock()
	}()

	if err := ctx.Err(); err != nil {
		return err
	}

	h := l.factory()
	hctx, cancel := context.WithCancel(context.Background())
	inst := &instance{cancel: cancel, done: make(chan struct{})}

	go func() {
		defer close(inst.done)
		if err := h.Run(hctx); err != nil {
			l.logger.Error("Host exited", "err", err)
		}
	}()

	l.mu.Lock()
	l.running = inst
	l.mu.Unlock()

	l.logger.Debug("Host created")
	return nil
}

// DestroyHost implements Environment.
func (l *Launcher) DestroyHost(ctx context.Context) error {
	l.mu.Lock()
	inst := l.running
	l.running = nil
	l.mu.Unlock()

	if inst == nil {
		return ErrNoHost
	}

	inst.cancel()
	select {
	case <-inst.done:
		l.logger.Debug("Host destroyed")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// HasHost implements Environment.
func (l *Launcher) HasHost() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.running != nil
}
