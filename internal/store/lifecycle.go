package store

import (
	"context"
	"sync"

	"github.com/hashicorp/go-hclog"
)

type connState int

const (
	stateUnconnected connState = iota
	stateConnected
	stateDisposed
)

// lifecycle tracks the Unconnected -> Connected -> Disposed transitions of
// a driver and guarantees the backend handle is released exactly once.
type lifecycle struct {
	mu         sync.Mutex
	state      connState
	connect    func(ctx context.Context) error
	disconnect func() error
	logger     hclog.Logger
}

func newLifecycle(logger hclog.Logger, connect func(ctx context.Context) error, disconnect func() error) *lifecycle {
	return &lifecycle{
		connect:    connect,
		disconnect: disconnect,
		logger:     logger,
	}
}

// start connects immediately unless lazy is set.
func (l *lifecycle) start(ctx context.Context, lazy bool) error {
	if lazy {
		return nil
	}
	return l.ready(ctx)
}

// ready returns nil once the backend is connected, connecting first if
// needed. A failed connect leaves the driver unconnected so a later call
// can retry.
func (l *lifecycle) ready(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	switch l.state {
	case stateConnected:
		return nil
	case stateDisposed:
		return ErrNotConnected
	}

	if err := l.connect(ctx); err != nil {
		return err
	}
	l.state = stateConnected
	l.logger.Debug("connected")
	return nil
}

// close releases the backend handle. Calling it again is a no-op.
func (l *lifecycle) close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	prev := l.state
	l.state = stateDisposed
	if prev != stateConnected {
		return nil
	}
	if err := l.disconnect(); err != nil {
		l.logger.Warn("failed to release backend", "error", err)
		return err
	}
	l.logger.Debug("disconnected")
	return nil
}
