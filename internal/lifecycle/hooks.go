// Package lifecycle runs registered callbacks once when the process is
// about to exit.
package lifecycle

import (
	"context"
	"os"
	"os/signal"
	"sync"

	"github.com/rs/zerolog"
)

// Hooks is a registry of shutdown callbacks.
type Hooks struct {
	mu     sync.Mutex
	fns    []func()
	done   bool
	logger zerolog.Logger
}

// New creates an empty registry.
func New(logger zerolog.Logger) *Hooks {
	return &Hooks{
		logger: logger.With().Str("component", "lifecycle").Logger(),
	}
}

// OnShutdown registers fn. Registering after Run has started is a no-op.
func (h *Hooks) OnShutdown(fn func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.done {
		h.logger.Warn().Msg("Shutdown hook registered after shutdown, ignoring")
		return
	}
	h.fns = append(h.fns, fn)
}

// Run executes the registered hooks, newest first. Only the first call has
// any effect.
func (h *Hooks) Run() {
	h.mu.Lock()
	if h.done {
		h.mu.Unlock()
		return
	}
	h.done = true
	fns := h.fns
	h.fns = nil
	h.mu.Unlock()

	h.logger.Debug().Int("hooks", len(fns)).Msg("Running shutdown hooks")

	for i := len(fns) - 1; i >= 0; i-- {
		h.runOne(fns[i])
	}
}

func (h *Hooks) runOne(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			h.logger.Error().Interface("panic", r).Msg("Shutdown hook panicked")
		}
	}()
	fn()
}

// WaitForSignal blocks until one of sigs arrives or ctx is done, then runs
// the hooks. It returns the signal received, or nil on cancellation.
func (h *Hooks) WaitForSignal(ctx context.Context, sigs ...os.Signal) os.Signal {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, sigs...)
	defer signal.Stop(sigChan)

	var received os.Signal
	select {
	case received = <-sigChan:
		h.logger.Info().Str("signal", received.String()).Msg("Shutdown signal received")
	case <-ctx.Done():
		h.logger.Info().Msg("Shutdown requested")
	}

	h.Run()
	return received
}
