// Package engine supervises the long-running loops.
package engine

import (
	"context"
	"errors"
	"log/slog"
	"runtime/debug"
	"sync"

	"github.com/alekspetrov/overseer/internal/logging"
)

// Loop is a long-running component driven by the engine. Run blocks until
// ctx is cancelled.
type Loop interface {
	Name() string
	Run(ctx context.Context) error
}

// Engine runs each registered loop in its own goroutine. A panicking loop
// is logged and isolated; the other loops keep running.
type Engine struct {
	loops  []Loop
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
	log    *slog.Logger
}

func New() *Engine {
	ctx, cancel := context.WithCancel(context.Background())
	return &Engine{
		ctx:    ctx,
		cancel: cancel,
		log:    logging.WithComponent("engine"),
	}
}

// Register adds a loop. Must be called before Start.
func (e *Engine) Register(l Loop) {
	e.loops = append(e.loops, l)
}

// Start launches all registered loops.
func (e *Engine) Start() {
	for _, l := range e.loops {
		e.wg.Add(1)
		go func(l Loop) {
			defer e.wg.Done()
			defer func() {
				if r := recover(); r != nil {
					e.log.Error("loop panicked", "loop", l.Name(), "panic", r, "stack", string(debug.Stack()))
				}
			}()
			e.log.Info("starting loop", "loop", l.Name())
			if err := l.Run(e.ctx); err != nil && !errors.Is(err, context.Canceled) {
				e.log.Error("loop exited", "loop", l.Name(), "error", err)
				return
			}
			e.log.Info("loop stopped", "loop", l.Name())
		}(l)
	}
}

// Stop cancels all loops and waits for them to exit.
func (e *Engine) Stop() {
	e.cancel()
	e.wg.Wait()
}
