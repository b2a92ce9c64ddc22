// Package looper runs callbacks one at a time on a single goroutine, the
// shell's equivalent of a UI thread.
package looper

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"
)

// ErrQuit is returned when posting to a looper that has stopped.
var ErrQuit = errors.New("looper: quit")

// Looper is a FIFO of callbacks drained by Run.
type Looper struct {
	mu    sync.Mutex
	queue []func()
	quit  bool
	wake  chan struct{}
	done  chan struct{}
}

// New creates a looper. Callbacks posted before Run are kept until Run starts.
func New() *Looper {
	return &Looper{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
}

// Post queues fn and returns immediately. It returns false if the looper has quit.
func (l *Looper) Post(fn func()) bool {
	if fn == nil {
		return false
	}

	l.mu.Lock()
	if l.quit {
		l.mu.Unlock()
		return false
	}
	l.queue = append(l.queue, fn)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
	return true
}

// Dispatch is Post without the result, for components that take a func(func()).
func (l *Looper) Dispatch(fn func()) {
	if !l.Post(fn) {
		log.Debug().Msg("Dropping callback posted after looper quit")
	}
}

// Call runs fn on the looper and waits for its result or for ctx to end.
// Must not be called from the looper goroutine.
func (l *Looper) Call(ctx context.Context, fn func() error) error {
	result := make(chan error, 1)
	if !l.Post(func() { result <- fn() }) {
		return ErrQuit
	}

	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run drains callbacks until ctx ends or Quit is called. Callbacks already queued
// when Quit is called still run.
func (l *Looper) Run(ctx context.Context) {
	defer close(l.done)

	for {
		l.drain()

		l.mu.Lock()
		quit := l.quit && len(l.queue) == 0
		l.mu.Unlock()
		if quit {
			return
		}

		select {
		case <-ctx.Done():
			l.stop()
			return
		case <-l.wake:
		}
	}
}

// Quit stops accepting callbacks and lets Run return once the queue is empty.
func (l *Looper) Quit() {
	l.stop()
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// Done is closed when Run returns.
func (l *Looper) Done() <-chan struct{} {
	return l.done
}

func (l *Looper) stop() {
	l.mu.Lock()
	l.quit = true
	l.mu.Unlock()
}

func (l *Looper) drain() {
	for {
		l.mu.Lock()
		if len(l.queue) == 0 {
			l.mu.Unlock()
			return
		}
		batch := l.queue
		l.queue = nil
		l.mu.Unlock()

		for _, fn := range batch {
			l.run(fn)
		}
	}
}

func (l *Looper) run(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Err(fmt.Errorf("%v", r)).Msg("Looper callback panicked")
		}
	}()
	fn()
}
