// Producer side of a subscription: an ordered signal channel plus a cancel latch
// Guarantees one terminal signal per subscription and never blocks a producer after Cancel
package flux

import "sync"

// Pipe carries the signals of one subscription. The consumer sees it as a
// Subscription; the producer calls Next and then exactly one of Terminate or
// Close. Next, Terminate and Close must be called from a single goroutine.
type Pipe[T any] struct {
	signals    chan Signal[T]
	done       chan struct{}
	cancelOnce sync.Once
	closeOnce  sync.Once
	onCancel   func()
}

// NewPipe creates a Pipe. onCancel, if non-nil, runs once when the consumer
// cancels, before Cancel returns.
func NewPipe[T any](onCancel func()) *Pipe[T] {
	return &Pipe[T]{
		signals:  make(chan Signal[T], 1),
		done:     make(chan struct{}),
		onCancel: onCancel,
	}
}

// Signals returns the ordered signal channel. It is closed after the terminal signal.
func (p *Pipe[T]) Signals() <-chan Signal[T] {
	return p.signals
}

// Cancel requests cancellation. Safe to call from any goroutine, any number of times.
func (p *Pipe[T]) Cancel() {
	p.cancelOnce.Do(func() {
		close(p.done)
		if p.onCancel != nil {
			p.onCancel()
		}
	})
}

// Done is closed once the consumer has cancelled.
func (p *Pipe[T]) Done() <-chan struct{} {
	return p.done
}

// Cancelled reports whether the consumer has cancelled.
func (p *Pipe[T]) Cancelled() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

// Next hands v to the consumer. It returns false without delivering once the
// consumer has cancelled.
func (p *Pipe[T]) Next(v T) bool {
	if p.Cancelled() {
		return false
	}
	select {
	case p.signals <- Next(v):
		return true
	case <-p.done:
		return false
	}
}

// Terminate delivers the terminal signal and closes the channel. A non-terminal
// sig is treated as Complete. If the consumer has cancelled, any undelivered
// element is dropped and Cancel is delivered instead, without blocking.
func (p *Pipe[T]) Terminate(sig Signal[T]) {
	if !sig.Terminal() {
		sig = Complete[T]()
	}
	p.closeOnce.Do(func() {
		defer close(p.signals)
		if !p.Cancelled() {
			select {
			case p.signals <- sig:
				return
			case <-p.done:
			}
		}
		select {
		case <-p.signals:
		default:
		}
		p.signals <- Cancel[T]()
	})
}

// Close closes the channel without a terminal signal. It mirrors an upstream
// that ended without signalling an outcome.
func (p *Pipe[T]) Close() {
	p.closeOnce.Do(func() {
		close(p.signals)
	})
}
