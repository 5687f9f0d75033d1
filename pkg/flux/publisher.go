// Cold publishers: every Subscribe starts an independent run of the source
// Adapters between producer functions, range-over-func iterators and subscriptions
package flux

import (
	"context"
	"errors"
	"fmt"
	"iter"
)

var (
	// ErrCancelled is returned by consumers when a subscription ended with a Cancel signal.
	ErrCancelled = errors.New("flux: subscription cancelled")
	// ErrClosedWithoutTerminal is returned when a signal channel closed before any terminal signal.
	ErrClosedWithoutTerminal = errors.New("flux: signal channel closed without terminal signal")
)

// Subscription is the consumer's view of one subscription. Consumers must
// either drain Signals until it is closed or call Cancel.
type Subscription[T any] interface {
	Signals() <-chan Signal[T]
	Cancel()
}

// Publisher is a deferred, multi-signal result. Each call to Subscribe starts
// a new subscription; nothing happens before the first Subscribe.
type Publisher[T any] interface {
	Subscribe(ctx context.Context) Subscription[T]
}

// PublisherFunc adapts a function to the Publisher interface.
type PublisherFunc[T any] func(ctx context.Context) Subscription[T]

// Subscribe calls f(ctx).
func (f PublisherFunc[T]) Subscribe(ctx context.Context) Subscription[T] {
	return f(ctx)
}

// Producer emits elements until it returns. emit reports false once the
// subscription has been cancelled; the producer should then return promptly.
// ctx is cancelled when the consumer cancels.
type Producer[T any] func(ctx context.Context, emit func(T) bool) error

// Create returns a cold Publisher that runs produce on its own goroutine for
// every subscription. A nil return completes the subscription, a non-nil
// error fails it, and a cancelled context turns either into Cancel.
func Create[T any](produce Producer[T]) Publisher[T] {
	return PublisherFunc[T](func(ctx context.Context) Subscription[T] {
		ctx, cancel := context.WithCancel(ctx)
		p := NewPipe[T](cancel)
		go func() {
			defer cancel()
			p.Terminate(runProducer(ctx, produce, p.Next))
		}()
		return p
	})
}

func runProducer[T any](ctx context.Context, produce Producer[T], emit func(T) bool) (sig Signal[T]) {
	defer func() {
		if r := recover(); r != nil {
			sig = Error[T](fmt.Errorf("flux: producer panic: %v", r))
		}
	}()
	err := produce(ctx, emit)
	switch {
	case ctx.Err() != nil:
		return Cancel[T]()
	case err != nil:
		return Error[T](err)
	default:
		return Complete[T]()
	}
}

// Just returns a publisher that emits values and completes.
func Just[T any](values ...T) Publisher[T] {
	return Create(func(_ context.Context, emit func(T) bool) error {
		for _, v := range values {
			if !emit(v) {
				return nil
			}
		}
		return nil
	})
}

// Fail returns a publisher that emits no elements and fails with err.
func Fail[T any](err error) Publisher[T] {
	return Create(func(context.Context, func(T) bool) error {
		return err
	})
}

// FromIter adapts an iterator source. open is called once per subscription.
func FromIter[T any](open func(ctx context.Context) iter.Seq2[T, error]) Publisher[T] {
	return Create(func(ctx context.Context, emit func(T) bool) error {
		for v, err := range open(ctx) {
			if err != nil {
				return err
			}
			if !emit(v) {
				return nil
			}
		}
		return nil
	})
}

// Iter subscribes to pub and yields its elements. Breaking out of the loop
// cancels the subscription. A failed or cancelled subscription yields one
// final pair with a zero value and the error.
func Iter[T any](ctx context.Context, pub Publisher[T]) iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		var zero T
		sub := pub.Subscribe(ctx)
		for sig := range sub.Signals() {
			switch sig.Kind {
			case KindNext:
				if !yield(sig.Value, nil) {
					sub.Cancel()
					return
				}
			case KindComplete:
				return
			case KindError:
				yield(zero, sig.Err)
				return
			case KindCancel:
				yield(zero, cancelErr(ctx))
				return
			}
		}
		yield(zero, ErrClosedWithoutTerminal)
	}
}

// Collect subscribes to pub and gathers every element until a terminal signal.
func Collect[T any](ctx context.Context, pub Publisher[T]) ([]T, error) {
	var out []T
	for v, err := range Iter(ctx, pub) {
		if err != nil {
			return out, err
		}
		out = append(out, v)
	}
	return out, nil
}

func cancelErr(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return ErrCancelled
}
