// Signal types delivered on a subscription channel
// A subscription yields zero or more Next signals followed by exactly one terminal signal
package flux

import "fmt"

// Kind identifies the variant carried by a Signal.
type Kind uint8

const (
	KindNext Kind = iota
	KindComplete
	KindError
	KindCancel
)

func (k Kind) String() string {
	switch k {
	case KindNext:
		return "next"
	case KindComplete:
		return "complete"
	case KindError:
		return "error"
	case KindCancel:
		return "cancel"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Signal is one event of a subscription. Value is set for KindNext,
// Err for KindError.
type Signal[T any] struct {
	Kind  Kind
	Value T
	Err   error
}

// Next returns an element signal.
func Next[T any](v T) Signal[T] { return Signal[T]{Kind: KindNext, Value: v} }

// Complete returns a normal completion signal.
func Complete[T any]() Signal[T] { return Signal[T]{Kind: KindComplete} }

// Error returns a failure signal carrying err.
func Error[T any](err error) Signal[T] { return Signal[T]{Kind: KindError, Err: err} }

// Cancel returns a cancellation signal.
func Cancel[T any]() Signal[T] { return Signal[T]{Kind: KindCancel} }

// Terminal reports whether the signal ends its subscription.
func (s Signal[T]) Terminal() bool {
	return s.Kind != KindNext
}

func (s Signal[T]) String() string {
	switch s.Kind {
	case KindNext:
		return fmt.Sprintf("next(%v)", s.Value)
	case KindError:
		return fmt.Sprintf("error(%v)", s.Err)
	default:
		return s.Kind.String()
	}
}
