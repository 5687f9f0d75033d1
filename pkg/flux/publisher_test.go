// Tests for cold publishers, the signal pipe, and the iterator adapters
// Covers terminal ordering, cancellation, replay, and producer panics
package flux

import (
	"context"
	"errors"
	"iter"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func drain[T any](t *testing.T, sub Subscription[T]) []Signal[T] {
	t.Helper()
	var out []Signal[T]
	timeout := time.After(5 * time.Second)
	for {
		select {
		case sig, ok := <-sub.Signals():
			if !ok {
				return out
			}
			out = append(out, sig)
		case <-timeout:
			t.Fatal("subscription did not terminate")
			return out
		}
	}
}

func TestJustEmitsValuesThenComplete(t *testing.T) {
	t.Parallel()

	sigs := drain(t, Just(1, 2, 3).Subscribe(context.Background()))
	require.Len(t, sigs, 4)
	for i, v := range []int{1, 2, 3} {
		assert.Equal(t, KindNext, sigs[i].Kind)
		assert.Equal(t, v, sigs[i].Value)
	}
	assert.Equal(t, KindComplete, sigs[3].Kind)
}

func TestFailDeliversIdenticalError(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")
	sigs := drain(t, Fail[string](boom).Subscribe(context.Background()))
	require.Len(t, sigs, 1)
	assert.Equal(t, KindError, sigs[0].Kind)
	assert.Same(t, boom, sigs[0].Err)
}

func TestCreateIsCold(t *testing.T) {
	t.Parallel()

	runs := 0
	pub := Create(func(_ context.Context, emit func(int) bool) error {
		runs++
		emit(runs)
		return nil
	})
	assert.Equal(t, 0, runs, "nothing runs before subscribe")

	first, err := Collect(context.Background(), pub)
	require.NoError(t, err)
	second, err := Collect(context.Background(), pub)
	require.NoError(t, err)

	assert.Equal(t, []int{1}, first)
	assert.Equal(t, []int{2}, second)
}

func TestCancelBeforeFirstElement(t *testing.T) {
	t.Parallel()

	started := make(chan struct{})
	pub := Create(func(ctx context.Context, emit func(int) bool) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	})

	sub := pub.Subscribe(context.Background())
	<-started
	sub.Cancel()
	sub.Cancel()

	sigs := drain(t, sub)
	require.Len(t, sigs, 1)
	assert.Equal(t, KindCancel, sigs[0].Kind)
}

func TestCancelDropsPendingElement(t *testing.T) {
	t.Parallel()

	pub := Create(func(ctx context.Context, emit func(int) bool) error {
		for i := 0; ; i++ {
			if !emit(i) {
				return nil
			}
		}
	})

	sub := pub.Subscribe(context.Background())
	first := <-sub.Signals()
	assert.Equal(t, KindNext, first.Kind)
	sub.Cancel()

	sigs := drain(t, sub)
	require.NotEmpty(t, sigs)
	assert.Equal(t, KindCancel, sigs[len(sigs)-1].Kind)
}

func TestParentContextCancellation(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	pub := Create(func(ctx context.Context, emit func(int) bool) error {
		<-ctx.Done()
		return nil
	})

	sub := pub.Subscribe(ctx)
	cancel()
	sigs := drain(t, sub)
	require.Len(t, sigs, 1)
	assert.Equal(t, KindCancel, sigs[0].Kind)
}

func TestProducerPanicBecomesError(t *testing.T) {
	t.Parallel()

	pub := Create(func(context.Context, func(int) bool) error {
		panic("kaboom")
	})
	_, err := Collect(context.Background(), pub)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "kaboom")
}

func TestCollectReturnsContextErrorOnCancel(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	pub := Create(func(ctx context.Context, emit func(int) bool) error {
		<-ctx.Done()
		return ctx.Err()
	})
	_, err := Collect(ctx, pub)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestIterBreakCancelsUpstream(t *testing.T) {
	t.Parallel()

	stopped := make(chan struct{})
	pub := Create(func(ctx context.Context, emit func(int) bool) error {
		defer close(stopped)
		for i := 0; ; i++ {
			if !emit(i) {
				return nil
			}
		}
	})

	var got []int
	for v, err := range Iter(context.Background(), pub) {
		require.NoError(t, err)
		got = append(got, v)
		if len(got) == 3 {
			break
		}
	}
	assert.Equal(t, []int{0, 1, 2}, got)

	select {
	case <-stopped:
	case <-time.After(5 * time.Second):
		t.Fatal("producer kept running after break")
	}
}

func TestFromIter(t *testing.T) {
	t.Parallel()

	boom := errors.New("stream broke")
	pub := FromIter(func(context.Context) iter.Seq2[string, error] {
		return func(yield func(string, error) bool) {
			if !yield("a", nil) || !yield("b", nil) {
				return
			}
			yield("", boom)
		}
	})

	got, err := Collect(context.Background(), pub)
	assert.Equal(t, []string{"a", "b"}, got)
	assert.ErrorIs(t, err, boom)
}

func TestPipeCloseWithoutTerminal(t *testing.T) {
	t.Parallel()

	p := NewPipe[int](nil)
	go func() {
		p.Next(7)
		p.Close()
		p.Terminate(Complete[int]())
	}()

	var got []Signal[int]
	for sig := range p.Signals() {
		got = append(got, sig)
	}
	require.Len(t, got, 1)
	assert.Equal(t, 7, got[0].Value)

	_, err := Collect(context.Background(), PublisherFunc[int](func(context.Context) Subscription[int] {
		q := NewPipe[int](nil)
		go q.Close()
		return q
	}))
	assert.ErrorIs(t, err, ErrClosedWithoutTerminal)
}

func TestPipeTerminateNormalizesNonTerminal(t *testing.T) {
	t.Parallel()

	p := NewPipe[int](nil)
	go p.Terminate(Next(1))
	sig := <-p.Signals()
	assert.Equal(t, KindComplete, sig.Kind)
}

func TestSignalStrings(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "next(5)", Next(5).String())
	assert.Equal(t, "complete", Complete[int]().String())
	assert.Equal(t, "cancel", Cancel[int]().String())
	assert.Equal(t, "error(x)", Error[int](errors.New("x")).String())
	assert.Equal(t, "kind(9)", Kind(9).String())
}

// Every subscription ends with exactly one terminal signal as the last signal,
// however the producer and consumer behave.
func TestPropertyExactlyOneTerminal(t *testing.T) {
	t.Parallel()
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(0, 20).Draw(t, "n")
		fail := rapid.Bool().Draw(t, "fail")
		cancelAfter := rapid.IntRange(-1, 20).Draw(t, "cancelAfter")

		pub := Create(func(_ context.Context, emit func(int) bool) error {
			for i := range n {
				if !emit(i) {
					return nil
				}
			}
			if fail {
				return errors.New("fail")
			}
			return nil
		})

		sub := pub.Subscribe(context.Background())
		var sigs []Signal[int]
		received := 0
		for sig := range sub.Signals() {
			sigs = append(sigs, sig)
			if sig.Kind == KindNext {
				received++
				if received == cancelAfter {
					sub.Cancel()
				}
			}
		}

		if len(sigs) == 0 {
			t.Fatal("no signals")
		}
		terminals := 0
		for _, s := range sigs {
			if s.Terminal() {
				terminals++
			}
		}
		if terminals != 1 || !sigs[len(sigs)-1].Terminal() {
			t.Fatalf("want exactly one trailing terminal, got %v", sigs)
		}
		for i, s := range sigs[:len(sigs)-1] {
			if s.Value != i {
				t.Fatalf("out of order element %d at %d", s.Value, i)
			}
		}
	})
}
