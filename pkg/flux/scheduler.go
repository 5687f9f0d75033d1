// Worker-pool scheduler and the SubscribeOn operator
// Subscriptions made on a worker inherit the caller's span only when propagation is enabled
package flux

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/eapache/queue"

	"github.com/andrewh/genaitrace/pkg/tracectx"
)

// ErrRejected is delivered when a scheduler refuses a subscription.
var ErrRejected = errors.New("flux: scheduler rejected task")

// Scheduler runs tasks on goroutines it owns. Schedule reports false if the
// task will never run.
type Scheduler interface {
	Schedule(task func()) bool
}

// WorkerPool is a fixed set of goroutines draining an unbounded FIFO queue.
type WorkerPool struct {
	mu      sync.Mutex
	cond    *sync.Cond
	tasks   *queue.Queue
	closed  bool
	wg      sync.WaitGroup
	onPanic func(any)
}

// NewWorkerPool starts a pool with the given number of workers (minimum one).
// onPanic, if non-nil, receives values recovered from panicking tasks.
func NewWorkerPool(workers int, onPanic func(any)) *WorkerPool {
	if workers < 1 {
		workers = 1
	}
	p := &WorkerPool{tasks: queue.New(), onPanic: onPanic}
	p.cond = sync.NewCond(&p.mu)
	for range workers {
		p.wg.Go(p.work)
	}
	return p
}

// Schedule enqueues task. It returns false once the pool is closed.
func (p *WorkerPool) Schedule(task func()) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return false
	}
	p.tasks.Add(task)
	p.cond.Signal()
	return true
}

// Pending returns the number of queued tasks not yet picked up by a worker.
func (p *WorkerPool) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.tasks.Length()
}

// Close stops accepting tasks, lets workers drain the queue, and waits for them.
func (p *WorkerPool) Close() {
	p.mu.Lock()
	p.closed = true
	p.cond.Broadcast()
	p.mu.Unlock()
	p.wg.Wait()
}

func (p *WorkerPool) work() {
	for {
		p.mu.Lock()
		for p.tasks.Length() == 0 && !p.closed {
			p.cond.Wait()
		}
		if p.tasks.Length() == 0 {
			p.mu.Unlock()
			return
		}
		task := p.tasks.Remove().(func())
		p.mu.Unlock()
		p.run(task)
	}
}

func (p *WorkerPool) run(task func()) {
	defer func() {
		if r := recover(); r != nil && p.onPanic != nil {
			p.onPanic(r)
		}
	}()
	task()
}

// SubscribeOn returns a publisher that subscribes to pub from a task on s.
// The span context of the subscribing ctx crosses the hop only when
// tracectx.PropagationEnabled(ctx); otherwise the upstream sees a detached
// context. Cancellation and values always cross.
func SubscribeOn[T any](pub Publisher[T], s Scheduler) Publisher[T] {
	return PublisherFunc[T](func(ctx context.Context) Subscription[T] {
		hopCtx := ctx
		if !tracectx.PropagationEnabled(ctx) {
			hopCtx = tracectx.Detach(ctx)
		}

		var (
			mu        sync.Mutex
			upstream  Subscription[T]
			cancelled bool
		)
		out := NewPipe[T](func() {
			mu.Lock()
			cancelled = true
			up := upstream
			mu.Unlock()
			if up != nil {
				up.Cancel()
			}
		})

		ok := s.Schedule(func() {
			up, err := subscribeSafely(hopCtx, pub)
			if err != nil {
				go out.Terminate(Error[T](err))
				return
			}
			mu.Lock()
			upstream = up
			c := cancelled
			mu.Unlock()
			if c {
				up.Cancel()
			}
			go Forward(up, out)
		})
		if !ok {
			go out.Terminate(Error[T](ErrRejected))
		}
		return out
	})
}

func subscribeSafely[T any](ctx context.Context, pub Publisher[T]) (sub Subscription[T], err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("flux: subscribe panic: %v", r)
		}
	}()
	return pub.Subscribe(ctx), nil
}

// Forward copies every signal from up to out. Elements refused by a cancelled
// out are dropped while up keeps draining. If up closes without a terminal
// signal, out is closed the same way.
func Forward[T any](up Subscription[T], out *Pipe[T]) {
	for sig := range up.Signals() {
		if sig.Terminal() {
			out.Terminate(sig)
			return
		}
		out.Next(sig.Value)
	}
	out.Close()
}
