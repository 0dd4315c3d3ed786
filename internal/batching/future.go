package batching

import (
	"context"
	"sync"

	"herald/internal/outbox"
)

// Future is the pending outcome of one submitted request, resolved exactly
// once by the flush that wrote it.
type Future struct {
	id   string
	req  outbox.EnqueueRequest
	done chan struct{}
	once sync.Once

	result *outbox.EnqueueResult
	err    error
}

func newFuture(id string, req outbox.EnqueueRequest) *Future {
	return &Future{
		id:   id,
		req:  req,
		done: make(chan struct{}),
	}
}

// ID is the correlation id assigned at submission.
func (f *Future) ID() string {
	return f.id
}

func (f *Future) Done() <-chan struct{} {
	return f.done
}

// Wait blocks until the future resolves or ctx ends. A cancelled wait does
// not withdraw the request.
func (f *Future) Wait(ctx context.Context) (*outbox.EnqueueResult, error) {
	select {
	case <-f.done:
		return f.result, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (f *Future) resolve(res *outbox.EnqueueResult) {
	f.once.Do(func() {
		f.result = res
		close(f.done)
	})
}

func (f *Future) reject(err error) {
	f.once.Do(func() {
		f.err = err
		close(f.done)
	})
}
