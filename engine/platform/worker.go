package platform

import (
	"context"
	"fmt"
	"runtime"
	"sync"

	"github.com/spaghettifunk/vmsvga3d/engine/core"
)

type response struct {
	value interface{}
	err   error
}

type request struct {
	fn    func() (interface{}, error)
	reply chan response
}

// Worker runs requests on one goroutine locked to its OS thread. Window system
// and driver objects that must be created and destroyed on the same thread go
// through it; every request carries its own reply channel as completion signal.
type Worker struct {
	name     string
	requests chan request
	quit     chan struct{}
	wg       sync.WaitGroup

	mutex    sync.Mutex
	isClosed bool
}

func NewWorker(name string) *Worker {
	w := &Worker{
		name:     name,
		requests: make(chan request),
		quit:     make(chan struct{}),
	}
	w.wg.Add(1)
	go w.loop()
	return w
}

func (w *Worker) loop() {
	defer w.wg.Done()
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	core.LogDebug("platform worker %s started", w.name)
	for {
		select {
		case req := <-w.requests:
			v, err := w.run(req.fn)
			req.reply <- response{value: v, err: err}
		case <-w.quit:
			core.LogDebug("platform worker %s stopped", w.name)
			return
		}
	}
}

func (w *Worker) run(fn func() (interface{}, error)) (v interface{}, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("platform worker %s: request panicked: %v", w.name, r)
			core.LogError(err.Error())
		}
	}()
	return fn()
}

// Do blocks until fn ran on the worker thread or ctx is done. A request that
// was already handed to the worker still runs to completion.
func (w *Worker) Do(ctx context.Context, fn func() (interface{}, error)) (interface{}, error) {
	w.mutex.Lock()
	closed := w.isClosed
	w.mutex.Unlock()
	if closed {
		return nil, core.ErrWorkerClosed
	}

	req := request{fn: fn, reply: make(chan response, 1)}
	select {
	case w.requests <- req:
	case <-w.quit:
		return nil, core.ErrWorkerClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	select {
	case res := <-req.reply:
		return res.value, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Call is Do with a typed result.
func Call[T any](ctx context.Context, w *Worker, fn func() (T, error)) (T, error) {
	v, err := w.Do(ctx, func() (interface{}, error) {
		return fn()
	})
	if err != nil {
		var zero T
		return zero, err
	}
	t, _ := v.(T)
	return t, nil
}

func (w *Worker) Close() error {
	w.mutex.Lock()
	if w.isClosed {
		w.mutex.Unlock()
		return core.ErrWorkerClosed
	}
	w.isClosed = true
	w.mutex.Unlock()

	close(w.quit)
	w.wg.Wait()
	return nil
}
