package service

import (
	"context"
	"sync"

	"github.com/kjstillabower/weather-proxy-service/internal/models"
)

// inFlightResolve is one check-then-insert sequence that later callers for the
// same key wait on instead of starting their own.
type inFlightResolve struct {
	done    chan struct{}
	cancel  context.CancelFunc
	waiters int
	result  models.WeatherRecord
	err     error
}

// resolveCoalescer guards the check-then-insert sequence per normalized city so
// that concurrent misses within one process produce one upstream call and one
// insert.
type resolveCoalescer struct {
	mu       sync.Mutex
	inFlight map[string]*inFlightResolve
}

func newResolveCoalescer() *resolveCoalescer {
	return &resolveCoalescer{inFlight: make(map[string]*inFlightResolve)}
}

// Do runs fn for key unless a call for key is already in flight, in which case
// it waits for that call's result. shared is true for callers that waited.
// fn keeps running while at least one caller is waiting; when the last caller
// leaves, fn's context is canceled and the key is released so the next caller
// starts a new call.
func (rc *resolveCoalescer) Do(ctx context.Context, key string, fn func(context.Context) (models.WeatherRecord, error)) (rec models.WeatherRecord, shared bool, err error) {
	rc.mu.Lock()
	call, exists := rc.inFlight[key]
	if !exists {
		callCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		call = &inFlightResolve{done: make(chan struct{}), cancel: cancel}
		rc.inFlight[key] = call
		go rc.run(callCtx, key, call, fn)
	}
	call.waiters++
	rc.mu.Unlock()

	select {
	case <-call.done:
		return call.result, exists, call.err
	case <-ctx.Done():
		rc.leave(key, call)
		return models.WeatherRecord{}, exists, ctx.Err()
	}
}

// leave drops one waiter from call. The last one out cancels the call.
func (rc *resolveCoalescer) leave(key string, call *inFlightResolve) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	call.waiters--
	if call.waiters > 0 {
		return
	}
	call.cancel()
	if rc.inFlight[key] == call {
		delete(rc.inFlight, key)
	}
}

func (rc *resolveCoalescer) run(ctx context.Context, key string, call *inFlightResolve, fn func(context.Context) (models.WeatherRecord, error)) {
	defer func() {
		rc.mu.Lock()
		if rc.inFlight[key] == call {
			delete(rc.inFlight, key)
		}
		rc.mu.Unlock()
		call.cancel()
		close(call.done)
	}()
	call.result, call.err = fn(ctx)
}

func (rc *resolveCoalescer) pending() int {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return len(rc.inFlight)
}
