// Package cacheexec is the bounded worker pool that populateAndRead
// writer callbacks run on. The pool hands each callback a Token; the
// shared cache's positional writes neither take nor check one, so the
// Token marks pool callbacks without restricting who may write.
package cacheexec

import (
	"context"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"
)

// Token is handed to every callback a Pool runs, in place of a
// thread-pool-name string. Its only field is unexported, but the empty
// literal Token{} can still be written in any package, so holding a
// Token does not prove the holder runs on a Pool goroutine.
type Token struct {
	_ struct{} // unexported field
}

// Pool is a bounded concurrency executor for cache-fetch writer
// callbacks, using a semaphore.Weighted the same way a walk limiter
// bounds concurrent filesystem walkers.
type Pool struct {
	sem *semaphore.Weighted
}

// NewPool builds a Pool that runs at most concurrency callbacks at once.
func NewPool(concurrency int64) *Pool {
	if concurrency <= 0 {
		concurrency = 1
	}
	return &Pool{sem: semaphore.NewWeighted(concurrency)}
}

// Go runs fn on a pool goroutine once a slot is free, without blocking
// the caller. If ctx is canceled while waiting for a slot, fn never runs
// and the acquire error is the result. The result is delivered on the
// returned channel (buffered, always sent to exactly once).
func (p *Pool) Go(ctx context.Context, fn func(Token) error) <-chan error {
	result := make(chan error, 1)
	go func() {
		if err := p.sem.Acquire(ctx, 1); err != nil {
			result <- errors.Wrap(err, "cacheexec: acquire slot")
			return
		}
		defer p.sem.Release(1)
		defer func() {
			if r := recover(); r != nil {
				logrus.WithField("panic", r).Error("cacheexec: writer callback panicked")
				result <- errors.Errorf("cacheexec: panic: %v", r)
			}
		}()
		result <- fn(Token{})
	}()
	return result
}
