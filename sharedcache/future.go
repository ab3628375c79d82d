package sharedcache

import "context"

// Future is a single top-level async result per read, the channel-
// delivered completion in place of nested, chained futures.
type Future struct {
	wait func(ctx context.Context) (int, error)
}

// Wait blocks until the future resolves or ctx is done.
func (f Future) Wait(ctx context.Context) (int, error) {
	return f.wait(ctx)
}

func resolved(n int, err error) Future {
	return Future{wait: func(context.Context) (int, error) { return n, err }}
}

func fromDone(done <-chan struct{}, resolve func() (int, error)) Future {
	return Future{wait: func(ctx context.Context) (int, error) {
		select {
		case <-done:
			return resolve()
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}}
}
