package pool

import "context"

// FaultFunc reports an asynchronous error or disconnect on a live
// connection. It may be called from any goroutine, any number of times;
// calls after the first are ignored.
type FaultFunc func(err error)

// Factory creates and destroys the underlying connection handles.
//
// Create receives the identifier the pool assigned to the new connection
// and the FaultFunc to call when the handle later breaks. The context
// carries values but is never cancelled by the pool, so implementations
// must bound their own dial time. Teardown is best effort; its error is
// logged by the pool and otherwise ignored.
type Factory[T any] interface {
	Create(ctx context.Context, id string, onFault FaultFunc) (T, error)
	Teardown(ctx context.Context, handle T) error
}

// FactoryFuncs adapts a pair of functions to Factory. A nil TeardownFunc
// makes Teardown a no-op.
type FactoryFuncs[T any] struct {
	CreateFunc   func(ctx context.Context, id string, onFault FaultFunc) (T, error)
	TeardownFunc func(ctx context.Context, handle T) error
}

// Create calls CreateFunc.
func (f FactoryFuncs[T]) Create(ctx context.Context, id string, onFault FaultFunc) (T, error) {
	return f.CreateFunc(ctx, id, onFault)
}

// Teardown calls TeardownFunc when set.
func (f FactoryFuncs[T]) Teardown(ctx context.Context, handle T) error {
	if f.TeardownFunc == nil {
		return nil
	}
	return f.TeardownFunc(ctx, handle)
}
