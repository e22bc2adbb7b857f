package asyncstorage

// Pending is the completion handle returned by every Storage operation.
// Storage settles handles before returning them, so Await never blocks.
type Pending[T any] struct {
	done  chan struct{}
	value T
	err   error
}

func settled[T any](value T, err error) *Pending[T] {
	p := &Pending[T]{done: make(chan struct{}), value: value, err: err}
	close(p.done)
	return p
}

// Done is closed once the operation has completed.
func (p *Pending[T]) Done() <-chan struct{} {
	return p.done
}

// Await waits for completion and returns the result.
func (p *Pending[T]) Await() (T, error) {
	<-p.done
	return p.value, p.err
}

// Err waits for completion and returns only the error.
func (p *Pending[T]) Err() error {
	<-p.done
	return p.err
}
