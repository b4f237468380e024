package tokenize

import "sync/atomic"

// Pool keeps idle tokenizer instances for reuse, so that a worker pool
// loads at most one vocabulary per concurrently running worker.
type Pool struct {
	factory Factory
	idle    chan Tokenizer
	loads   atomic.Int64
}

// NewPool returns a pool holding up to size idle instances created by
// factory.
func NewPool(size int, factory Factory) *Pool {
	return &Pool{factory: factory, idle: make(chan Tokenizer, max(1, size))}
}

// Get checks out an idle instance, or creates one when none is idle.
func (p *Pool) Get() (Tokenizer, error) {
	select {
	case t := <-p.idle:
		return t, nil
	default:
	}
	t, err := p.factory()
	if err != nil {
		return nil, err
	}
	p.loads.Add(1)
	return t, nil
}

// Put returns an instance obtained from Get. Instances beyond the pool size
// are dropped.
func (p *Pool) Put(t Tokenizer) {
	select {
	case p.idle <- t:
	default:
	}
}

// Loads returns how many instances the factory has created.
func (p *Pool) Loads() int64 {
	return p.loads.Load()
}
