package ingress

import (
	"context"
	"errors"
	"sync"
)

// Pool holds one Server per port for the life of the process.
type Pool struct {
	base Options

	mu      sync.Mutex
	servers map[int]*Server
}

// NewPool creates a pool; base supplies everything but the port.
func NewPool(base Options) *Pool {
	return &Pool{
		base:    base,
		servers: make(map[int]*Server),
	}
}

// Get returns the started server for port, creating it on first use.
// A failed start is not cached, so a later Get retries the bind.
func (p *Pool) Get(port int) (*Server, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if s, ok := p.servers[port]; ok {
		return s, nil
	}

	opts := p.base
	opts.Port = port
	s := NewServer(opts)
	if err := s.Start(); err != nil {
		return nil, err
	}
	p.servers[port] = s
	return s, nil
}

// Close shuts every server down. Only called at process exit.
func (p *Pool) Close(ctx context.Context) error {
	p.mu.Lock()
	servers := p.servers
	p.servers = make(map[int]*Server)
	p.mu.Unlock()

	var errs []error
	for _, s := range servers {
		if err := s.Close(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
