// Package mock provides an in-memory Discoverer for tests.
package mock

import (
	"context"
	"sync"

	"github.com/adammck/rangegate/pkg/api"
	"github.com/adammck/rangegate/pkg/discovery"
)

type Discovery struct {
	mu    sync.RWMutex
	nodes map[api.ServiceType][]api.NodeDescriptor

	// Err, when set, is returned by Discover to simulate an unreachable
	// gateway.
	Err error
}

var _ discovery.Discoverer = (*Discovery)(nil)

func New() *Discovery {
	return &Discovery{
		nodes: map[api.ServiceType][]api.NodeDescriptor{},
	}
}

// interface

func (d *Discovery) Register(_ context.Context, nd api.NodeDescriptor) error {
	d.Add(nd)
	return nil
}

func (d *Discovery) Discover(_ context.Context, t api.ServiceType) ([]api.NodeDescriptor, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.Err != nil {
		return nil, d.Err
	}

	nodes, ok := d.nodes[t]
	if !ok {
		return []api.NodeDescriptor{}, nil
	}

	out := make([]api.NodeDescriptor, len(nodes))
	copy(out, nodes)
	return out, nil
}

// test helpers

func (d *Discovery) Set(t api.ServiceType, nodes []api.NodeDescriptor) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nodes[t] = nodes
}

func (d *Discovery) Add(nd api.NodeDescriptor) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nodes[nd.Service] = append(d.nodes[nd.Service], nd)
}

func (d *Discovery) SetErr(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.Err = err
}
