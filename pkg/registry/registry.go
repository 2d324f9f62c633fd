// Package registry tracks which nodes exist for each service type, whether
// they're healthy, and which one should take the next request. It's the
// single authoritative copy of membership; everything else in the system
// works from snapshots of it.
package registry

import (
	"sync"

	"github.com/adammck/rangegate/pkg/api"
	"go.uber.org/zap"
)

type Registry struct {
	mu sync.RWMutex

	// Descriptors per service type, in registration order. Pointers, because
	// the registry owns the mutable health fields.
	nodes map[api.ServiceType][]*api.NodeDescriptor

	// Last index handed out by SelectRoundRobin, per type. The cursor and the
	// healthy list size must be read-modify-written together, which is why
	// selection takes the write lock.
	cursor map[api.ServiceType]int

	log *zap.Logger
}

func New(log *zap.Logger) *Registry {
	return &Registry{
		nodes:  map[api.ServiceType][]*api.NodeDescriptor{},
		cursor: map[api.ServiceType]int{},
		log:    log,
	}
}

// Register upserts a node by identity. If a node with equal identity is
// already present, its entry is replaced (refreshing health); otherwise the
// node is appended. Registering the first node of a type resets that type's
// round-robin cursor.
func (r *Registry) Register(d api.NodeDescriptor) {
	r.mu.Lock()
	defer r.mu.Unlock()

	nodes := r.nodes[d.Service]

	for i, n := range nodes {
		if n.Ident(d) {
			nodes[i] = &d
			r.log.Info("refreshed registration", zap.String("node", string(d.ID)))
			return
		}
	}

	r.nodes[d.Service] = append(nodes, &d)
	if len(r.nodes[d.Service]) == 1 {
		r.cursor[d.Service] = -1
	}

	r.log.Info("registered node",
		zap.String("service", string(d.Service)),
		zap.String("node", string(d.ID)),
		zap.String("host", d.Host))
}

// Deregister removes a node by identity. Removing an absent node is not an
// error.
func (r *Registry) Deregister(d api.NodeDescriptor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.remove(d)
}

// Caller must hold r.mu.
func (r *Registry) remove(d api.NodeDescriptor) {
	nodes := r.nodes[d.Service]

	for i, n := range nodes {
		if n.Ident(d) {
			r.nodes[d.Service] = append(nodes[:i], nodes[i+1:]...)
			r.log.Info("deregistered node", zap.String("node", string(d.ID)))
			return
		}
	}
}

// MarkSuspect flags a node as having missed a probe. Suspect nodes stay in
// the healthy rotation; only death removes them.
func (r *Registry) MarkSuspect(d api.NodeDescriptor) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if n := r.find(d); n != nil {
		n.Suspect = true
	}
}

// MarkHealthy clears a node's suspicion and refreshes its heartbeat time.
func (r *Registry) MarkHealthy(d api.NodeDescriptor) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if n := r.find(d); n != nil {
		n.Healthy = true
		n.Suspect = false
		n.LastHeartbeat = d.LastHeartbeat
	}
}

// MarkDead flags a node as dead and removes it from the registry. Dead nodes
// are not retained; a node that comes back must re-register.
func (r *Registry) MarkDead(d api.NodeDescriptor) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if n := r.find(d); n != nil {
		n.Healthy = false
		n.Suspect = false
	}
	r.remove(d)
}

// Caller must hold r.mu.
func (r *Registry) find(d api.NodeDescriptor) *api.NodeDescriptor {
	for _, n := range r.nodes[d.Service] {
		if n.Ident(d) {
			return n
		}
	}
	return nil
}

// ListHealthy returns copies of the healthy nodes of one type, in
// registration order. An unknown type is an empty list, not an error.
func (r *Registry) ListHealthy(t api.ServiceType) []api.NodeDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.listHealthy(t)
}

// Caller must hold r.mu (read or write).
func (r *Registry) listHealthy(t api.ServiceType) []api.NodeDescriptor {
	out := []api.NodeDescriptor{}
	for _, n := range r.nodes[t] {
		if n.Healthy {
			out = append(out, *n)
		}
	}
	return out
}

// SelectRoundRobin returns the next healthy node of the given type, cycling
// through the current healthy list. Returns false if there are none.
// Selection is serialized: no two callers observe the same cursor value.
func (r *Registry) SelectRoundRobin(t api.ServiceType) (api.NodeDescriptor, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	healthy := r.listHealthy(t)
	if len(healthy) == 0 {
		return api.NodeDescriptor{}, false
	}

	next := (r.cursor[t] + 1) % len(healthy)
	r.cursor[t] = next

	return healthy[next], true
}

// All returns a copy of every registered node, grouped by type. The failure
// detector probes from this snapshot.
func (r *Registry) All() map[api.ServiceType][]api.NodeDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := map[api.ServiceType][]api.NodeDescriptor{}
	for t, nodes := range r.nodes {
		cp := make([]api.NodeDescriptor, len(nodes))
		for i, n := range nodes {
			cp[i] = *n
		}
		out[t] = cp
	}
	return out
}
