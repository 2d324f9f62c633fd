package discovery

import (
	"context"

	"github.com/adammck/rangegate/pkg/api"
)

// Discoverer finds the current set of nodes for a service type, and makes
// this node discoverable by registering it.
//
// This is not a general-purpose service discovery interface! It's just the
// specific thing the partition manager and node runtime need, to keep
// transport details (the gateway line protocol, Consul) out of everything
// else.
type Discoverer interface {
	// Register announces a node. Implementations should retry transient
	// failures themselves; callers treat an error as fatal to startup.
	Register(ctx context.Context, d api.NodeDescriptor) error

	// Discover returns the nodes currently known for the service type. An
	// empty result is not an error. Network failures are errors; callers on a
	// polling loop swallow them and retry next cycle.
	Discover(ctx context.Context, t api.ServiceType) ([]api.NodeDescriptor, error)
}
