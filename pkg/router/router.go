// Package router is the routing contract every protocol handler consumes: a
// pure decision, made per request, of whether a key is served locally or
// redirected to its owning node. It's advisory; actually performing the
// redirect is protocol-specific and up to the caller.
package router

import (
	"context"

	"github.com/adammck/rangegate/pkg/api"
)

// PartitionView is the subset of the partition manager the router consults.
type PartitionView interface {
	IsResponsibleFor(k api.Key) bool
	ResponsibleNode(k api.Key) (api.NodeDescriptor, bool)
}

// Decision says whether to serve a request locally or redirect it. When
// Local is false, Target carries everything a caller needs to re-issue the
// request (id, host, ports).
type Decision struct {
	Local  bool
	Target api.NodeDescriptor
}

type Router struct {
	self api.NodeID
	view PartitionView
}

func New(self api.NodeID, view PartitionView) *Router {
	return &Router{
		self: self,
		view: view,
	}
}

// Decide classifies a key. Call it before mutating any local state on a
// write, and re-evaluate on every request: the partition table can change
// between requests, so decisions must never be cached.
//
// It never fails. A node with no peers and no assigned range serves
// everything itself (single-node behavior), and a key matching no range is
// redirected to the view's fallback node.
func (r *Router) Decide(k api.Key) Decision {
	if r.view.IsResponsibleFor(k) {
		return Decision{Local: true}
	}

	target, ok := r.view.ResponsibleNode(k)
	if !ok || target.ID == r.self {
		// No better owner known than ourselves.
		return Decision{Local: true}
	}

	return Decision{Target: target}
}

// RequestHandler serves the requests a service actually understands, once
// the router has decided they're local. One implementation per service,
// composed with the shared Router by each transport's handler.
type RequestHandler interface {
	HandleLocal(ctx context.Context, key api.Key, req string) (string, error)
}
