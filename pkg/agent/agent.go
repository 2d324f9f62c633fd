// Package agent is the runtime every service node embeds: it registers the
// node with the gateway, answers liveness probes, keeps the partition manager
// running, and hands out routing decisions to the service's protocol
// handlers.
package agent

import (
	"context"
	"fmt"

	"github.com/adammck/rangegate/pkg/api"
	"github.com/adammck/rangegate/pkg/config"
	"github.com/adammck/rangegate/pkg/discovery"
	"github.com/adammck/rangegate/pkg/partition"
	"github.com/adammck/rangegate/pkg/router"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

type Agent struct {
	self api.NodeDescriptor
	disc discovery.Discoverer
	pm   *partition.Manager
	rtr  *router.Router
	hb   *HeartbeatResponder
	log  *zap.Logger
}

// New wires up a node. The watcher may be nil if the service doesn't care
// about partitioning events.
func New(cfg config.Config, self api.NodeDescriptor, disc discovery.Discoverer, watch partition.Watcher, log *zap.Logger) (*Agent, error) {
	hb, err := NewHeartbeatResponder(self.UDPPort, log)
	if err != nil {
		return nil, err
	}

	pm := partition.New(cfg, self, disc, watch, log)

	return &Agent{
		self: self,
		disc: disc,
		pm:   pm,
		rtr:  router.New(self.ID, pm),
		hb:   hb,
		log:  log,
	}, nil
}

// Manager exposes the partition manager, mostly for membership inspection.
func (a *Agent) Manager() *partition.Manager {
	return a.pm
}

// Router returns the routing decision-maker protocol handlers should consult
// on every request.
func (a *Agent) Router() *router.Router {
	return a.rtr
}

// Run registers the node, then serves until the context is cancelled.
// Registration failure (after the discoverer's own retries) is fatal: a node
// nobody can discover is useless.
func (a *Agent) Run(ctx context.Context) error {
	if err := a.disc.Register(ctx, a.self); err != nil {
		a.hb.conn.Close()
		return fmt.Errorf("registering with gateway: %w", err)
	}
	a.log.Info("registered", zap.String("node", string(a.self.ID)))

	a.pm.Start(ctx)
	defer a.pm.Stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return a.hb.Run(ctx)
	})

	return g.Wait()
}
