// Package detector converts silence into health-state transitions. It
// periodically probes every registered node over its datagram port, marks
// nodes suspect when they miss a probe, and removes them from the registry
// after enough consecutive misses.
package detector

import (
	"context"
	"sync"
	"time"

	"github.com/adammck/rangegate/pkg/api"
	"github.com/adammck/rangegate/pkg/config"
	"github.com/adammck/rangegate/pkg/registry"
	"github.com/lthibault/jitterbug"
	"go.uber.org/zap"
)

// Prober checks whether a single node is alive. The real one speaks UDP; see
// UDPProber. Tests inject their own.
type Prober interface {
	Probe(ctx context.Context, d api.NodeDescriptor) error
}

// ProberFunc adapts a plain function to the Prober interface.
type ProberFunc func(ctx context.Context, d api.NodeDescriptor) error

func (f ProberFunc) Probe(ctx context.Context, d api.NodeDescriptor) error {
	return f(ctx, d)
}

type Detector struct {
	reg    *registry.Registry
	prober Prober

	interval  time.Duration
	timeout   time.Duration
	maxMissed int

	// Consecutive missed probes per node. A node with no entry has missed
	// nothing. Guarded by mu, since probes run concurrently.
	missed map[api.NodeID]int
	mu     sync.Mutex

	log *zap.Logger
}

func New(cfg config.Config, reg *registry.Registry, prober Prober, log *zap.Logger) *Detector {
	return &Detector{
		reg:       reg,
		prober:    prober,
		interval:  cfg.HeartbeatInterval,
		timeout:   cfg.HeartbeatTimeout,
		maxMissed: cfg.MaxMissedHeartbeats,
		missed:    map[api.NodeID]int{},
		log:       log,
	}
}

// Forget drops the missed-probe counter for a node. Call it when a node
// re-registers, so misses accumulated against a previous incarnation don't
// count against the new one.
func (det *Detector) Forget(id api.NodeID) {
	det.mu.Lock()
	delete(det.missed, id)
	det.mu.Unlock()
}

// Run probes all registered nodes on a jittered interval until the context is
// cancelled.
func (det *Detector) Run(ctx context.Context) error {
	ticker := jitterbug.New(det.interval, &jitterbug.Norm{Stdev: det.interval / 10})
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			det.Tick(ctx)
		}
	}
}

// Tick probes every currently registered node once. Probes fan out so that
// one slow node never delays the others, and Tick waits for all of them.
func (det *Detector) Tick(ctx context.Context) {
	var wg sync.WaitGroup

	for _, nodes := range det.reg.All() {
		for _, node := range nodes {
			if !node.Healthy {
				continue
			}

			wg.Add(1)
			go func(n api.NodeDescriptor) {
				defer wg.Done()
				det.probeOne(ctx, n)
			}(node)
		}
	}

	wg.Wait()
}

func (det *Detector) probeOne(ctx context.Context, n api.NodeDescriptor) {
	ctx, cancel := context.WithTimeout(ctx, det.timeout)
	defer cancel()

	err := det.prober.Probe(ctx, n)
	if err == nil {
		// Any successful probe resets the node all the way to healthy,
		// whatever state it was in.
		det.mu.Lock()
		delete(det.missed, n.ID)
		det.mu.Unlock()

		n.LastHeartbeat = time.Now()
		det.reg.MarkHealthy(n)
		return
	}

	// Timeout and unreachable are the same thing here: a missed probe.
	det.mu.Lock()
	det.missed[n.ID]++
	missed := det.missed[n.ID]
	if missed >= det.maxMissed {
		delete(det.missed, n.ID)
	}
	det.mu.Unlock()

	if missed >= det.maxMissed {
		det.log.Warn("node is dead",
			zap.String("node", string(n.ID)),
			zap.Int("missed", missed),
			zap.Error(err))
		det.reg.MarkDead(n)
		return
	}

	det.log.Info("node missed probe",
		zap.String("node", string(n.ID)),
		zap.Int("missed", missed),
		zap.Int("max", det.maxMissed))
	det.reg.MarkSuspect(n)
}
