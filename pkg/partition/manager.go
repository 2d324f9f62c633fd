package partition

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/adammck/rangegate/pkg/api"
	"github.com/adammck/rangegate/pkg/config"
	"github.com/adammck/rangegate/pkg/discovery"
	"github.com/lthibault/jitterbug"
	"go.uber.org/zap"
)

// Manager maintains one node's view of the partitioning of its service type:
// a merge-only membership view fed by discovery, and a partition table
// derived from it. It answers the two routing questions ("is this key mine"
// and "whose key is this") from the last known-good table, so routing always
// makes progress even when discovery is down.
//
// The view and table are owned solely by this manager. Other nodes have their
// own, reconciled only through discovery; they may transiently disagree.
type Manager struct {
	self  api.NodeDescriptor
	disc  discovery.Discoverer
	watch Watcher
	cfg   config.Config
	log   *zap.Logger

	// evMu serializes each view change with the watcher calls it produces.
	// Always acquired before mu, and held across the callbacks, so events
	// never overlap and never arrive out of order with respect to the view
	// changes they describe.
	evMu sync.Mutex

	mu      sync.RWMutex
	nodes   map[api.NodeID]api.NodeDescriptor
	table   Table
	myRange api.Range
	mine    bool // whether myRange is set

	start   sync.Once
	stop    sync.Once
	cancel  context.CancelFunc
	done    chan struct{}
	tickers sync.WaitGroup
}

func New(cfg config.Config, self api.NodeDescriptor, disc discovery.Discoverer, watch Watcher, log *zap.Logger) *Manager {
	if watch == nil {
		watch = NopWatcher{}
	}

	m := &Manager{
		self:  self,
		disc:  disc,
		watch: watch,
		cfg:   cfg,
		log:   log,
		nodes: map[api.NodeID]api.NodeDescriptor{},
		table: Table{},
		done:  make(chan struct{}),
	}

	// A node always knows about itself, so a node with zero peers still
	// converges to owning the unbounded range.
	m.nodes[self.ID] = self

	return m
}

// Start launches the three periodic tasks: discovery, rebalance evaluation,
// and metadata sync. They're independent; none blocks another.
func (m *Manager) Start(ctx context.Context) {
	m.start.Do(func() {
		ctx, m.cancel = context.WithCancel(ctx)

		m.tickers.Add(3)
		go m.discoverLoop(ctx)
		go m.rebalanceLoop(ctx)
		go m.syncLoop(ctx)

		m.log.Info("partition manager started", zap.String("node", string(m.self.ID)))
	})
}

// Stop cancels the periodic tasks and waits for them to exit. Pending
// post-event rebalances are dropped.
func (m *Manager) Stop() {
	if m.cancel == nil {
		return
	}
	m.stop.Do(func() {
		m.cancel()
		close(m.done)
	})
	m.tickers.Wait()
}

func (m *Manager) discoverLoop(ctx context.Context) {
	defer m.tickers.Done()

	// First discovery immediately; a node shouldn't wait ten seconds to learn
	// it has peers.
	m.discover(ctx)

	t := jitterbug.New(m.cfg.DiscoveryInterval, &jitterbug.Norm{Stdev: m.cfg.DiscoveryInterval / 10})
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			m.discover(ctx)
		}
	}
}

func (m *Manager) rebalanceLoop(ctx context.Context) {
	defer m.tickers.Done()

	select {
	case <-ctx.Done():
		return
	case <-time.After(m.cfg.RebalanceDelay):
		m.Rebalance()
	}

	t := jitterbug.New(m.cfg.RebalanceInterval, &jitterbug.Norm{Stdev: m.cfg.RebalanceInterval / 10})
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			m.Rebalance()
		}
	}
}

func (m *Manager) syncLoop(ctx context.Context) {
	defer m.tickers.Done()

	t := jitterbug.New(m.cfg.MetadataSyncInterval, &jitterbug.Norm{Stdev: m.cfg.MetadataSyncInterval / 10})
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			m.synchronizeMetadata()
		}
	}
}

// discover polls for the current membership and merges newly seen nodes into
// the view. Nodes absent from a response are never removed: absence isn't
// proof of death, only the failure detector decides that, and we learn about
// it when the dead node stops appearing and is eventually removed via
// RemoveNode or a fresh process. Network errors are swallowed; the next cycle
// retries.
func (m *Manager) discover(ctx context.Context) {
	res, err := m.disc.Discover(ctx, m.self.Service)
	if err != nil {
		m.log.Debug("discovery failed", zap.Error(err))
		return
	}

	m.evMu.Lock()
	defer m.evMu.Unlock()

	m.mu.Lock()
	changed := false
	for _, nd := range res {
		if _, ok := m.nodes[nd.ID]; !ok {
			m.nodes[nd.ID] = nd
			changed = true
			m.log.Info("discovered node", zap.String("node", string(nd.ID)))
		}
	}
	var snapshot []api.NodeDescriptor
	if changed {
		snapshot = m.membershipLocked()
	}
	m.mu.Unlock()

	if changed {
		m.watch.TopologyChanged(snapshot)
	}
}

// Rebalance recomputes the partition table from the current view and, if it
// differs from the previous table, swaps it in atomically and notifies the
// watcher. Concurrent readers observe either the old table or the new one,
// never a mix.
func (m *Manager) Rebalance() {
	m.evMu.Lock()
	defer m.evMu.Unlock()

	m.mu.Lock()

	if len(m.nodes) == 0 {
		m.mu.Unlock()
		return
	}

	ids := make([]api.NodeID, 0, len(m.nodes))
	for id := range m.nodes {
		ids = append(ids, id)
	}

	next := Compute(ids, m.self.ID)
	if next.Equal(m.table) {
		m.mu.Unlock()
		return
	}

	oldRange, hadRange := m.myRange, m.mine
	m.table = next
	m.myRange, m.mine = next[m.self.ID]

	newRange, mine := m.myRange, m.mine
	m.mu.Unlock()

	m.log.Info("partition table changed", zap.Int("nodes", len(ids)))

	if !mine {
		return
	}

	m.watch.RangeAssigned(newRange)

	if hadRange && oldRange != newRange {
		m.watch.MigrationNeeded(api.Migration{Old: oldRange, New: newRange})
	}
}

// synchronizeMetadata would reconcile partition metadata with peers. There's
// nothing to reconcile yet; the task exists so the schedule is already in
// place when there is.
func (m *Manager) synchronizeMetadata() {}

// IsResponsibleFor returns whether this node's current range contains the
// key. False until the first rebalance has assigned one.
func (m *Manager) IsResponsibleFor(k api.Key) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.mine && m.myRange.Contains(k)
}

// ResponsibleNode returns the node whose range contains the key. When no
// range matches, it falls back to the first known node (in sorted id order,
// for determinism) rather than failing, so routing keeps making progress
// during convergence gaps. Returns false only when no nodes are known at
// all, which can't happen after New, since a node always knows itself.
func (m *Manager) ResponsibleNode(k api.Key) (api.NodeDescriptor, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if id, ok := m.table.Owner(k); ok {
		if nd, ok := m.nodes[id]; ok {
			return nd, true
		}
	}

	if len(m.nodes) == 0 {
		return api.NodeDescriptor{}, false
	}

	ids := make([]api.NodeID, 0, len(m.nodes))
	for id := range m.nodes {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	return m.nodes[ids[0]], true
}

// AddNode merges a node learned out-of-band (e.g. from a registration
// callback) and schedules a prompt rebalance, so convergence doesn't wait for
// the next periodic cycle.
func (m *Manager) AddNode(nd api.NodeDescriptor) {
	m.evMu.Lock()
	defer m.evMu.Unlock()

	m.mu.Lock()
	if _, ok := m.nodes[nd.ID]; ok {
		m.mu.Unlock()
		return
	}
	m.nodes[nd.ID] = nd
	snapshot := m.membershipLocked()
	m.mu.Unlock()

	m.log.Info("node added", zap.String("node", string(nd.ID)))
	m.watch.TopologyChanged(snapshot)
	m.scheduleRebalance(m.cfg.PostAddDelay)
}

// RemoveNode drops a node from the view and schedules a prompt rebalance.
// This is the only way a node leaves the view; discovery never removes.
func (m *Manager) RemoveNode(id api.NodeID) {
	m.evMu.Lock()
	defer m.evMu.Unlock()

	m.mu.Lock()
	if _, ok := m.nodes[id]; !ok {
		m.mu.Unlock()
		return
	}
	delete(m.nodes, id)
	snapshot := m.membershipLocked()
	m.mu.Unlock()

	m.log.Info("node removed", zap.String("node", string(id)))
	m.watch.TopologyChanged(snapshot)
	m.scheduleRebalance(m.cfg.PostRemoveDelay)
}

func (m *Manager) scheduleRebalance(after time.Duration) {
	go func() {
		select {
		case <-m.done:
		case <-time.After(after):
			m.Rebalance()
		}
	}()
}

// Membership returns a copy of the current view, sorted by id.
func (m *Manager) Membership() []api.NodeDescriptor {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.membershipLocked()
}

// Caller must hold m.mu (read or write).
func (m *Manager) membershipLocked() []api.NodeDescriptor {
	out := make([]api.NodeDescriptor, 0, len(m.nodes))
	for _, nd := range m.nodes {
		out = append(out, nd)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Ranges returns a copy of the current table.
func (m *Manager) Ranges() Table {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(Table, len(m.table))
	for id, r := range m.table {
		out[id] = r
	}
	return out
}

// MyRange returns this node's current range, if one has been assigned.
func (m *Manager) MyRange() (api.Range, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.myRange, m.mine
}
