package partition

import (
	"github.com/adammck/rangegate/pkg/api"
)

// Watcher receives partitioning events from a Manager. Methods are called
// from the manager's background tasks, never concurrently with each other,
// and in the order the view changed. Delivery is serialized by holding a
// manager lock across the call, so watchers must not block and must not
// call back into the manager.
//
// MigrationNeeded is advisory only: the manager signals that this node's own
// range changed and data *should* move, but no transfer mechanism exists.
type Watcher interface {
	// RangeAssigned fires whenever a rebalance leaves this node with a range,
	// whether or not it changed.
	RangeAssigned(r api.Range)

	// TopologyChanged fires when the set of known nodes changes, with the new
	// membership snapshot.
	TopologyChanged(nodes []api.NodeDescriptor)

	// MigrationNeeded fires when a rebalance changed this node's own range
	// (not merely some other node's).
	MigrationNeeded(m api.Migration)
}

// NopWatcher ignores all events. Embed it to implement only the ones you
// care about.
type NopWatcher struct{}

var _ Watcher = NopWatcher{}

func (NopWatcher) RangeAssigned(api.Range)              {}
func (NopWatcher) TopologyChanged([]api.NodeDescriptor) {}
func (NopWatcher) MigrationNeeded(api.Migration)        {}
