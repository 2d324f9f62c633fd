package api

import "fmt"

// Migration describes a change to a node's own range after a rebalance. It's
// a notification only: no data transfer happens, and nothing here carries the
// keys themselves. Services that care can hook MigrationNeeded and move data
// out of band.
type Migration struct {
	Old Range
	New Range
}

func (m Migration) String() string {
	return fmt.Sprintf("migration needed: %s -> %s", m.Old, m.New)
}
