package api

import (
	"fmt"
	"time"
)

// ServiceType names one kind of partitioned service, e.g. "userservice".
// Each service type is partitioned independently.
type ServiceType string

// NodeID is the unique ident of one service instance. It must be stable for
// the lifetime of the process, since partition assignment is derived from the
// sorted list of these.
type NodeID string

// NodeDescriptor identifies one running instance of a service: where it is,
// which ports it listens on, and (as seen by the registry) how healthy it is.
//
// The gateway's registry owns the authoritative copy, health fields included.
// Every other holder (partition managers, routers) has a read-only snapshot,
// so mutating health outside the registry does nothing useful.
type NodeDescriptor struct {
	Service  ServiceType `json:"serviceType"`
	ID       NodeID      `json:"instanceId"`
	Host     string      `json:"host"`
	HTTPPort int         `json:"httpPort"`
	TCPPort  int         `json:"tcpPort"`
	UDPPort  int         `json:"udpPort"`

	// Health fields. Mutable, owned by the registry. Suspect nodes are still
	// eligible for selection; only Healthy=false takes a node out of rotation.
	Healthy       bool      `json:"-"`
	Suspect       bool      `json:"-"`
	LastHeartbeat time.Time `json:"-"`
}

// NewNodeDescriptor returns a descriptor with a derived instance id and
// health initialized to healthy, which is what a node registering itself
// wants. The id is derived from the service, host, and http port, so it's
// stable across re-registrations from the same address.
func NewNodeDescriptor(service ServiceType, host string, httpPort, tcpPort, udpPort int) NodeDescriptor {
	return NodeDescriptor{
		Service:       service,
		ID:            NodeID(fmt.Sprintf("%s_%s_%d", service, host, httpPort)),
		Host:          host,
		HTTPPort:      httpPort,
		TCPPort:       tcpPort,
		UDPPort:       udpPort,
		Healthy:       true,
		LastHeartbeat: time.Now(),
	}
}

// Ident compares the identity fields only (service, id, host, ports), not
// health. Two descriptors with equal identity refer to the same instance,
// even if one copy is stale about its health.
func (d NodeDescriptor) Ident(other NodeDescriptor) bool {
	return d.Service == other.Service &&
		d.ID == other.ID &&
		d.Host == other.Host &&
		d.HTTPPort == other.HTTPPort &&
		d.TCPPort == other.TCPPort &&
		d.UDPPort == other.UDPPort
}

// HTTPAddr returns an address which can be dialled to reach the node's HTTP
// listener. TCPAddr and UDPAddr likewise.
func (d NodeDescriptor) HTTPAddr() string {
	return fmt.Sprintf("%s:%d", d.Host, d.HTTPPort)
}

func (d NodeDescriptor) TCPAddr() string {
	return fmt.Sprintf("%s:%d", d.Host, d.TCPPort)
}

func (d NodeDescriptor) UDPAddr() string {
	return fmt.Sprintf("%s:%d", d.Host, d.UDPPort)
}

func (d NodeDescriptor) String() string {
	return fmt.Sprintf("%s (%s @ %s http=%d tcp=%d udp=%d)",
		d.ID, d.Service, d.Host, d.HTTPPort, d.TCPPort, d.UDPPort)
}
