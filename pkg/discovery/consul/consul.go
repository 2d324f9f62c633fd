// Package consul implements discovery against a Consul agent, for
// deployments that already run one and don't want the gateway to be the
// source of truth for membership. Descriptors carry three ports, which Consul
// services don't, so the extra two ride in the service metadata.
package consul

import (
	"context"
	"fmt"
	"strconv"

	"github.com/adammck/rangegate/pkg/api"
	"github.com/adammck/rangegate/pkg/discovery"
	consulapi "github.com/hashicorp/consul/api"
)

const (
	metaTCPPort = "tcp-port"
	metaUDPPort = "udp-port"
)

type Discoverer struct {
	consul *consulapi.Client
}

var _ discovery.Discoverer = (*Discoverer)(nil)

func NewDiscoverer(cfg *consulapi.Config) (*Discoverer, error) {
	client, err := consulapi.NewClient(cfg)
	if err != nil {
		return nil, err
	}

	return &Discoverer{consul: client}, nil
}

func (d *Discoverer) Register(_ context.Context, nd api.NodeDescriptor) error {
	return d.consul.Agent().ServiceRegister(&consulapi.AgentServiceRegistration{
		ID:      string(nd.ID),
		Name:    string(nd.Service),
		Address: nd.Host,
		Port:    nd.HTTPPort,
		Meta: map[string]string{
			metaTCPPort: strconv.Itoa(nd.TCPPort),
			metaUDPPort: strconv.Itoa(nd.UDPPort),
		},
	})
}

func (d *Discoverer) Discover(_ context.Context, t api.ServiceType) ([]api.NodeDescriptor, error) {
	// Passing-only, so Consul's own health checking stands in for the
	// gateway's failure detector.
	entries, _, err := d.consul.Health().Service(string(t), "", true, nil)
	if err != nil {
		return nil, fmt.Errorf("querying consul: %w", err)
	}

	nodes := make([]api.NodeDescriptor, 0, len(entries))
	for _, e := range entries {
		host := e.Service.Address
		if host == "" {
			host = e.Node.Address
		}

		nd := api.NodeDescriptor{
			Service:  t,
			ID:       api.NodeID(e.Service.ID),
			Host:     host,
			HTTPPort: e.Service.Port,
			TCPPort:  metaPort(e.Service.Meta, metaTCPPort, e.Service.Port),
			UDPPort:  metaPort(e.Service.Meta, metaUDPPort, e.Service.Port),
			Healthy:  true,
		}
		nodes = append(nodes, nd)
	}

	return nodes, nil
}

func metaPort(meta map[string]string, key string, fallback int) int {
	if s, ok := meta[key]; ok {
		if p, err := strconv.Atoi(s); err == nil {
			return p
		}
	}
	return fallback
}
