// Package wire implements the line-oriented protocol spoken between nodes and
// the gateway. Each message is a single line; fields are pipe-separated,
// except for the node list, which is JSON because descriptors nest.
package wire

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/adammck/rangegate/pkg/api"
)

const (
	// Registration, node -> gateway, over TCP.
	// REGISTER|<type>|<host>|<httpPort>|<tcpPort>|<udpPort>
	cmdRegister = "REGISTER"

	// REGISTERED|SUCCESS or REGISTERED|FAILED|<reason>
	respRegistered = "REGISTERED"
	statusSuccess  = "SUCCESS"
	statusFailed   = "FAILED"

	// Discovery, node -> gateway or peer, over TCP.
	prefixDiscover = "DISCOVER:"
	prefixNodes    = "NODES:"

	// Liveness probe, detector -> node, over UDP. Exact payloads; anything
	// else counts as a missed probe.
	Heartbeat    = "HEARTBEAT"
	HeartbeatAck = "HEARTBEAT_ACK"
)

// ErrMalformed is wrapped by all parse errors in this package.
var ErrMalformed = errors.New("malformed message")

// IsRegister reports whether the line looks like a registration request.
// (The gateway uses this to dispatch, so that a bad REGISTER line still gets
// a REGISTERED|FAILED response rather than a generic error.)
func IsRegister(line string) bool {
	return strings.HasPrefix(line, cmdRegister+"|")
}

// IsDiscover reports whether the line looks like a discovery query.
func IsDiscover(line string) bool {
	return strings.HasPrefix(line, prefixDiscover)
}

// EncodeRegister formats a registration request for the given descriptor.
func EncodeRegister(d api.NodeDescriptor) string {
	return fmt.Sprintf("%s|%s|%s|%d|%d|%d",
		cmdRegister, d.Service, d.Host, d.HTTPPort, d.TCPPort, d.UDPPort)
}

// ParseRegister parses a registration request into a descriptor with a
// derived instance id and fresh health.
func ParseRegister(line string) (api.NodeDescriptor, error) {
	parts := strings.Split(line, "|")
	if len(parts) != 6 || parts[0] != cmdRegister {
		return api.NodeDescriptor{}, fmt.Errorf("%w: want REGISTER with exactly 5 fields, got %q", ErrMalformed, line)
	}

	service := api.ServiceType(strings.ToLower(parts[1]))
	if service == "" {
		return api.NodeDescriptor{}, fmt.Errorf("%w: empty service type", ErrMalformed)
	}

	host := parts[2]
	if host == "" {
		return api.NodeDescriptor{}, fmt.Errorf("%w: empty host", ErrMalformed)
	}

	ports := make([]int, 3)
	for i, s := range parts[3:6] {
		p, err := strconv.Atoi(s)
		if err != nil || p <= 0 || p > 65535 {
			return api.NodeDescriptor{}, fmt.Errorf("%w: bad port %q", ErrMalformed, s)
		}
		ports[i] = p
	}

	return api.NewNodeDescriptor(service, host, ports[0], ports[1], ports[2]), nil
}

// RegisterSuccess returns the response line for an accepted registration.
func RegisterSuccess() string {
	return respRegistered + "|" + statusSuccess
}

// RegisterFailure returns the response line for a rejected registration.
// Newlines in the reason would break the framing, so they're flattened.
func RegisterFailure(reason string) string {
	reason = strings.ReplaceAll(reason, "\n", " ")
	return respRegistered + "|" + statusFailed + "|" + reason
}

// ParseRegisterResponse returns nil if the gateway accepted the registration,
// or an error carrying the rejection reason.
func ParseRegisterResponse(line string) error {
	parts := strings.SplitN(line, "|", 3)
	if len(parts) < 2 || parts[0] != respRegistered {
		return fmt.Errorf("%w: %q", ErrMalformed, line)
	}

	switch parts[1] {
	case statusSuccess:
		return nil
	case statusFailed:
		reason := "no reason given"
		if len(parts) == 3 && parts[2] != "" {
			reason = parts[2]
		}
		return fmt.Errorf("registration rejected: %s", reason)
	}

	return fmt.Errorf("%w: %q", ErrMalformed, line)
}

// EncodeDiscover formats a discovery query for the given service type.
func EncodeDiscover(t api.ServiceType) string {
	return prefixDiscover + string(t)
}

// ParseDiscover parses a discovery query.
func ParseDiscover(line string) (api.ServiceType, error) {
	if !strings.HasPrefix(line, prefixDiscover) {
		return "", fmt.Errorf("%w: %q", ErrMalformed, line)
	}

	t := api.ServiceType(strings.ToLower(strings.TrimPrefix(line, prefixDiscover)))
	if t == "" {
		return "", fmt.Errorf("%w: empty service type", ErrMalformed)
	}

	return t, nil
}

// EncodeNodes formats a discovery response. The descriptor list is JSON; the
// health fields are registry-internal and aren't carried.
func EncodeNodes(nodes []api.NodeDescriptor) (string, error) {
	b, err := json.Marshal(nodes)
	if err != nil {
		return "", err
	}
	return prefixNodes + string(b), nil
}

// ParseNodes parses a discovery response.
func ParseNodes(line string) ([]api.NodeDescriptor, error) {
	if !strings.HasPrefix(line, prefixNodes) {
		return nil, fmt.Errorf("%w: %q", ErrMalformed, line)
	}

	var nodes []api.NodeDescriptor
	if err := json.Unmarshal([]byte(strings.TrimPrefix(line, prefixNodes)), &nodes); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	return nodes, nil
}
