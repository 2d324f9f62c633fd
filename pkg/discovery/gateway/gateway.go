// Package gateway implements discovery against the gateway's line protocol:
// REGISTER over TCP to announce, DISCOVER to list peers. This is the default
// backend; see the consul package for the alternative.
package gateway

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"time"

	"github.com/adammck/rangegate/pkg/api"
	"github.com/adammck/rangegate/pkg/discovery"
	"github.com/adammck/rangegate/pkg/wire"
	"github.com/avast/retry-go/v4"
	"go.uber.org/zap"
)

const (
	dialTimeout      = 3 * time.Second
	registerAttempts = 5
	registerDelay    = 2 * time.Second
)

type Client struct {
	addr string
	log  *zap.Logger
}

var _ discovery.Discoverer = (*Client)(nil)

func NewClient(addr string, log *zap.Logger) *Client {
	return &Client{
		addr: addr,
		log:  log,
	}
}

// Register announces the node to the gateway, retrying a few times since the
// gateway commonly starts after the nodes in dev setups.
func (c *Client) Register(ctx context.Context, d api.NodeDescriptor) error {
	return retry.Do(
		func() error {
			line, err := c.roundTrip(wire.EncodeRegister(d))
			if err != nil {
				return err
			}
			return wire.ParseRegisterResponse(line)
		},
		retry.Context(ctx),
		retry.Attempts(registerAttempts),
		retry.Delay(registerDelay),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			c.log.Warn("registration failed, retrying",
				zap.Uint("attempt", n+1),
				zap.Error(err))
		}),
	)
}

// Discover asks the gateway for the current membership of a service type.
func (c *Client) Discover(ctx context.Context, t api.ServiceType) ([]api.NodeDescriptor, error) {
	line, err := c.roundTrip(wire.EncodeDiscover(t))
	if err != nil {
		return nil, err
	}
	return wire.ParseNodes(line)
}

// roundTrip opens a fresh connection, sends one line, and reads one line
// back. The protocol is strictly request/response, one exchange per
// connection.
func (c *Client) roundTrip(line string) (string, error) {
	conn, err := net.DialTimeout("tcp", c.addr, dialTimeout)
	if err != nil {
		return "", fmt.Errorf("dialing gateway %s: %w", c.addr, err)
	}
	defer conn.Close()

	if err := conn.SetDeadline(time.Now().Add(dialTimeout)); err != nil {
		return "", err
	}

	if _, err := fmt.Fprintln(conn, line); err != nil {
		return "", fmt.Errorf("writing to gateway: %w", err)
	}

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return "", fmt.Errorf("reading from gateway: %w", err)
		}
		return "", fmt.Errorf("gateway closed connection without replying")
	}

	return scanner.Text(), nil
}
