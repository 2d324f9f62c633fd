package detector

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/adammck/rangegate/pkg/api"
	"github.com/adammck/rangegate/pkg/wire"
)

// UDPProber sends the liveness token to a node's datagram port and expects
// the exact ack token back. Silence or anything else is a miss.
type UDPProber struct {
	Timeout time.Duration
}

func NewUDPProber(timeout time.Duration) *UDPProber {
	return &UDPProber{Timeout: timeout}
}

func (p *UDPProber) Probe(ctx context.Context, d api.NodeDescriptor) error {
	deadline := time.Now().Add(p.Timeout)
	if t, ok := ctx.Deadline(); ok && t.Before(deadline) {
		deadline = t
	}

	conn, err := net.DialTimeout("udp", d.UDPAddr(), time.Until(deadline))
	if err != nil {
		return fmt.Errorf("dialing %s: %w", d.UDPAddr(), err)
	}
	defer conn.Close()

	if err := conn.SetDeadline(deadline); err != nil {
		return err
	}

	if _, err := conn.Write([]byte(wire.Heartbeat)); err != nil {
		return fmt.Errorf("sending probe: %w", err)
	}

	buf := make([]byte, 64)
	n, err := conn.Read(buf)
	if err != nil {
		return fmt.Errorf("awaiting ack: %w", err)
	}

	if string(buf[:n]) != wire.HeartbeatAck {
		return fmt.Errorf("bad ack: %q", buf[:n])
	}

	return nil
}
