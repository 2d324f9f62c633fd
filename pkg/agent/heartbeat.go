package agent

import (
	"context"
	"fmt"
	"net"

	"github.com/adammck/rangegate/pkg/wire"
	"go.uber.org/zap"
)

// HeartbeatResponder answers the failure detector's liveness probes on the
// node's datagram port. Anything other than the exact probe token is
// ignored, so a confused sender can't trick a node into acking garbage.
type HeartbeatResponder struct {
	conn net.PacketConn
	log  *zap.Logger
}

func NewHeartbeatResponder(port int, log *zap.Logger) (*HeartbeatResponder, error) {
	conn, err := net.ListenPacket("udp", fmt.Sprintf(":%d", port))
	if err != nil {
		return nil, fmt.Errorf("binding heartbeat port: %w", err)
	}

	return &HeartbeatResponder{
		conn: conn,
		log:  log,
	}, nil
}

// Addr returns the bound datagram address.
func (h *HeartbeatResponder) Addr() net.Addr {
	return h.conn.LocalAddr()
}

// Run answers probes until the context is cancelled.
func (h *HeartbeatResponder) Run(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		h.conn.Close()
	}()

	buf := make([]byte, 64)
	for {
		n, addr, err := h.conn.ReadFrom(buf)
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return fmt.Errorf("reading heartbeat: %w", err)
			}
		}

		if string(buf[:n]) != wire.Heartbeat {
			h.log.Debug("ignoring unexpected datagram", zap.String("from", addr.String()))
			continue
		}

		if _, err := h.conn.WriteTo([]byte(wire.HeartbeatAck), addr); err != nil {
			h.log.Warn("failed to ack heartbeat", zap.String("from", addr.String()), zap.Error(err))
		}
	}
}
