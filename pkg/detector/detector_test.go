package detector

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/adammck/rangegate/pkg/api"
	"github.com/adammck/rangegate/pkg/config"
	"github.com/adammck/rangegate/pkg/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"go.uber.org/zap"
)

// flakyProber fails probes for nodes in the down set.
type flakyProber struct {
	down map[api.NodeID]bool
}

func (p *flakyProber) Probe(_ context.Context, d api.NodeDescriptor) error {
	if p.down[d.ID] {
		return errors.New("probe timeout")
	}
	return nil
}

type DetectorSuite struct {
	suite.Suite
	reg    *registry.Registry
	prober *flakyProber
	det    *Detector
	node   api.NodeDescriptor
}

func TestDetectorSuite(t *testing.T) {
	suite.Run(t, new(DetectorSuite))
}

func (ts *DetectorSuite) SetupTest() {
	cfg := config.Default()
	cfg.HeartbeatTimeout = 100 * time.Millisecond

	ts.reg = registry.New(zap.NewNop())
	ts.prober = &flakyProber{down: map[api.NodeID]bool{}}
	ts.det = New(cfg, ts.reg, ts.prober, zap.NewNop())

	ts.node = api.NewNodeDescriptor("userservice", "host-a", 8081, 8082, 8083)
	ts.reg.Register(ts.node)
}

func (ts *DetectorSuite) healthy() []api.NodeDescriptor {
	return ts.reg.ListHealthy("userservice")
}

func (ts *DetectorSuite) TestHealthyStaysHealthy() {
	ts.det.Tick(context.Background())

	h := ts.healthy()
	ts.Require().Len(h, 1)
	ts.False(h[0].Suspect)
}

func (ts *DetectorSuite) TestFirstMissMakesSuspect() {
	ts.prober.down[ts.node.ID] = true
	ts.det.Tick(context.Background())

	// Suspect, but still present and still selectable.
	h := ts.healthy()
	ts.Require().Len(h, 1)
	ts.True(h[0].Suspect)
}

func (ts *DetectorSuite) TestThreeMissesRemove() {
	ts.prober.down[ts.node.ID] = true

	ts.det.Tick(context.Background())
	ts.det.Tick(context.Background())
	ts.Len(ts.healthy(), 1, "still around after two misses")

	ts.det.Tick(context.Background())
	ts.Empty(ts.healthy(), "removed after maxMissed misses")
}

func (ts *DetectorSuite) TestSuccessResetsCounter() {
	ts.prober.down[ts.node.ID] = true
	ts.det.Tick(context.Background())
	ts.det.Tick(context.Background())

	// Node recovers; counter resets to zero and state back to healthy.
	ts.prober.down[ts.node.ID] = false
	ts.det.Tick(context.Background())

	h := ts.healthy()
	ts.Require().Len(h, 1)
	ts.False(h[0].Suspect)

	// Two more misses are not enough to kill it now.
	ts.prober.down[ts.node.ID] = true
	ts.det.Tick(context.Background())
	ts.det.Tick(context.Background())
	ts.Len(ts.healthy(), 1)
}

func (ts *DetectorSuite) TestForgetResetsCounter() {
	ts.prober.down[ts.node.ID] = true
	ts.det.Tick(context.Background())
	ts.det.Tick(context.Background())

	// The node re-registers (e.g. after a restart); its old misses must not
	// count against the new incarnation.
	ts.reg.Register(ts.node)
	ts.det.Forget(ts.node.ID)

	ts.det.Tick(context.Background())
	ts.det.Tick(context.Background())
	ts.Len(ts.healthy(), 1, "two misses after a fresh registration are not fatal")

	ts.det.Tick(context.Background())
	ts.Empty(ts.healthy())
}

func (ts *DetectorSuite) TestProbesAreIndependent() {
	b := api.NewNodeDescriptor("userservice", "host-b", 9081, 9082, 9083)
	ts.reg.Register(b)
	ts.prober.down[ts.node.ID] = true

	ts.det.Tick(context.Background())
	ts.det.Tick(context.Background())
	ts.det.Tick(context.Background())

	// One node dying never takes the other with it.
	h := ts.healthy()
	ts.Require().Len(h, 1)
	ts.Equal(b.ID, h[0].ID)
}

// listenUDP binds an ephemeral datagram port and returns it along with a
// descriptor pointing at it.
func listenUDP(t *testing.T) (net.PacketConn, api.NodeDescriptor) {
	t.Helper()

	conn, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	port := conn.LocalAddr().(*net.UDPAddr).Port
	return conn, api.NewNodeDescriptor("userservice", "127.0.0.1", 8081, 8082, port)
}

func TestUDPProberBadAck(t *testing.T) {
	// A responder that speaks the wrong token counts as a miss.
	conn, d := listenUDP(t)

	go func() {
		buf := make([]byte, 64)
		n, addr, err := conn.ReadFrom(buf)
		if err != nil {
			return
		}
		if string(buf[:n]) == "HEARTBEAT" {
			conn.WriteTo([]byte("NOPE"), addr)
		}
	}()

	p := NewUDPProber(500 * time.Millisecond)
	err := p.Probe(context.Background(), d)
	if assert.Error(t, err) {
		assert.Contains(t, err.Error(), "bad ack")
	}
}

func TestUDPProberSilence(t *testing.T) {
	_, d := listenUDP(t)

	p := NewUDPProber(200 * time.Millisecond)
	assert.Error(t, p.Probe(context.Background(), d))
}
