package gateway

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/adammck/rangegate/pkg/api"
	"github.com/adammck/rangegate/pkg/config"
	gwdisc "github.com/adammck/rangegate/pkg/discovery/gateway"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"go.uber.org/zap"
)

type ServerSuite struct {
	suite.Suite
	srv    *Server
	cancel context.CancelFunc
	served chan error
}

func TestServerSuite(t *testing.T) {
	suite.Run(t, new(ServerSuite))
}

func (ts *ServerSuite) SetupTest() {
	cfg := config.Default()
	cfg.RegistrationPort = 0 // ephemeral

	// Long interval so the detector never actually probes mid-test.
	cfg.HeartbeatInterval = time.Hour

	ts.srv = New(cfg, zap.NewNop())
	ts.Require().NoError(ts.srv.Listen())

	ctx, cancel := context.WithCancel(context.Background())
	ts.cancel = cancel
	ts.served = make(chan error, 1)
	go func() { ts.served <- ts.srv.Serve(ctx) }()
}

func (ts *ServerSuite) TearDownTest() {
	ts.cancel()
	ts.Require().NoError(<-ts.served)
}

// exchange sends one line and returns the one-line response.
func (ts *ServerSuite) exchange(line string) string {
	conn, err := net.Dial("tcp", ts.srv.Addr().String())
	ts.Require().NoError(err)
	defer conn.Close()

	conn.SetDeadline(time.Now().Add(2 * time.Second))
	fmt.Fprintln(conn, line)

	scanner := bufio.NewScanner(conn)
	ts.Require().True(scanner.Scan(), "no response to %q", line)
	return scanner.Text()
}

func (ts *ServerSuite) TestRegisterThenDiscover() {
	resp := ts.exchange("REGISTER|userservice|10.0.0.7|8081|8082|8083")
	ts.Equal("REGISTERED|SUCCESS", resp)

	resp = ts.exchange("DISCOVER:userservice")
	ts.Regexp(`^NODES:\[`, resp)
	ts.Contains(resp, `"instanceId":"userservice_10.0.0.7_8081"`)
	ts.Contains(resp, `"udpPort":8083`)
}

func (ts *ServerSuite) TestMalformedRegistration() {
	resp := ts.exchange("REGISTER|userservice|10.0.0.7|notaport|8082|8083")
	ts.Regexp(`^REGISTERED\|FAILED\|`, resp)

	// Nothing got registered.
	ts.Empty(ts.srv.Registry().ListHealthy("userservice"))
}

func (ts *ServerSuite) TestDiscoverUnknownTypeIsEmpty() {
	ts.Equal("NODES:[]", ts.exchange("DISCOVER:ghosts"))
}

func (ts *ServerSuite) TestUnrecognizedCommand() {
	ts.Regexp(`^REGISTERED\|FAILED\|`, ts.exchange("BANANAS"))
}

func (ts *ServerSuite) TestReRegistrationIsIdempotent() {
	ts.exchange("REGISTER|userservice|10.0.0.7|8081|8082|8083")
	ts.exchange("REGISTER|userservice|10.0.0.7|8081|8082|8083")
	ts.Len(ts.srv.Registry().ListHealthy("userservice"), 1)
}

// TestClientAgainstServer exercises the discovery client end to end against
// a real gateway.
func (ts *ServerSuite) TestClientAgainstServer() {
	client := gwdisc.NewClient(ts.srv.Addr().String(), zap.NewNop())

	d := api.NewNodeDescriptor("userservice", "10.0.0.9", 8081, 8082, 8083)
	ts.Require().NoError(client.Register(context.Background(), d))

	nodes, err := client.Discover(context.Background(), "userservice")
	ts.Require().NoError(err)
	ts.Require().Len(nodes, 1)
	ts.Equal(d.Host, nodes[0].Host)
	ts.Equal(d.UDPPort, nodes[0].UDPPort)
}

func TestClientUnreachableGateway(t *testing.T) {
	client := gwdisc.NewClient("127.0.0.1:1", zap.NewNop())
	_, err := client.Discover(context.Background(), "userservice")
	assert.Error(t, err)
}

func TestServeWithoutNodes(t *testing.T) {
	cfg := config.Default()
	cfg.RegistrationPort = 0
	cfg.HeartbeatInterval = time.Hour

	srv := New(cfg, zap.NewNop())
	require.NoError(t, srv.Listen())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx) }()

	cancel()
	assert.NoError(t, <-done)
}
