// Package gateway assembles the gateway side of the system: the membership
// registry, the failure detector probing it, and a line-oriented TCP server
// through which nodes register and discover each other.
//
// Protocol-specific request forwarding (HTTP/TCP/UDP proxying to nodes) is
// deliberately not here; callers wanting to forward pick a node with
// Registry().SelectRoundRobin and do their own plumbing.
package gateway

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"time"

	"github.com/adammck/rangegate/pkg/config"
	"github.com/adammck/rangegate/pkg/detector"
	"github.com/adammck/rangegate/pkg/registry"
	"github.com/adammck/rangegate/pkg/wire"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// connTimeout bounds one request/response exchange. The protocol is one
// exchange per connection, so this is also the connection lifetime.
const connTimeout = 5 * time.Second

type Server struct {
	cfg config.Config
	reg *registry.Registry
	det *detector.Detector
	log *zap.Logger
	lis net.Listener
}

func New(cfg config.Config, log *zap.Logger) *Server {
	reg := registry.New(log)
	prober := detector.NewUDPProber(cfg.HeartbeatTimeout)

	return &Server{
		cfg: cfg,
		reg: reg,
		det: detector.New(cfg, reg, prober, log),
		log: log,
	}
}

// Registry exposes the authoritative membership, for load-balancing
// forwarders and for tests.
func (s *Server) Registry() *registry.Registry {
	return s.reg
}

// Listen binds the registration port. Separate from Serve so callers (and
// tests, which bind port zero) can learn the address before serving.
func (s *Server) Listen() error {
	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", s.cfg.RegistrationPort))
	if err != nil {
		return fmt.Errorf("binding registration port: %w", err)
	}

	s.lis = lis
	s.log.Info("gateway listening", zap.String("addr", lis.Addr().String()))
	return nil
}

// Addr returns the bound registration address. Only valid after Listen.
func (s *Server) Addr() net.Addr {
	return s.lis.Addr()
}

// Serve accepts registration and discovery connections and runs the failure
// detector until the context is cancelled. Call Listen first.
func (s *Server) Serve(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		err := s.det.Run(ctx)
		if err == context.Canceled {
			return nil
		}
		return err
	})

	g.Go(func() error {
		<-ctx.Done()
		// Unblocks Accept. In-flight connections finish on their own
		// deadlines; we don't wait for them.
		return s.lis.Close()
	})

	g.Go(func() error {
		for {
			conn, err := s.lis.Accept()
			if err != nil {
				select {
				case <-ctx.Done():
					return nil
				default:
					return fmt.Errorf("accepting: %w", err)
				}
			}

			go s.handle(conn)
		}
	})

	return g.Wait()
}

// handle runs one request/response exchange and closes the connection.
func (s *Server) handle(conn net.Conn) {
	defer conn.Close()

	if err := conn.SetDeadline(time.Now().Add(connTimeout)); err != nil {
		return
	}

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	if !scanner.Scan() {
		return
	}
	line := scanner.Text()

	switch {
	case wire.IsRegister(line):
		s.handleRegister(conn, line)
	case wire.IsDiscover(line):
		s.handleDiscover(conn, line)
	default:
		s.log.Warn("unrecognized line", zap.String("line", line))
		fmt.Fprintln(conn, wire.RegisterFailure("unrecognized command"))
	}
}

func (s *Server) handleRegister(conn net.Conn, line string) {
	d, err := wire.ParseRegister(line)
	if err != nil {
		// Malformed registration is reported to the caller, not fatal.
		s.log.Warn("rejected registration", zap.String("line", line), zap.Error(err))
		fmt.Fprintln(conn, wire.RegisterFailure(err.Error()))
		return
	}

	s.reg.Register(d)
	// A fresh registration starts with a clean slate; misses accumulated
	// against the previous incarnation don't carry over.
	s.det.Forget(d.ID)
	fmt.Fprintln(conn, wire.RegisterSuccess())
}

func (s *Server) handleDiscover(conn net.Conn, line string) {
	t, err := wire.ParseDiscover(line)
	if err != nil {
		fmt.Fprintln(conn, wire.RegisterFailure(err.Error()))
		return
	}

	resp, err := wire.EncodeNodes(s.reg.ListHealthy(t))
	if err != nil {
		s.log.Error("encoding node list", zap.Error(err))
		return
	}

	fmt.Fprintln(conn, resp)
}
