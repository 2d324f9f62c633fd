package main

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/adammck/rangegate/pkg/api"
	"github.com/adammck/rangegate/pkg/router"
	"go.uber.org/zap"
)

// kvServer is a small key-value service demonstrating the routing contract
// over a line protocol:
//
//	GET|<key>           -> OK|<value> | NOTFOUND | REDIRECT|<id>|<host>|<port>
//	SET|<key>|<value>   -> OK | REDIRECT|<id>|<host>|<port>
//
// The routing decision happens before any local mutation, and is made fresh
// per request. On REDIRECT the client re-issues against the named node.
type kvServer struct {
	self api.NodeDescriptor
	rtr  *router.Router
	log  *zap.Logger

	mu   sync.RWMutex
	data map[api.Key]string
}

var _ router.RequestHandler = (*kvServer)(nil)

func newKVServer(self api.NodeDescriptor, rtr *router.Router, log *zap.Logger) *kvServer {
	return &kvServer{
		self: self,
		rtr:  rtr,
		log:  log,
		data: map[api.Key]string{},
	}
}

func (s *kvServer) run(ctx context.Context) error {
	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", s.self.TCPPort))
	if err != nil {
		return fmt.Errorf("binding kv port: %w", err)
	}

	go func() {
		<-ctx.Done()
		lis.Close()
	}()

	s.log.Info("kv listening", zap.String("addr", lis.Addr().String()))

	for {
		conn, err := lis.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return fmt.Errorf("accepting: %w", err)
			}
		}

		go s.handle(ctx, conn)
	}
}

func (s *kvServer) handle(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(10 * time.Second))

	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		fmt.Fprintln(conn, s.respond(ctx, scanner.Text()))
	}
}

func (s *kvServer) respond(ctx context.Context, line string) string {
	parts := strings.SplitN(line, "|", 3)
	if len(parts) < 2 || parts[1] == "" {
		return "ERROR|want GET|<key> or SET|<key>|<value>"
	}

	key := api.Key(parts[1])

	// Routing first, mutation (maybe) after.
	if d := s.rtr.Decide(key); !d.Local {
		return fmt.Sprintf("REDIRECT|%s|%s|%d", d.Target.ID, d.Target.Host, d.Target.TCPPort)
	}

	resp, err := s.HandleLocal(ctx, key, line)
	if err != nil {
		return "ERROR|" + err.Error()
	}
	return resp
}

// HandleLocal serves a request this node owns.
func (s *kvServer) HandleLocal(_ context.Context, key api.Key, req string) (string, error) {
	parts := strings.SplitN(req, "|", 3)

	switch parts[0] {
	case "GET":
		s.mu.RLock()
		defer s.mu.RUnlock()
		if v, ok := s.data[key]; ok {
			return "OK|" + v, nil
		}
		return "NOTFOUND", nil

	case "SET":
		if len(parts) < 3 {
			return "", fmt.Errorf("SET wants a value")
		}
		s.mu.Lock()
		defer s.mu.Unlock()
		s.data[key] = parts[2]
		return "OK", nil
	}

	return "", fmt.Errorf("unknown op %q", parts[0])
}
