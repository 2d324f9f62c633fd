package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/adammck/rangegate/pkg/agent"
	"github.com/adammck/rangegate/pkg/api"
	"github.com/adammck/rangegate/pkg/config"
	"github.com/adammck/rangegate/pkg/discovery"
	consuldisc "github.com/adammck/rangegate/pkg/discovery/consul"
	gwdisc "github.com/adammck/rangegate/pkg/discovery/gateway"
	"github.com/adammck/rangegate/pkg/partition"
	consulapi "github.com/hashicorp/consul/api"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfgPath := flag.String("config", "", "path to TOML config (default: built-in defaults)")
	service := flag.String("service", "userservice", "service type this node belongs to")
	host := flag.String("host", "localhost", "address for other nodes to reach this one")
	httpPort := flag.Int("http-port", 8081, "http port")
	tcpPort := flag.Int("tcp-port", 8082, "tcp port")
	udpPort := flag.Int("udp-port", 8083, "udp (heartbeat) port")
	useConsul := flag.Bool("consul", false, "discover via local consul agent instead of the gateway")
	debug := flag.Bool("debug", false, "verbose, human-readable logs")
	flag.Parse()

	cfg := config.Default()
	if *cfgPath != "" {
		var err error
		cfg, err = config.Load(*cfgPath)
		if err != nil {
			exit(err)
		}
	}

	log, err := newLogger(*debug)
	if err != nil {
		exit(err)
	}
	defer log.Sync()

	self := api.NewNodeDescriptor(api.ServiceType(*service), *host, *httpPort, *tcpPort, *udpPort)

	var disc discovery.Discoverer
	if *useConsul {
		disc, err = consuldisc.NewDiscoverer(consulapi.DefaultConfig())
		if err != nil {
			exit(err)
		}
	} else {
		disc = gwdisc.NewClient(cfg.GatewayAddr(), log)
	}

	a, err := agent.New(cfg, self, disc, &logWatcher{log: log}, log)
	if err != nil {
		exit(err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sig
		cancel()
	}()

	kv := newKVServer(self, a.Router(), log)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.Run(ctx) })
	g.Go(func() error { return kv.run(ctx) })

	if err := g.Wait(); err != nil {
		exit(err)
	}
}

// logWatcher logs partitioning events. A real service would hook
// MigrationNeeded to move its data; this one just says so.
type logWatcher struct {
	partition.NopWatcher
	log *zap.Logger
}

func (w *logWatcher) RangeAssigned(r api.Range) {
	w.log.Info("range assigned", zap.String("range", r.String()))
}

func (w *logWatcher) MigrationNeeded(m api.Migration) {
	w.log.Warn("data migration needed but not implemented", zap.String("migration", m.String()))
}

func newLogger(debug bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func exit(err error) {
	fmt.Fprintf(os.Stderr, "Error: %s\n", err)
	os.Exit(1)
}
