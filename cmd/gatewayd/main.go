package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/adammck/rangegate/pkg/config"
	"github.com/adammck/rangegate/pkg/gateway"
	"go.uber.org/zap"
)

func main() {
	cfgPath := flag.String("config", "", "path to TOML config (default: built-in defaults)")
	port := flag.Int("port", 0, "registration port (overrides config)")
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
	if *port != 0 {
		cfg.RegistrationPort = *port
	}

	log, err := newLogger(*debug)
	if err != nil {
		exit(err)
	}
	defer log.Sync()

	srv := gateway.New(cfg, log)
	if err := srv.Listen(); err != nil {
		exit(err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sig
		cancel()
	}()

	if err := srv.Serve(ctx); err != nil {
		exit(err)
	}
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
