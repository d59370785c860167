/*
titanic-broker runs a titanic broker.

	$ titanic-broker --config titanic.yaml
	$ titanic-broker --frontend tcp://*:5555 --backend tcp://*:5556 --store-path /var/lib/titanic

Flags override the values of the config file.
*/
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/dermesser/titanic/broker"
	"github.com/dermesser/titanic/log"
	"github.com/dermesser/titanic/transport"

	"github.com/rs/zerolog"
	"github.com/spf13/pflag"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var config_path, frontend, backend, store_backend, store_path string
	var loglevel int

	flags := pflag.NewFlagSet("titanic-broker", pflag.ContinueOnError)
	flags.StringVarP(&config_path, "config", "c", "", "YAML config file")
	flags.StringVar(&frontend, "frontend", "", "endpoint for clients (default tcp://*:5555)")
	flags.StringVar(&backend, "backend", "", "endpoint for workers (default tcp://*:5556)")
	flags.StringVar(&store_backend, "store", "", "store backend: pebble or sqlite")
	flags.StringVar(&store_path, "store-path", "", "store directory (pebble) or file (sqlite)")
	flags.IntVarP(&loglevel, "loglevel", "l", log.LOGLEVEL_INFO, "0 (none) to 4 (debug)")

	if err := flags.Parse(os.Args[1:]); err != nil {
		if err == pflag.ErrHelp {
			return nil
		}
		return err
	}

	log.SetOutput(zerolog.ConsoleWriter{Out: os.Stderr})
	log.SetLoglevel(loglevel)

	cfg := broker.DefaultConfig()
	if config_path != "" {
		var err error
		if cfg, err = broker.LoadConfig(config_path); err != nil {
			return err
		}
	}
	for _, o := range []struct {
		value string
		dest  *string
	}{{frontend, &cfg.Frontend}, {backend, &cfg.Backend}, {store_backend, &cfg.Store.Backend}, {store_path, &cfg.Store.Path}} {
		if o.value != "" {
			*o.dest = o.value
		}
	}

	adapter, err := transport.NewAdapter()
	if err != nil {
		return err
	}
	defer adapter.Term()

	srv, err := broker.NewServer(cfg, adapter)
	if err != nil {
		return err
	}
	defer srv.Close()

	if err = srv.Start(); err != nil {
		return err
	}
	log.Event(log.LOGLEVEL_INFO).Str("frontend", cfg.Frontend).Str("backend", cfg.Backend).
		Str("store", cfg.Store.Backend+":"+cfg.Store.Path).Msg("Broker running")

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, os.Interrupt, syscall.SIGTERM)
	sig := <-signals

	log.Log(log.LOGLEVEL_INFO, "Received", sig.String()+", shutting down")
	return nil
}
