/*
An echo service worker. Start a broker, then

	$ echo_example --broker tcp://localhost:5556
	$ ticlient echo "Hello world"

Requests without frames are answered with 400.
*/
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/dermesser/titanic/log"
	"github.com/dermesser/titanic/proto"
	"github.com/dermesser/titanic/transport"
	"github.com/dermesser/titanic/worker"

	"github.com/rs/zerolog"
	"github.com/spf13/pflag"
)

func echoHandler(ctx context.Context, request [][]byte) (string, [][]byte) {
	if len(request) == 0 {
		return proto.STATUS_CLIENT_ERROR, nil
	}
	fmt.Println("Called echoHandler:", log.Frames(request))
	return proto.STATUS_OK, request
}

func main() {
	var endpoint, service string
	var loglevel int

	flags := pflag.NewFlagSet("echo_example", pflag.ExitOnError)
	flags.StringVarP(&endpoint, "broker", "b", "tcp://localhost:5556", "broker backend endpoint")
	flags.StringVarP(&service, "service", "s", "echo", "service name to register")
	flags.IntVarP(&loglevel, "loglevel", "l", log.LOGLEVEL_INFO, "0 (none) to 4 (debug)")
	flags.Parse(os.Args[1:])

	log.SetOutput(zerolog.ConsoleWriter{Out: os.Stderr})
	log.SetLoglevel(loglevel)

	adapter, err := transport.NewAdapter()
	if err != nil {
		fmt.Println(err.Error())
		os.Exit(1)
	}
	defer adapter.Term()

	w, err := worker.NewWorker(adapter, endpoint, service, echoHandler, worker.DefaultOptions())
	if err != nil {
		fmt.Println(err.Error())
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err = w.Run(ctx); err != nil {
		fmt.Println(err.Error())
	}
}
