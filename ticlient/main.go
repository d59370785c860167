/*
ticlient sends one request through a titanic broker and waits for the reply.

	$ ticlient -v --broker tcp://localhost:5555 echo "Hello world"
	$ ticlient --ipc /run/titanic/frontend echo "Hello world"

Without --timeout, ticlient polls until the reply arrives or it is interrupted.
*/
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/dermesser/titanic/client"
	"github.com/dermesser/titanic/log"
	"github.com/dermesser/titanic/transport"

	"github.com/rs/zerolog"
	"github.com/spf13/pflag"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)

		var rqerr *client.RequestError
		if errors.As(err, &rqerr) && rqerr.IsClientFatal() {
			os.Exit(2)
		}
		os.Exit(1)
	}
}

func run() error {
	var endpoint, ipc string
	var verbose bool
	var timeout time.Duration

	flags := pflag.NewFlagSet("ticlient", pflag.ContinueOnError)
	flags.StringVarP(&endpoint, "broker", "b", "tcp://localhost:5555", "broker frontend endpoint")
	flags.StringVarP(&ipc, "ipc", "i", "", "connect to the broker frontend at this IPC socket path instead")
	flags.BoolVarP(&verbose, "verbose", "v", false, "log every request and poll")
	flags.DurationVarP(&timeout, "timeout", "t", 0, "give up after this long (0: never)")

	if err := flags.Parse(os.Args[1:]); err != nil {
		if err == pflag.ErrHelp {
			return nil
		}
		return err
	}
	if flags.NArg() < 1 {
		return errors.New("usage: ticlient [flags] service [frames...]")
	}

	log.SetOutput(zerolog.ConsoleWriter{Out: os.Stderr})
	if verbose {
		log.SetLoglevel(log.LOGLEVEL_DEBUG)
	} else {
		log.SetLoglevel(log.LOGLEVEL_WARNINGS)
	}

	service := flags.Arg(0)
	request := make([][]byte, 0, flags.NArg()-1)
	for _, arg := range flags.Args()[1:] {
		request = append(request, []byte(arg))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	adapter, err := transport.NewAdapter()
	if err != nil {
		return err
	}
	defer adapter.Term()

	addr := client.Endpoint(endpoint)
	if ipc != "" {
		addr = client.IPCPeer(ipc)
	}
	cl, err := client.NewClient("ticlient", adapter, addr)
	if err != nil {
		return err
	}
	defer cl.Close()

	reply, err := cl.Call(ctx, service, request)
	if err != nil {
		return err
	}
	for _, frame := range reply {
		fmt.Println(string(frame))
	}
	return nil
}
