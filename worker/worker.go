/*
Package worker runs a titanic service worker.

A worker connects a DEALER socket to the broker backend, announces the service it serves
and then processes one request at a time. Requests are handled in their own goroutine so
that heartbeats keep flowing while a handler runs; a worker that stops heartbeating is
evicted by the broker and its request is given to another worker.

If the broker stays silent for HeartbeatLiveness heartbeat intervals, or tells the worker
to disconnect, the worker reconnects with a new socket and announces itself again.
*/
package worker

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/dermesser/titanic/log"
	"github.com/dermesser/titanic/proto"
	"github.com/dermesser/titanic/ticket"
	"github.com/dermesser/titanic/transport"

	zmq "github.com/pebbe/zmq4"
)

/*
A Handler processes one request. It returns a status code and the reply frames:

	proto.STATUS_OK           the request succeeded; reply is stored for the client
	proto.STATUS_CLIENT_ERROR the request is invalid
	proto.STATUS_SERVER_ERROR the request could not be processed

Reply frames are discarded for the error statuses. ctx is cancelled when the worker shuts
down or loses its broker; the result is then dropped and the broker reassigns the request.
*/
type Handler func(ctx context.Context, request [][]byte) (status string, reply [][]byte)

type Options struct {
	HeartbeatInterval time.Duration
	HeartbeatLiveness int
	ReconnectInterval time.Duration
	Socket            transport.SocketConfig
}

func DefaultOptions() Options {
	socket := transport.DefaultSocketConfig()
	socket.RecvTimeout = 0
	// Give the final DISCONNECT a chance to leave
	socket.Linger = 500 * time.Millisecond
	return Options{
		HeartbeatInterval: 2500 * time.Millisecond,
		HeartbeatLiveness: 3,
		ReconnectInterval: 2500 * time.Millisecond,
		Socket:            socket,
	}
}

func (o Options) Validate() error {
	if o.HeartbeatInterval <= 0 {
		return errors.New("heartbeat interval must be positive")
	}
	if o.HeartbeatLiveness < 1 {
		return errors.New("heartbeat liveness must be at least 1")
	}
	if o.ReconnectInterval < 0 {
		return errors.New("reconnect interval must not be negative")
	}
	return o.Socket.Validate()
}

var errReconnect = errors.New("reconnect to broker")

// How long the loop waits for messages at most, so that finished requests and
// cancellation are noticed quickly.
const (
	idle_poll_interval = 100 * time.Millisecond
	busy_poll_interval = 5 * time.Millisecond
)

type Worker struct {
	service  string
	endpoint string
	adapter  *transport.Adapter
	handler  Handler
	options  Options

	socket       *zmq.Socket
	liveness     int
	heartbeat_at time.Time

	// Set while a request is being handled
	current *assignment

	requests, replies, reconnects atomic.Uint64
}

type assignment struct {
	ticket string
	fence  string
	cancel context.CancelFunc
	result chan result
}

type result struct {
	status string
	reply  [][]byte
}

func NewWorker(adapter *transport.Adapter, endpoint, service string, handler Handler, options Options) (*Worker, error) {
	if service == "" {
		return nil, errors.New("service name is empty")
	}
	if handler == nil {
		return nil, errors.New("request handler cannot be nil")
	}
	if err := options.Validate(); err != nil {
		return nil, err
	}
	return &Worker{service: service, endpoint: endpoint, adapter: adapter, handler: handler, options: options}, nil
}

/*
Run serves requests until ctx is cancelled, reconnecting to the broker as needed. On
cancellation the worker tells the broker that it leaves and returns nil. An error is only
returned if no socket can be created anymore (e.g. the adapter was terminated).
*/
func (w *Worker) Run(ctx context.Context) error {
	for {
		if err := w.connect(); err != nil {
			if errors.Is(err, transport.ErrTerminated) {
				return err
			}
			log.Log(log.LOGLEVEL_ERRORS, "Could not connect to broker", w.endpoint+":", err.Error())
		} else {
			err = w.serve(ctx)
			w.disconnect(ctx.Err() != nil)
			if err != nil && err != errReconnect {
				return err
			}
		}

		if ctx.Err() != nil {
			return nil
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(w.options.ReconnectInterval):
		}
	}
}

func (w *Worker) connect() error {
	sock, err := w.adapter.NewSocket(zmq.DEALER, w.options.Socket)
	if err != nil {
		return err
	}
	if err = sock.Connect(w.endpoint); err != nil {
		sock.Close()
		return err
	}

	w.socket = sock
	w.liveness = w.options.HeartbeatLiveness
	w.heartbeat_at = time.Now().Add(w.options.HeartbeatInterval)
	w.reconnects.Add(1)

	if err = w.send(proto.WORKER_READY, w.service); err != nil {
		w.socket.Close()
		w.socket = nil
		return err
	}
	log.Event(log.LOGLEVEL_INFO).Str("service", w.service).Str("broker", w.endpoint).Msg("Connected to broker")
	return nil
}

// Closes the socket. If leaving, the broker is told first.
func (w *Worker) disconnect(leaving bool) {
	if w.current != nil {
		w.current.cancel()
		w.current = nil
	}
	if leaving {
		w.send(proto.WORKER_DISCONNECT)
	}
	w.socket.Close()
	w.socket = nil
}

func (w *Worker) send(parts ...interface{}) error {
	frames := transport.StringFrames(append([]interface{}{""}, parts...)...)
	err := transport.Send(w.socket, frames)
	if err != nil {
		log.Log(log.LOGLEVEL_WARNINGS, "Could not send to broker:", err.Error())
	}
	return err
}

func (w *Worker) serve(ctx context.Context) error {
	poller := zmq.NewPoller()
	poller.Add(w.socket, zmq.POLLIN)

	for {
		if ctx.Err() != nil {
			return nil
		}

		timeout := idle_poll_interval
		if w.current != nil {
			timeout = busy_poll_interval
		}
		if until := time.Until(w.heartbeat_at); until < timeout {
			timeout = until
		}
		if timeout < 0 {
			timeout = 0
		}

		polled, err := poller.Poll(timeout)
		if err != nil {
			if zmq.AsErrno(err) == zmq.ETERM {
				return transport.ErrTerminated
			}
			return fmt.Errorf("polling: %w", err)
		}

		if len(polled) > 0 {
			if err = w.receive(ctx); err != nil {
				return err
			}
		}

		if w.current != nil {
			select {
			case r := <-w.current.result:
				w.reply(r)
			default:
			}
		}

		if !time.Now().Before(w.heartbeat_at) {
			w.liveness--
			if w.liveness <= 0 {
				log.Log(log.LOGLEVEL_WARNINGS, "Broker appears to be offline, reconnecting")
				return errReconnect
			}
			w.send(proto.WORKER_HEARTBEAT)
			w.heartbeat_at = time.Now().Add(w.options.HeartbeatInterval)
		}
	}
}

func (w *Worker) receive(ctx context.Context) error {
	msg, err := transport.Receive(w.socket, false)
	if err != nil {
		if transport.IsTimeout(err) {
			return nil
		}
		log.Log(log.LOGLEVEL_WARNINGS, "Error when receiving from broker:", err.Error())
		return errReconnect
	}

	// The broker is alive
	w.liveness = w.options.HeartbeatLiveness

	if len(msg) < 2 || len(msg[0]) != 0 {
		log.Log(log.LOGLEVEL_WARNINGS, "Invalid message from broker", log.Frames(msg))
		return nil
	}

	switch command := string(msg[1]); command {
	case proto.WORKER_REQUEST:
		w.startRequest(ctx, msg[2:])
	case proto.WORKER_HEARTBEAT:
	case proto.WORKER_DISCONNECT:
		log.Log(log.LOGLEVEL_INFO, "Broker asked us to reconnect")
		return errReconnect
	default:
		log.Log(log.LOGLEVEL_WARNINGS, "Unknown command from broker:", log.Printable(msg[1]))
	}
	return nil
}

// args is [ticket][fence][frames...]
func (w *Worker) startRequest(ctx context.Context, args [][]byte) {
	if len(args) < 2 {
		log.Log(log.LOGLEVEL_WARNINGS, "Dropped short REQUEST", log.Frames(args))
		return
	}
	if _, err := ticket.ParseID(string(args[0])); err != nil {
		log.Log(log.LOGLEVEL_WARNINGS, "Dropped REQUEST:", err.Error())
		return
	}
	if _, err := strconv.ParseUint(string(args[1]), 10, 64); err != nil {
		log.Log(log.LOGLEVEL_WARNINGS, "Dropped REQUEST with bad fence", log.Printable(args[1]))
		return
	}
	if w.current != nil {
		log.Log(log.LOGLEVEL_WARNINGS, "Received request while busy; dropped", log.Printable(args[0]))
		return
	}

	hctx, cancel := context.WithCancel(ctx)
	a := &assignment{ticket: string(args[0]), fence: string(args[1]), cancel: cancel, result: make(chan result, 1)}
	w.current = a
	w.requests.Add(1)

	log.Event(log.LOGLEVEL_DEBUG).Str("ticket", a.ticket).Str("fence", a.fence).Int("frames", len(args)-2).
		Msg("Handling request")

	go func(request [][]byte) {
		a.result <- w.call(hctx, request)
	}(args[2:])
}

// Runs the handler, turning panics and invalid statuses into STATUS_SERVER_ERROR.
func (w *Worker) call(ctx context.Context, request [][]byte) (r result) {
	defer func() {
		if p := recover(); p != nil {
			log.Log(log.LOGLEVEL_ERRORS, "Handler panicked:", fmt.Sprint(p))
			r = result{status: proto.STATUS_SERVER_ERROR}
		}
	}()

	status, reply := w.handler(ctx, request)
	if !proto.IsWorkerStatus(status) {
		log.Log(log.LOGLEVEL_ERRORS, "Handler returned invalid status", status)
		return result{status: proto.STATUS_SERVER_ERROR}
	}
	if status != proto.STATUS_OK {
		reply = nil
	}
	return result{status: status, reply: reply}
}

func (w *Worker) reply(r result) {
	a := w.current
	w.current = nil
	a.cancel()

	if w.send(proto.WORKER_REPLY, a.ticket, a.fence, r.status, r.reply) == nil {
		w.replies.Add(1)
		log.Event(log.LOGLEVEL_DEBUG).Str("ticket", a.ticket).Str("status", r.status).Msg("Sent reply")
	}
}

type Stats struct {
	Requests, Replies, Connects uint64
}

func (w *Worker) Stats() Stats {
	return Stats{Requests: w.requests.Load(), Replies: w.replies.Load(), Connects: w.reconnects.Load()}
}
