package broker

import (
	"errors"
	"fmt"
	"sync"

	"github.com/dermesser/titanic/log"
	"github.com/dermesser/titanic/store"
	"github.com/dermesser/titanic/transport"

	zmq "github.com/pebbe/zmq4"
)

var ErrNotRunning = errors.New("server is not running")

/*
Server exposes a Broker over ZeroMQ. Clients talk to the frontend ROUTER with REQ sockets,
workers to the backend ROUTER with DEALER sockets.

A single goroutine (started by Start()) owns both sockets and performs all broker
operations that change state, so dispatching never races with incoming replies.
*/
type Server struct {
	config  *Config
	adapter *transport.Adapter

	frontend_router, backend_router *zmq.Socket
	// Receives the stop message, see Stop()
	control      *zmq.Socket
	control_path string

	store  store.Store
	broker *Broker

	lblock  sync.Mutex
	running bool
	done    chan struct{}
}

/*
NewServer opens the ticket store, recovers pending tickets and binds the frontend and
backend endpoints. Sockets are created from adapter; the caller terminates the adapter
after Close().

Call Start() to begin serving.
*/
func NewServer(config *Config, adapter *transport.Adapter) (*Server, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	srv := &Server{config: config, adapter: adapter}
	srv.control_path = "inproc://titanic-control-" + log.GetLogToken()

	var err error
	srv.store, err = store.Open(config.Store.Backend, config.Store.Path)
	if err != nil {
		log.Log(log.LOGLEVEL_ERRORS, "Could not open store at", config.Store.Path+":", err.Error())
		return nil, err
	}

	if err = srv.openSockets(); err != nil {
		srv.closeSockets()
		srv.store.Close()
		return nil, err
	}

	srv.broker, err = NewBroker(srv.store, srv, config.options())
	if err != nil {
		srv.closeSockets()
		srv.store.Close()
		return nil, err
	}
	return srv, nil
}

func (srv *Server) openSockets() error {
	var err error

	srv.frontend_router, err = srv.adapter.NewSocket(zmq.ROUTER, srv.config.Socket)
	if err != nil {
		return err
	}
	log.Log(log.LOGLEVEL_INFO, "Binding frontend to", srv.config.Frontend)
	if err = srv.frontend_router.Bind(srv.config.Frontend); err != nil {
		log.Log(log.LOGLEVEL_ERRORS, "Error when binding frontend router:", err.Error())
		return err
	}

	srv.backend_router, err = srv.adapter.NewSocket(zmq.ROUTER, srv.config.Socket)
	if err != nil {
		return err
	}
	log.Log(log.LOGLEVEL_INFO, "Binding backend to", srv.config.Backend)
	if err = srv.backend_router.Bind(srv.config.Backend); err != nil {
		log.Log(log.LOGLEVEL_ERRORS, "Error when binding backend router:", err.Error())
		return err
	}

	srv.control, err = srv.adapter.NewSocket(zmq.REP, transport.DefaultSocketConfig())
	if err != nil {
		return err
	}
	return srv.control.Bind(srv.control_path)
}

func (srv *Server) closeSockets() {
	for _, sock := range []*zmq.Socket{srv.frontend_router, srv.backend_router, srv.control} {
		if sock != nil {
			sock.Close()
		}
	}
}

// Start runs the event loop in a new goroutine.
func (srv *Server) Start() error {
	srv.lblock.Lock()
	defer srv.lblock.Unlock()

	if srv.running {
		return errors.New("server already running")
	}
	srv.running = true
	srv.done = make(chan struct{})

	go srv.loop()
	return nil
}

// Stop sends a stop message to the event loop and waits for it to exit. Does not close
// sockets or the store; the server may be started again.
func (srv *Server) Stop() error {
	srv.lblock.Lock()
	defer srv.lblock.Unlock()

	if !srv.running {
		return ErrNotRunning
	}
	if err := srv.stop(); err != nil {
		return err
	}
	<-srv.done
	srv.running = false
	return nil
}

// Close stops the server if it is running and closes the sockets and the store. The
// server may not be used after calling Close().
func (srv *Server) Close() error {
	if err := srv.Stop(); err != nil && err != ErrNotRunning {
		log.Log(log.LOGLEVEL_WARNINGS, "Could not stop event loop:", err.Error())
	}
	srv.closeSockets()
	return srv.store.Close()
}

/*
Broker returns the broker core for inspection (Stats, Poll, Retrieve). State changes
must go through the wire protocol: the event loop goroutine is the only one allowed to
send on the backend socket.
*/
func (srv *Server) Broker() *Broker {
	return srv.broker
}
