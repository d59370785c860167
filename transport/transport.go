/*
Package transport owns the ZeroMQ context used by a titanic process and creates sockets
with a fixed SocketConfig. It also contains helpers for the multi-part framing shared by
the broker, workers and clients.

An Adapter is created once per process and passed to every component that needs
sockets. Components close their sockets; the owner calls Term() at shutdown.
*/
package transport

import (
	"errors"
	"fmt"
	"sync"
	"syscall"

	"github.com/dermesser/titanic/log"
	zmq "github.com/pebbe/zmq4"
)

var ErrTerminated = errors.New("transport adapter terminated")

type Adapter struct {
	mx         sync.Mutex
	ctx        *zmq.Context
	terminated bool
}

func NewAdapter() (*Adapter, error) {
	ctx, err := zmq.NewContext()
	if err != nil {
		log.Log(log.LOGLEVEL_ERRORS, "Error when creating ZeroMQ context:", err.Error())
		return nil, err
	}
	return &Adapter{ctx: ctx}, nil
}

// NewSocket creates a socket of type t and applies cfg to it.
func (a *Adapter) NewSocket(t zmq.Type, cfg SocketConfig) (*zmq.Socket, error) {
	a.mx.Lock()
	defer a.mx.Unlock()

	if a.terminated {
		return nil, ErrTerminated
	}

	sock, err := a.ctx.NewSocket(t)
	if err != nil {
		log.Log(log.LOGLEVEL_ERRORS, "Error when creating", t.String(), "socket:", err.Error())
		return nil, err
	}
	if err = cfg.Apply(sock, t); err != nil {
		sock.Close()
		return nil, fmt.Errorf("configuring %s socket: %w", t, err)
	}
	return sock, nil
}

// Term terminates the context. It blocks until all sockets created by this adapter
// are closed.
func (a *Adapter) Term() error {
	a.mx.Lock()
	if a.terminated {
		a.mx.Unlock()
		return nil
	}
	a.terminated = true
	a.mx.Unlock()

	return a.ctx.Term()
}

// Send sends frames as one multi-part message.
func Send(sock *zmq.Socket, frames [][]byte) error {
	_, err := sock.SendMessage(frames)
	return err
}

// Receive reads one multi-part message. If block is false and nothing is queued, the
// returned error satisfies IsTimeout.
func Receive(sock *zmq.Socket, block bool) ([][]byte, error) {
	var flags zmq.Flag
	if !block {
		flags = zmq.DONTWAIT
	}
	return sock.RecvMessageBytes(flags)
}

// Returns true if err is EAGAIN, i.e. a send/receive timeout or an empty non-blocking read.
func IsTimeout(err error) bool {
	return err != nil && zmq.AsErrno(err) == zmq.Errno(syscall.EAGAIN)
}

// Returns true if a ROUTER socket could not route a message (the peer is gone).
func IsUnreachable(err error) bool {
	return err != nil && zmq.AsErrno(err) == zmq.EHOSTUNREACH
}
