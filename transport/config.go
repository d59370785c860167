package transport

import (
	"errors"
	"fmt"
	"time"

	zmq "github.com/pebbe/zmq4"
)

/*
SocketConfig holds the options applied to a socket when it is created. Options are not
changed after construction.

Zero timeouts mean "block indefinitely". A zero high-water mark means "no limit".
*/
type SocketConfig struct {
	Linger            time.Duration `yaml:"linger"`
	SendTimeout       time.Duration `yaml:"send_timeout"`
	RecvTimeout       time.Duration `yaml:"recv_timeout"`
	ReconnectInterval time.Duration `yaml:"reconnect_interval"`
	SendHWM           int           `yaml:"send_hwm"`
	RecvHWM           int           `yaml:"recv_hwm"`
	IPv6              bool          `yaml:"ipv6"`
	// Only queue messages to completed connections (see ZMQ_IMMEDIATE)
	Immediate bool `yaml:"immediate"`
	// ROUTER sockets only: fail with EHOSTUNREACH instead of dropping unroutable messages
	RouterMandatory bool `yaml:"router_mandatory"`
	// Socket identity; empty lets ZeroMQ choose one.
	Identity string `yaml:"-"`
}

// The defaults used by broker and client sockets.
func DefaultSocketConfig() SocketConfig {
	return SocketConfig{
		Linger:            0,
		SendTimeout:       3 * time.Second,
		RecvTimeout:       3 * time.Second,
		ReconnectInterval: 100 * time.Millisecond,
		IPv6:              true,
	}
}

func (c SocketConfig) Validate() error {
	if c.Linger < 0 {
		return errors.New("linger must not be negative")
	}
	if c.SendTimeout < 0 || c.RecvTimeout < 0 {
		return errors.New("timeouts must not be negative")
	}
	if c.ReconnectInterval < 0 {
		return errors.New("reconnect interval must not be negative")
	}
	if c.SendHWM < 0 || c.RecvHWM < 0 {
		return errors.New("high-water marks must not be negative")
	}
	if len(c.Identity) > 255 {
		return errors.New("identity longer than 255 bytes")
	}
	return nil
}

func zmqTimeout(d time.Duration) time.Duration {
	if d == 0 {
		return -1
	}
	return d
}

// Apply sets all options on sock, which must be of type t.
func (c SocketConfig) Apply(sock *zmq.Socket, t zmq.Type) error {
	if err := c.Validate(); err != nil {
		return err
	}

	setters := []struct {
		name string
		set  func() error
	}{
		{"linger", func() error { return sock.SetLinger(c.Linger) }},
		{"sndtimeo", func() error { return sock.SetSndtimeo(zmqTimeout(c.SendTimeout)) }},
		{"rcvtimeo", func() error { return sock.SetRcvtimeo(zmqTimeout(c.RecvTimeout)) }},
		{"reconnect_ivl", func() error { return sock.SetReconnectIvl(c.ReconnectInterval) }},
		{"sndhwm", func() error { return sock.SetSndhwm(c.SendHWM) }},
		{"rcvhwm", func() error { return sock.SetRcvhwm(c.RecvHWM) }},
		{"ipv6", func() error { return sock.SetIpv6(c.IPv6) }},
		{"immediate", func() error { return sock.SetImmediate(c.Immediate) }},
	}
	if c.Identity != "" {
		setters = append(setters, struct {
			name string
			set  func() error
		}{"identity", func() error { return sock.SetIdentity(c.Identity) }})
	}
	if t == zmq.ROUTER && c.RouterMandatory {
		setters = append(setters, struct {
			name string
			set  func() error
		}{"router_mandatory", func() error { return sock.SetRouterMandatory(1) }})
	}

	for _, s := range setters {
		if err := s.set(); err != nil {
			return fmt.Errorf("setting %s: %w", s.name, err)
		}
	}
	return nil
}
