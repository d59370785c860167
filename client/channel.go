package client

import (
	"fmt"
	"time"

	"github.com/dermesser/titanic/log"
	"github.com/dermesser/titanic/transport"

	zmq "github.com/pebbe/zmq4"
)

// The address of a broker frontend.
type PeerAddress struct {
	host string
	port uint

	path string

	// Any other ZeroMQ endpoint, e.g. inproc://
	endpoint string
}

// Construct a new peer address.
func Peer(host string, port uint) PeerAddress {
	return PeerAddress{host: host, port: port}
}

// IPCPeer addresses a broker frontend bound to an ipc:// socket at path.
func IPCPeer(path string) PeerAddress {
	return PeerAddress{path: path}
}

// Endpoint wraps a complete ZeroMQ endpoint like "tcp://broker:5555" or "inproc://frontend".
func Endpoint(endpoint string) PeerAddress {
	return PeerAddress{endpoint: endpoint}
}

func (pa *PeerAddress) ToUrl() string {
	if pa.host != "" {
		return fmt.Sprintf("tcp://%s:%d", pa.host, pa.port)
	} else if pa.path != "" {
		return fmt.Sprintf("ipc://%s", pa.path)
	} else {
		return pa.endpoint
	}
}

func (pa *PeerAddress) String() string {
	return pa.ToUrl()
}

func (pa *PeerAddress) equals(pa2 PeerAddress) bool {
	return pa.ToUrl() != "" && pa.ToUrl() == pa2.ToUrl()
}

// The socket options of a client channel. Relaxed and correlated REQ mode lets the
// channel send a new request after a timed out one.
func DefaultChannelConfig() transport.SocketConfig {
	cfg := transport.DefaultSocketConfig()
	cfg.Immediate = true
	cfg.SendTimeout = 10 * time.Second
	cfg.RecvTimeout = 10 * time.Second
	return cfg
}

// A channel to a broker. Should not be shared among multiple clients; a Client
// serializes its use of the channel.
type RpcChannel struct {
	channel *zmq.Socket

	// Slices to allow multiple connections (round-robin)
	peers []PeerAddress
}

// Create a new RpcChannel with sockets from adapter.
func NewRpcChannel(adapter *transport.Adapter, cfg transport.SocketConfig) (*RpcChannel, error) {
	channel := RpcChannel{}

	var err error
	channel.channel, err = adapter.NewSocket(zmq.REQ, cfg)
	if err != nil {
		log.Log(log.LOGLEVEL_ERRORS, "Error when creating Req socket:", err.Error())
		return nil, err
	}

	if err = channel.channel.SetReqRelaxed(1); err == nil {
		err = channel.channel.SetReqCorrelate(1)
	}
	if err != nil {
		channel.channel.Close()
		return nil, err
	}

	return &channel, nil
}

// NewChannelAndConnect creates a new channel with DefaultChannelConfig and connects it to `addr`.
func NewChannelAndConnect(adapter *transport.Adapter, addr PeerAddress) (*RpcChannel, error) {
	channel, err := NewRpcChannel(adapter, DefaultChannelConfig())
	if err != nil {
		return nil, err
	}
	if err = channel.Connect(addr); err != nil {
		channel.destroy()
		return nil, err
	}
	return channel, nil
}

// Connect channel to addr.
// (This adds the broker to the set of connections of this channel; connections are used in a round-robin fashion)
func (c *RpcChannel) Connect(addr PeerAddress) error {
	peer := addr.ToUrl()
	c.channel.Disconnect(peer)
	err := c.channel.Connect(peer)

	if err != nil {
		log.Log(log.LOGLEVEL_ERRORS, "Could not establish connection to peer;", err.Error(), peer)
		return err
	}
	c.peers = append(c.peers, addr)
	return nil
}

// Disconnect the given peer (i.e., take it out of the connection pool)
func (c *RpcChannel) Disconnect(peer PeerAddress) {
	for j := range c.peers {
		if peer.equals(c.peers[j]) {
			c.channel.Disconnect(peer.ToUrl())
			c.peers = append(c.peers[0:j], c.peers[j+1:]...)
			break
		}
	}
}

// First disconnect, then reconnect to all peers.
func (c *RpcChannel) Reconnect() {
	peers := make([]PeerAddress, len(c.peers))
	copy(peers, c.peers)
	for _, p := range peers {
		c.Disconnect(p)
	}
	for _, p := range peers {
		c.Connect(p)
	}
}

func (c *RpcChannel) SetTimeout(d time.Duration) {
	c.channel.SetSndtimeo(d)
	c.channel.SetRcvtimeo(d)
}

func (c *RpcChannel) getTimeout() (time.Duration, error) {
	return c.channel.GetRcvtimeo()
}

func (c *RpcChannel) destroy() {
	c.channel.Close()
}

func (c *RpcChannel) sendMessage(request [][]byte) error {
	return transport.Send(c.channel, request)
}

func (c *RpcChannel) receiveMessage() ([][]byte, error) {
	return transport.Receive(c.channel, true)
}
