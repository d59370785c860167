/*
Package client talks to a titanic broker.

A Client submits requests, which the broker stores durably and hands out to service workers,
and polls for their replies later. Call combines these steps: it submits a request and polls
until the reply arrives, the request fails or the caller gives up.

	cl, err := client.NewClient("ticlient", adapter, client.Peer("broker", 5555))
	reply, err := cl.Call(ctx, "echo", [][]byte{[]byte("Hello world")})
*/
package client

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/dermesser/titanic/log"
	"github.com/dermesser/titanic/proto"
	"github.com/dermesser/titanic/ticket"
	"github.com/dermesser/titanic/transport"
)

// Returned by Retrieve if the ticket has no reply yet.
var ErrNotReady = errors.New("reply not ready")

/*
Synchronous client. It is thread-safe, but only one request is on the wire at any time;
concurrent calls wait for each other.
*/
type Client struct {
	lock    sync.Mutex
	channel *RpcChannel
	name    string
	active  bool

	filters        []ClientFilter
	default_params PollParams
}

// Creates a new client from the channel. The client takes ownership of the channel.
func New(name string, channel *RpcChannel) *Client {
	return &Client{name: name, channel: channel, active: true,
		filters: default_filters, default_params: *NewParams()}
}

// NewClient creates a client connected to the broker frontend at addr.
func NewClient(name string, adapter *transport.Adapter, addr PeerAddress) (*Client, error) {
	channel, err := NewChannelAndConnect(adapter, addr)
	if err != nil {
		return nil, err
	}
	return New(name, channel), nil
}

// Set the parameters used by all following requests.
func (cl *Client) SetParams(p *PollParams) {
	cl.lock.Lock()
	defer cl.lock.Unlock()

	cl.default_params = *p
}

/*
Replace the filter stack. The last filter must be SendFilter. Filters are called in order;
a filter may modify the request or response, or short-circuit the request.
*/
func (cl *Client) SetFilters(filters ...ClientFilter) {
	cl.lock.Lock()
	defer cl.lock.Unlock()

	cl.filters = filters
}

// Disconnects the channel and disables the client. Following calls fail.
func (cl *Client) Close() {
	cl.lock.Lock()
	defer cl.lock.Unlock()

	if !cl.active {
		return
	}
	log.Log(log.LOGLEVEL_INFO, "Closing client channel of", cl.name)
	cl.channel.destroy()
	cl.active = false
}

func (cl *Client) request(ctx context.Context, parts ...interface{}) Response {
	cl.lock.Lock()
	defer cl.lock.Unlock()

	if !cl.active {
		return Response{err: &RequestError{status: STATUS_CLIENT_NETWORK_ERROR, err: errors.New("client is closed")}}
	}

	rq := &Request{client: cl, ctx: ctx, params: cl.default_params, frames: transport.StringFrames(parts...)}
	return rq.Go()
}

// Submit asks the broker to store request for service and returns the ticket id.
func (cl *Client) Submit(ctx context.Context, service string, request [][]byte) (ticket.ID, error) {
	rp := cl.request(ctx, proto.CMD_REQUEST, service, request)
	if err := rp.Err(); err != nil {
		return ticket.ID{}, err
	}
	if len(rp.Payload()) != 1 {
		return ticket.ID{}, &RequestError{status: STATUS_BAD_RESPONSE, err: errors.New("expected ticket id")}
	}

	id, err := ticket.ParseID(string(rp.Payload()[0]))
	if err != nil {
		return ticket.ID{}, &RequestError{status: STATUS_BAD_RESPONSE, err: err}
	}
	return id, nil
}

// Poll returns the status of a ticket. An unknown ticket results in a *RequestError with
// IsUnknownTicket() == true.
func (cl *Client) Poll(ctx context.Context, id ticket.ID) (ticket.Status, error) {
	rp := cl.request(ctx, proto.CMD_STATUS, id.String())
	if err := rp.Err(); err != nil {
		return 0, err
	}
	if len(rp.Payload()) != 1 {
		return 0, &RequestError{status: STATUS_BAD_RESPONSE, err: errors.New("expected status")}
	}

	status, err := ticket.ParseStatus(string(rp.Payload()[0]))
	if err != nil {
		return 0, &RequestError{status: STATUS_BAD_RESPONSE, err: err}
	}
	return status, nil
}

/*
Retrieve fetches the reply of a ticket. It returns ErrNotReady if the ticket is still
pending, and a *RequestError if the ticket failed (IsClientFatal(), IsServerFatal()) or is
unknown (IsUnknownTicket()).
*/
func (cl *Client) Retrieve(ctx context.Context, id ticket.ID) ([][]byte, error) {
	rp := cl.request(ctx, proto.CMD_REPLY, id.String())
	if rp.err == nil && rp.Status() == proto.STATUS_PENDING {
		return nil, ErrNotReady
	}
	if err := rp.Err(); err != nil {
		return nil, err
	}
	return rp.Payload(), nil
}

// CloseTicket tells the broker that the ticket's reply is no longer needed. Closing an
// unknown ticket succeeds.
func (cl *Client) CloseTicket(ctx context.Context, id ticket.ID) error {
	rp := cl.request(ctx, proto.CMD_CLOSE, id.String())
	return rp.Err()
}

/*
Call submits request to service and polls until there is a reply. The first poll happens
after the initial delay; the delay doubles after every poll that finds no reply, up to the
maximum delay (see PollParams). Timed out polls are retried.

On success, the ticket is closed and the reply frames are returned. If the request failed,
Call returns a *RequestError (IsClientFatal() or IsServerFatal()) and does not retry.

Call returns ctx.Err() when ctx is cancelled. The ticket is left open then; the broker will
still process the request.
*/
func (cl *Client) Call(ctx context.Context, service string, request [][]byte) ([][]byte, error) {
	id, err := cl.Submit(ctx, service, request)
	if err != nil {
		return nil, err
	}

	cl.lock.Lock()
	params := cl.default_params
	cl.lock.Unlock()

	log.Event(log.LOGLEVEL_DEBUG).Str("ticket", id.String()).Str("service", service).Msg("Submitted request")

	delay := params.initial_delay
	timer := time.NewTimer(delay)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
		}

		reply, err := cl.Retrieve(ctx, id)

		var rqerr *RequestError
		switch {
		case err == nil:
			if err = cl.CloseTicket(ctx, id); err != nil {
				log.Event(log.LOGLEVEL_WARNINGS).Err(err).Str("ticket", id.String()).Msg("Could not close ticket")
			}
			return reply, nil
		case err == ErrNotReady:
			delay = params.nextDelay(delay)
		case errors.As(err, &rqerr) && rqerr.IsTransient():
			log.Event(log.LOGLEVEL_INFO).Err(err).Str("ticket", id.String()).Msg("Broker didn't answer, polling again")
		case errors.As(err, &rqerr) && (rqerr.IsClientFatal() || rqerr.IsServerFatal()):
			if cerr := cl.CloseTicket(ctx, id); cerr != nil {
				log.Event(log.LOGLEVEL_WARNINGS).Err(cerr).Str("ticket", id.String()).Msg("Could not close ticket")
			}
			return nil, err
		default:
			return nil, err
		}

		timer.Reset(delay)
	}
}
