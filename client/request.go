package client

import (
	"context"
	"time"

	"github.com/dermesser/titanic/log"
)

// Various parameters determining how requests are executed and tickets are polled. There
// are builder methods to set the various parameters.
type PollParams struct {
	retries uint
	timeout time.Duration

	initial_delay time.Duration
	max_delay     time.Duration
}

// Polling never waits less than this between polls.
const min_poll_delay = time.Millisecond

func NewParams() *PollParams {
	return &PollParams{retries: 0, timeout: 10 * time.Second, initial_delay: 100 * time.Millisecond, max_delay: 5 * time.Second}
}

// How often a timed out request is to be retried. Default: 0
func (p *PollParams) Retries(r uint) *PollParams {
	p.retries = r
	return p
}

// Set the network timeout of a single request.
func (p *PollParams) Timeout(d time.Duration) *PollParams {
	p.timeout = d
	return p
}

// The delay before the first poll after submitting a request. Default: 100ms, at least 1ms
func (p *PollParams) InitialDelay(d time.Duration) *PollParams {
	p.initial_delay = max(d, min_poll_delay)
	return p
}

// The delay between polls doubles after every not-ready response, up to max. Default: 5s
func (p *PollParams) MaxDelay(d time.Duration) *PollParams {
	p.max_delay = max(d, min_poll_delay)
	return p
}

// The delay after the given one.
func (p *PollParams) nextDelay(d time.Duration) time.Duration {
	d = max(d, min_poll_delay) * 2
	if d > p.max_delay {
		d = p.max_delay
	}
	return d
}

// A single exchange with the broker, passed through the filter stack.
type Request struct {
	client *Client
	ctx    context.Context

	params PollParams
	rpcid  string

	// [command][args...]
	frames [][]byte
}

func (r *Request) callNextFilter(index int) Response {
	if len(r.client.filters) < index+1 {
		panic("Bad filter setup: Not enough filters.")
	}
	return r.client.filters[index](r, index+1)
}

// Send a request.
func (r *Request) Go() Response {
	r.rpcid = log.GetLogToken()

	if err := r.ctx.Err(); err != nil {
		return Response{err: err}
	}
	return r.callNextFilter(0)
}
