package client

import (
	"errors"
	"fmt"
	"time"

	"github.com/dermesser/titanic/log"
	"github.com/dermesser/titanic/transport"
)

// A ClientFilter is a function that is called with a request and fulfills a certain task.
// Filters are stacked in Client.filters; filters[0] is called first, and calls in turn filters[1]
// until the last filter sends the message off to the network.
type ClientFilter (func(rq *Request, next_filter int) Response)

var default_filters = []ClientFilter{LogFilter, TimeoutFilter, RetryFilter, SendFilter}

// Logs requests and their outcome at LOGLEVEL_DEBUG.
func LogFilter(rq *Request, next int) Response {
	if !log.IsLoggingEnabled(log.LOGLEVEL_DEBUG) {
		return rq.callNextFilter(next)
	}

	before := time.Now()
	log.Event(log.LOGLEVEL_DEBUG).Str("rpcid", rq.rpcid).Str("client", rq.client.name).
		Str("request", log.Frames(rq.frames)).Msg("Sending request")

	response := rq.callNextFilter(next)

	ev := log.Event(log.LOGLEVEL_DEBUG).Str("rpcid", rq.rpcid).Dur("duration", time.Since(before))
	if response.err != nil {
		ev.Err(response.err).Msg("Request failed")
	} else {
		ev.Str("response", log.Frames(response.response)).Msg("Received response")
	}
	return response
}

// Sets appropriate timeouts on the socket, only for this request. A deadline on the
// request's context shortens the timeout.
func TimeoutFilter(rq *Request, next int) Response {
	old_timeout, err := rq.client.channel.getTimeout()

	if err == nil {
		timeout := rq.params.timeout
		if deadline, ok := rq.ctx.Deadline(); ok {
			if until := time.Until(deadline); until < timeout {
				timeout = until
			}
			if timeout <= 0 {
				return Response{err: rq.ctx.Err()}
			}
		}
		rq.client.channel.SetTimeout(timeout)
		defer rq.client.channel.SetTimeout(old_timeout)
	}

	return rq.callNextFilter(next)
}

// A filter that retries a timed out request according to the request's parameters.
func RetryFilter(rq *Request, next int) Response {
	attempts := int(rq.params.retries + 1)

	last_response := Response{}
	for i := 0; i < attempts; i++ {
		response := rq.callNextFilter(next)

		var rqerr *RequestError
		if response.err == nil || !errors.As(response.err, &rqerr) || !rqerr.IsTransient() {
			return response
		}
		if rq.ctx.Err() != nil {
			return Response{err: rq.ctx.Err()}
		}
		last_response = response
		rq.client.channel.Reconnect()
	}
	if attempts == 1 {
		return last_response
	}
	return Response{err: &RequestError{status: STATUS_TIMEOUT,
		err: fmt.Errorf("retried %d times without success: %w", rq.params.retries, last_response.err)}}
}

// Send a request and wait for it to complete. Must be the last filter in the stack
func SendFilter(rq *Request, next int) Response {
	// Enforce that this is the last filter.
	if len(rq.client.filters) != next {
		panic("Bad filter setup")
	}

	err := rq.client.channel.sendMessage(rq.frames)

	if err != nil {
		return Response{err: networkError(err)}
	}

	response, err := rq.client.channel.receiveMessage()

	if err != nil {
		return Response{err: networkError(err)}
	}
	if len(response) == 0 {
		return Response{err: &RequestError{status: STATUS_BAD_RESPONSE, err: errors.New("empty response")}}
	}

	return Response{response: response}
}

func networkError(err error) *RequestError {
	if transport.IsTimeout(err) {
		return &RequestError{status: STATUS_TIMEOUT, err: err}
	}
	return &RequestError{status: STATUS_CLIENT_NETWORK_ERROR, err: err}
}
