package client

import (
	"github.com/dermesser/titanic/proto"
)

// Statuses of errors that happen on the client side, before the broker answers.
const (
	STATUS_CLIENT_NETWORK_ERROR = "CLIENT_NETWORK_ERROR"
	STATUS_TIMEOUT              = "TIMEOUT"
	STATUS_BAD_RESPONSE         = "BAD_RESPONSE"
)

type RequestError struct {
	status string
	err    error
}

func (e *RequestError) Error() string {
	if e.err != nil {
		return e.Status() + ": " + e.err.Error()
	} else {
		return e.Status()
	}
}

func (e *RequestError) Unwrap() error {
	return e.err
}

/*
Returns one of

	STATUS_CLIENT_ERROR (400; the request was rejected and must not be retried)
	STATUS_SERVER_ERROR (500; the service or the broker failed and the request must not be retried)
	STATUS_UNKNOWN_TICKET (404; the ticket was closed, expired or never issued. These cases can't be told apart)
	STATUS_UNKNOWN_COMMAND (501; the broker doesn't speak our protocol)
	STATUS_TIMEOUT (the broker didn't answer in time. It is safe to retry polling)
	STATUS_CLIENT_NETWORK_ERROR (the socket returned an unrecoverable error)
	STATUS_BAD_RESPONSE (the broker sent a message we couldn't make sense of)

The original error, if any, can be retrieved with Message().
*/
func (e *RequestError) Status() string {
	switch e.status {
	case STATUS_CLIENT_NETWORK_ERROR, STATUS_TIMEOUT, STATUS_BAD_RESPONSE:
		return e.status
	default:
		return proto.StatusToString(e.status)
	}
}

// The wire status code, or one of the client-side statuses.
func (e *RequestError) Code() string {
	return e.status
}

/*
Returns a human-readable error message such as "resource temporarily unavailable" (which is an
EAGAIN error)
*/
func (e *RequestError) Message() string {
	if e.err == nil {
		return ""
	}
	return e.err.Error()
}

// The request was invalid (400). Retrying won't help.
func (e *RequestError) IsClientFatal() bool {
	return e.status == proto.STATUS_CLIENT_ERROR
}

// The request failed on the service side (500). Retrying won't help.
func (e *RequestError) IsServerFatal() bool {
	return e.status == proto.STATUS_SERVER_ERROR
}

func (e *RequestError) IsUnknownTicket() bool {
	return e.status == proto.STATUS_UNKNOWN_TICKET
}

// Transient errors are worth polling again for.
func (e *RequestError) IsTransient() bool {
	return e.status == STATUS_TIMEOUT
}
