package client

import (
	"context"
	"errors"

	"github.com/dermesser/titanic/proto"
)

type Response struct {
	err error
	// [status][payload...]
	response [][]byte
}

// Check whether the request was successful.
func (rp *Response) Ok() bool {
	return rp.err == nil && rp.Status() == proto.STATUS_OK
}

// Returns the status code sent by the broker, or "" if there was no answer.
func (rp *Response) Status() string {
	if len(rp.response) == 0 {
		return ""
	}
	return string(rp.response[0])
}

// Returns the response payload.
func (rp *Response) Payload() [][]byte {
	if len(rp.response) < 2 {
		return [][]byte{}
	}
	return rp.response[1:]
}

// Err returns a *RequestError for every response that isn't OK, or the context's error
// if the request was cancelled.
func (rp *Response) Err() error {
	if rp.err != nil {
		var rqerr *RequestError
		if errors.As(rp.err, &rqerr) || errors.Is(rp.err, context.Canceled) || errors.Is(rp.err, context.DeadlineExceeded) {
			return rp.err
		}
		return &RequestError{status: STATUS_CLIENT_NETWORK_ERROR, err: rp.err}
	}
	if rp.Status() != proto.STATUS_OK {
		return &RequestError{status: rp.Status()}
	}
	return nil
}
