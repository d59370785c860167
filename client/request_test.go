package client

import (
	"errors"
	"testing"
	"time"

	"github.com/dermesser/titanic/proto"
)

func TestPollDelayEscalates(t *testing.T) {
	p := NewParams()

	delay := p.initial_delay
	if delay != 100*time.Millisecond {
		t.Fatal("unexpected initial delay", delay)
	}

	var delays []time.Duration
	for i := 0; i < 8; i++ {
		delay = p.nextDelay(delay)
		delays = append(delays, delay)
	}

	expected := []time.Duration{200, 400, 800, 1600, 3200, 5000, 5000, 5000}
	for i := range expected {
		if delays[i] != expected[i]*time.Millisecond {
			t.Errorf("delay %d: expected %v, got %v", i, expected[i]*time.Millisecond, delays[i])
		}
	}
}

func TestPollDelayHasFloor(t *testing.T) {
	p := NewParams().InitialDelay(0).MaxDelay(-time.Second)
	if p.initial_delay != min_poll_delay || p.max_delay != min_poll_delay {
		t.Errorf("non-positive delays accepted: %+v", p)
	}

	p = NewParams()
	if d := p.nextDelay(0); d != 2*min_poll_delay {
		t.Error("zero delay did not grow:", d)
	}
	d := time.Duration(0)
	for i := 0; i < 20; i++ {
		d = p.nextDelay(d)
	}
	if d != p.max_delay {
		t.Error("delay did not reach the maximum:", d)
	}
}

func TestParamsBuilder(t *testing.T) {
	p := NewParams().Retries(3).Timeout(time.Second).InitialDelay(time.Millisecond).MaxDelay(time.Second)
	if p.retries != 3 || p.timeout != time.Second || p.initial_delay != time.Millisecond || p.max_delay != time.Second {
		t.Errorf("unexpected params %+v", p)
	}
}

func TestRequestErrorClassification(t *testing.T) {
	cases := []struct {
		status                                      string
		client_fatal, server_fatal, unknown, transient bool
	}{
		{proto.STATUS_CLIENT_ERROR, true, false, false, false},
		{proto.STATUS_SERVER_ERROR, false, true, false, false},
		{proto.STATUS_UNKNOWN_TICKET, false, false, true, false},
		{STATUS_TIMEOUT, false, false, false, true},
		{STATUS_CLIENT_NETWORK_ERROR, false, false, false, false},
	}

	for _, c := range cases {
		e := &RequestError{status: c.status}
		if e.IsClientFatal() != c.client_fatal || e.IsServerFatal() != c.server_fatal ||
			e.IsUnknownTicket() != c.unknown || e.IsTransient() != c.transient {
			t.Errorf("misclassified %s", c.status)
		}
	}

	if s := (&RequestError{status: proto.STATUS_SERVER_ERROR}).Status(); s != "STATUS_SERVER_ERROR" {
		t.Error("unexpected status string", s)
	}

	inner := errors.New("resource temporarily unavailable")
	e := &RequestError{status: STATUS_TIMEOUT, err: inner}
	if !errors.Is(e, inner) || e.Message() != inner.Error() || e.Error() != "TIMEOUT: resource temporarily unavailable" {
		t.Error("unexpected error", e)
	}
}

func TestResponseErr(t *testing.T) {
	ok := Response{response: [][]byte{[]byte(proto.STATUS_OK), []byte("x")}}
	if !ok.Ok() || ok.Err() != nil || len(ok.Payload()) != 1 {
		t.Error("unexpected response", ok)
	}

	failed := Response{response: [][]byte{[]byte(proto.STATUS_SERVER_ERROR)}}
	var rqerr *RequestError
	if err := failed.Err(); !errors.As(err, &rqerr) || !rqerr.IsServerFatal() {
		t.Error("unexpected error", err)
	}
	if len(failed.Payload()) != 0 {
		t.Error("failed response has payload")
	}

	network := Response{err: errors.New("socket closed")}
	if err := network.Err(); !errors.As(err, &rqerr) || rqerr.Code() != STATUS_CLIENT_NETWORK_ERROR {
		t.Error("unexpected error", err)
	}
}
