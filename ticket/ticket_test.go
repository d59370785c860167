package ticket

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/dermesser/titanic/proto"
)

func newTicket() *Ticket {
	return New(NewID(), "echo", [][]byte{[]byte("Hello world")}, 1, time.Unix(100, 0))
}

func TestTransitions(t *testing.T) {
	cases := []struct {
		from, to Status
		ok       bool
	}{
		{PENDING, COMPLETED, true},
		{PENDING, FAILED, true},
		{PENDING, CLOSED, true},
		{COMPLETED, CLOSED, true},
		{FAILED, CLOSED, true},
		{COMPLETED, PENDING, false},
		{FAILED, COMPLETED, false},
		{COMPLETED, FAILED, false},
		{CLOSED, PENDING, false},
		{CLOSED, COMPLETED, false},
	}
	for _, c := range cases {
		if CanTransition(c.from, c.to) != c.ok {
			t.Error("CanTransition", c.from, c.to, "!=", c.ok)
		}
	}
}

func TestResolveOK(t *testing.T) {
	tk := newTicket()
	payload := [][]byte{[]byte("Hello world"), {0x00, 0x01}}

	if err := tk.Resolve(proto.STATUS_OK, payload, time.Unix(200, 0)); err != nil {
		t.Fatal(err)
	}
	payload[0][0] = 'X' // must not alias

	if tk.Status != COMPLETED || !tk.HasReply || tk.ReplyCode != proto.STATUS_OK {
		t.Fatal("wrong state:", tk.Status, tk.HasReply, tk.ReplyCode)
	}
	if !bytes.Equal(tk.Reply[0], []byte("Hello world")) || !bytes.Equal(tk.Reply[1], []byte{0x00, 0x01}) {
		t.Error("reply changed:", tk.Reply)
	}
	if !tk.UpdatedAt.Equal(time.Unix(200, 0)) {
		t.Error("UpdatedAt not set")
	}
	if err := tk.Validate(); err != nil {
		t.Error(err)
	}
}

func TestResolveFailedDropsPayload(t *testing.T) {
	for _, code := range []string{proto.STATUS_CLIENT_ERROR, proto.STATUS_SERVER_ERROR} {
		tk := newTicket()
		if err := tk.Resolve(code, [][]byte{[]byte("oops")}, time.Now()); err != nil {
			t.Fatal(err)
		}
		if tk.Status != FAILED || tk.ReplyCode != code || len(tk.Reply) != 0 {
			t.Error("wrong state for", code, tk.Status, tk.Reply)
		}
	}
}

func TestResolveTwiceFails(t *testing.T) {
	tk := newTicket()
	tk.Resolve(proto.STATUS_OK, nil, time.Now())

	err := tk.Resolve(proto.STATUS_SERVER_ERROR, nil, time.Now())
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatal("expected ErrInvalidTransition, got", err)
	}
	if tk.Status != COMPLETED {
		t.Error("status changed to", tk.Status)
	}
}

func TestResolveBadCode(t *testing.T) {
	tk := newTicket()
	if err := tk.Resolve("300", nil, time.Now()); !errors.Is(err, ErrInvalidTransition) {
		t.Fatal("expected ErrInvalidTransition, got", err)
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	tk := newTicket()
	if err := tk.Close(time.Now()); err != nil {
		t.Fatal(err)
	}
	if err := tk.Close(time.Now()); err != nil {
		t.Fatal(err)
	}
	if tk.Status != CLOSED {
		t.Error("status", tk.Status)
	}
}

func TestRecordConversion(t *testing.T) {
	tk := newTicket()
	tk.Resolve(proto.STATUS_OK, [][]byte{{}, []byte("x")}, time.Unix(300, 5))

	back, err := FromRecord(tk.ToRecord())
	if err != nil {
		t.Fatal(err)
	}
	if back.ID != tk.ID || back.Service != tk.Service || back.Status != tk.Status || back.Sequence != tk.Sequence {
		t.Fatal("fields differ:", back, tk)
	}
	if !back.UpdatedAt.Equal(tk.UpdatedAt) || !back.CreatedAt.Equal(tk.CreatedAt) {
		t.Error("timestamps differ")
	}
	if len(back.Reply) != 2 || back.Reply[0] == nil || string(back.Reply[1]) != "x" {
		t.Error("reply differs:", back.Reply)
	}
}

func TestParseID(t *testing.T) {
	id := NewID()
	back, err := ParseID(id.String())
	if err != nil || back != id {
		t.Fatal("round trip failed:", err, back, id)
	}
	if _, err := ParseID("not-a-ticket"); err == nil {
		t.Error("parsed garbage")
	}
	if NewID() == NewID() {
		t.Error("ids repeat")
	}
}
