/*
Package ticket implements the ticket lifecycle of the titanic broker.

A ticket is created PENDING when a request is submitted, becomes COMPLETED or FAILED
when a worker replies and CLOSED when the client closes it. Transitions only move
forward. A ticket carries a reply (a status code and, for COMPLETED tickets, the reply
frames) if and only if it is COMPLETED or FAILED.
*/
package ticket

import (
	"errors"
	"fmt"
	"time"

	"github.com/dermesser/titanic/proto"
	"github.com/google/uuid"
)

var ErrInvalidTransition = errors.New("invalid ticket status transition")

type Status int32

const (
	PENDING   Status = Status(proto.TicketRecord_PENDING)
	COMPLETED Status = Status(proto.TicketRecord_COMPLETED)
	FAILED    Status = Status(proto.TicketRecord_FAILED)
	CLOSED    Status = Status(proto.TicketRecord_CLOSED)
)

func (s Status) String() string {
	switch s {
	case PENDING:
		return "PENDING"
	case COMPLETED:
		return "COMPLETED"
	case FAILED:
		return "FAILED"
	case CLOSED:
		return "CLOSED"
	default:
		return fmt.Sprintf("Status(%d)", int32(s))
	}
}

// ParseStatus is the inverse of Status.String().
func ParseStatus(s string) (Status, error) {
	switch s {
	case "PENDING":
		return PENDING, nil
	case "COMPLETED":
		return COMPLETED, nil
	case "FAILED":
		return FAILED, nil
	case "CLOSED":
		return CLOSED, nil
	}
	return 0, fmt.Errorf("unknown ticket status %q", s)
}

// Returns true if s carries a reply.
func (s Status) HasReply() bool {
	return s == COMPLETED || s == FAILED
}

// CanTransition reports whether a ticket may move from one status to another.
// PENDING -> CLOSED is allowed: a client may abandon a request it no longer wants.
func CanTransition(from, to Status) bool {
	switch from {
	case PENDING:
		return to == COMPLETED || to == FAILED || to == CLOSED
	case COMPLETED, FAILED:
		return to == CLOSED
	default:
		return false
	}
}

// A 16 byte ticket identifier. On the wire it is sent in its canonical string form.
type ID uuid.UUID

func NewID() ID {
	return ID(uuid.New())
}

func ParseID(s string) (ID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return ID{}, fmt.Errorf("bad ticket id %q: %w", s, err)
	}
	return ID(u), nil
}

func IDFromBytes(b []byte) (ID, error) {
	u, err := uuid.FromBytes(b)
	if err != nil {
		return ID{}, fmt.Errorf("bad ticket id: %w", err)
	}
	return ID(u), nil
}

func (id ID) String() string {
	return uuid.UUID(id).String()
}

func (id ID) Bytes() []byte {
	b := make([]byte, len(id))
	copy(b, id[:])
	return b
}

type Ticket struct {
	ID       ID
	Service  string
	Request  [][]byte
	Status   Status
	Sequence uint64

	// Set iff Status is COMPLETED or FAILED. Reply is empty for FAILED tickets.
	HasReply  bool
	ReplyCode string
	Reply     [][]byte

	CreatedAt time.Time
	UpdatedAt time.Time
}

// New returns a PENDING ticket. The request frames are copied.
func New(id ID, service string, request [][]byte, sequence uint64, now time.Time) *Ticket {
	return &Ticket{
		ID:        id,
		Service:   service,
		Request:   copyFrames(request),
		Status:    PENDING,
		Sequence:  sequence,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

/*
Resolve records a worker reply. code 200 makes the ticket COMPLETED and keeps the reply
frames; 400 and 500 make it FAILED and discard them. Any other code, or a ticket that is
not PENDING, results in ErrInvalidTransition.
*/
func (t *Ticket) Resolve(code string, frames [][]byte, now time.Time) error {
	var next Status
	switch code {
	case proto.STATUS_OK:
		next = COMPLETED
	case proto.STATUS_CLIENT_ERROR, proto.STATUS_SERVER_ERROR:
		next = FAILED
	default:
		return fmt.Errorf("%w: reply code %q", ErrInvalidTransition, code)
	}
	if !CanTransition(t.Status, next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, t.Status, next)
	}

	t.Status = next
	t.HasReply = true
	t.ReplyCode = code
	if next == COMPLETED {
		t.Reply = copyFrames(frames)
	} else {
		t.Reply = nil
	}
	t.UpdatedAt = now
	return nil
}

// Close moves the ticket to CLOSED. Closing a closed ticket is a no-op.
func (t *Ticket) Close(now time.Time) error {
	if t.Status == CLOSED {
		return nil
	}
	if !CanTransition(t.Status, CLOSED) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, t.Status, CLOSED)
	}
	t.Status = CLOSED
	t.UpdatedAt = now
	return nil
}

// Validate checks the reply invariant.
func (t *Ticket) Validate() error {
	if t.Service == "" {
		return errors.New("ticket has no service")
	}
	if t.HasReply != t.Status.HasReply() && t.Status != CLOSED {
		return fmt.Errorf("ticket %s is %s but has_reply=%v", t.ID, t.Status, t.HasReply)
	}
	if t.Status == FAILED && len(t.Reply) > 0 {
		return fmt.Errorf("failed ticket %s carries a payload", t.ID)
	}
	return nil
}

func (t *Ticket) ToRecord() *proto.TicketRecord {
	return &proto.TicketRecord{
		Id:        t.ID.Bytes(),
		Service:   t.Service,
		Request:   t.Request,
		Status:    int32(t.Status),
		ReplyCode: t.ReplyCode,
		Reply:     t.Reply,
		HasReply:  t.HasReply,
		CreatedAt: t.CreatedAt.UnixNano(),
		UpdatedAt: t.UpdatedAt.UnixNano(),
		Sequence:  t.Sequence,
	}
}

func FromRecord(rec *proto.TicketRecord) (*Ticket, error) {
	id, err := IDFromBytes(rec.GetId())
	if err != nil {
		return nil, err
	}
	t := &Ticket{
		ID:        id,
		Service:   rec.GetService(),
		Request:   nonNilFrames(rec.Request),
		Status:    Status(rec.GetStatus()),
		Sequence:  rec.Sequence,
		HasReply:  rec.HasReply,
		ReplyCode: rec.ReplyCode,
		CreatedAt: time.Unix(0, rec.CreatedAt),
		UpdatedAt: time.Unix(0, rec.UpdatedAt),
	}
	if rec.HasReply {
		t.Reply = nonNilFrames(rec.Reply)
	}
	return t, t.Validate()
}

func copyFrames(frames [][]byte) [][]byte {
	out := make([][]byte, len(frames))
	for i, f := range frames {
		out[i] = append([]byte{}, f...)
	}
	return out
}

// Decoders may return nil for empty frames.
func nonNilFrames(frames [][]byte) [][]byte {
	out := make([][]byte, len(frames))
	for i, f := range frames {
		if f == nil {
			f = []byte{}
		}
		out[i] = f
	}
	return out
}
