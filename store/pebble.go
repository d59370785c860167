package store

import (
	"bytes"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/cockroachdb/pebble"
	"github.com/dermesser/titanic/proto"
	"github.com/dermesser/titanic/ticket"
)

var (
	ticket_prefix = []byte("ticket/")
	// '0' follows '/', so this bounds all keys with ticket_prefix.
	ticket_prefix_end = []byte("ticket0")
)

// PebbleStore keeps one protobuf-encoded TicketRecord per key "ticket/<16 byte id>".
type PebbleStore struct {
	mx sync.Mutex
	db *pebble.DB
}

func OpenPebble(dir string) (*PebbleStore, error) {
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("opening pebble store at %s: %w", dir, err)
	}
	return &PebbleStore{db: db}, nil
}

func ticketKey(id ticket.ID) []byte {
	k := make([]byte, 0, len(ticket_prefix)+len(id))
	k = append(k, ticket_prefix...)
	return append(k, id[:]...)
}

func (s *PebbleStore) exists(key []byte) (bool, error) {
	_, closer, err := s.db.Get(key)
	if err == nil {
		closer.Close()
		return true, nil
	} else if errors.Is(err, pebble.ErrNotFound) {
		return false, nil
	}
	return false, err
}

func (s *PebbleStore) put(key []byte, t *ticket.Ticket) error {
	buf, err := proto.EncodeTicketRecord(t.ToRecord())
	if err != nil {
		return fmt.Errorf("encoding ticket %s: %w", t.ID, err)
	}
	if err := s.db.Set(key, buf, pebble.Sync); err != nil {
		return fmt.Errorf("writing ticket %s: %w", t.ID, err)
	}
	return nil
}

func (s *PebbleStore) Insert(t *ticket.Ticket) error {
	s.mx.Lock()
	defer s.mx.Unlock()

	key := ticketKey(t.ID)
	ok, err := s.exists(key)
	if err != nil {
		return err
	} else if ok {
		return fmt.Errorf("%w: %s", ErrExists, t.ID)
	}
	return s.put(key, t)
}

func (s *PebbleStore) Update(t *ticket.Ticket) error {
	s.mx.Lock()
	defer s.mx.Unlock()

	key := ticketKey(t.ID)
	ok, err := s.exists(key)
	if err != nil {
		return err
	} else if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, t.ID)
	}
	return s.put(key, t)
}

func (s *PebbleStore) Get(id ticket.ID) (*ticket.Ticket, error) {
	val, closer, err := s.db.Get(ticketKey(id))
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	} else if err != nil {
		return nil, err
	}
	// val is only valid until closer.Close()
	buf := bytes.Clone(val)
	closer.Close()

	return decodeTicket(buf)
}

func (s *PebbleStore) Delete(id ticket.ID) error {
	s.mx.Lock()
	defer s.mx.Unlock()

	if err := s.db.Delete(ticketKey(id), pebble.Sync); err != nil {
		return fmt.Errorf("deleting ticket %s: %w", id, err)
	}
	return nil
}

func (s *PebbleStore) Scan(fn func(*ticket.Ticket) error) error {
	iter, err := s.db.NewIter(&pebble.IterOptions{LowerBound: ticket_prefix, UpperBound: ticket_prefix_end})
	if err != nil {
		return err
	}

	// Keys are ordered by id, not by submission; collect and sort.
	var tickets []*ticket.Ticket
	for iter.First(); iter.Valid(); iter.Next() {
		t, err := decodeTicket(bytes.Clone(iter.Value()))
		if err != nil {
			iter.Close()
			return fmt.Errorf("decoding %x: %w", iter.Key(), err)
		}
		tickets = append(tickets, t)
	}
	if err := iter.Close(); err != nil {
		return err
	}

	sort.Slice(tickets, func(i, j int) bool { return tickets[i].Sequence < tickets[j].Sequence })
	for _, t := range tickets {
		if err := fn(t); err != nil {
			return err
		}
	}
	return nil
}

func (s *PebbleStore) Close() error {
	return s.db.Close()
}

func decodeTicket(buf []byte) (*ticket.Ticket, error) {
	rec, err := proto.DecodeTicketRecord(buf)
	if err != nil {
		return nil, err
	}
	return ticket.FromRecord(rec)
}
