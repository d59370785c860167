package store

import (
	"bytes"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/dermesser/titanic/proto"
	"github.com/dermesser/titanic/ticket"
)

type opener func(t *testing.T, path string) Store

var backends = map[string]opener{
	BACKEND_PEBBLE: func(t *testing.T, path string) Store {
		s, err := Open(BACKEND_PEBBLE, filepath.Join(path, "pebble"))
		if err != nil {
			t.Fatal(err)
		}
		return s
	},
	BACKEND_SQLITE: func(t *testing.T, path string) Store {
		s, err := Open(BACKEND_SQLITE, filepath.Join(path, "tickets.db"))
		if err != nil {
			t.Fatal(err)
		}
		return s
	},
}

func forEachBackend(t *testing.T, f func(t *testing.T, dir string, open opener)) {
	for name, open := range backends {
		t.Run(name, func(t *testing.T) {
			f(t, t.TempDir(), open)
		})
	}
}

func newTicket(seq uint64) *ticket.Ticket {
	return ticket.New(ticket.NewID(), "echo", [][]byte{[]byte("Hello world"), {}}, seq, time.Unix(1000, int64(seq)))
}

func TestInsertGet(t *testing.T) {
	forEachBackend(t, func(t *testing.T, dir string, open opener) {
		s := open(t, dir)
		defer s.Close()

		tk := newTicket(1)
		if err := s.Insert(tk); err != nil {
			t.Fatal(err)
		}
		back, err := s.Get(tk.ID)
		if err != nil {
			t.Fatal(err)
		}
		if back.ID != tk.ID || back.Service != "echo" || back.Status != ticket.PENDING || back.HasReply {
			t.Fatal("wrong ticket:", back)
		}
		if len(back.Request) != 2 || !bytes.Equal(back.Request[0], []byte("Hello world")) || len(back.Request[1]) != 0 {
			t.Error("request frames differ:", back.Request)
		}
		if !back.CreatedAt.Equal(tk.CreatedAt) {
			t.Error("created_at differs", back.CreatedAt, tk.CreatedAt)
		}
	})
}

func TestInsertTwice(t *testing.T) {
	forEachBackend(t, func(t *testing.T, dir string, open opener) {
		s := open(t, dir)
		defer s.Close()

		tk := newTicket(1)
		if err := s.Insert(tk); err != nil {
			t.Fatal(err)
		}
		if err := s.Insert(tk); !errors.Is(err, ErrExists) {
			t.Fatal("expected ErrExists, got", err)
		}
	})
}

func TestUpdate(t *testing.T) {
	forEachBackend(t, func(t *testing.T, dir string, open opener) {
		s := open(t, dir)
		defer s.Close()

		tk := newTicket(1)
		if err := s.Update(tk); !errors.Is(err, ErrNotFound) {
			t.Fatal("expected ErrNotFound for missing ticket, got", err)
		}
		s.Insert(tk)

		tk.Resolve(proto.STATUS_OK, [][]byte{{0x00, 0xff}, []byte("done")}, time.Unix(2000, 0))
		if err := s.Update(tk); err != nil {
			t.Fatal(err)
		}
		back, err := s.Get(tk.ID)
		if err != nil {
			t.Fatal(err)
		}
		if back.Status != ticket.COMPLETED || back.ReplyCode != proto.STATUS_OK || !back.HasReply {
			t.Fatal("wrong state", back.Status, back.ReplyCode)
		}
		if !bytes.Equal(back.Reply[0], []byte{0x00, 0xff}) || string(back.Reply[1]) != "done" {
			t.Error("reply differs:", back.Reply)
		}
	})
}

func TestDeleteIsIdempotent(t *testing.T) {
	forEachBackend(t, func(t *testing.T, dir string, open opener) {
		s := open(t, dir)
		defer s.Close()

		tk := newTicket(1)
		s.Insert(tk)
		if err := s.Delete(tk.ID); err != nil {
			t.Fatal(err)
		}
		if err := s.Delete(tk.ID); err != nil {
			t.Fatal(err)
		}
		if _, err := s.Get(tk.ID); !errors.Is(err, ErrNotFound) {
			t.Fatal("expected ErrNotFound, got", err)
		}
	})
}

func TestScanOrderAndReopen(t *testing.T) {
	forEachBackend(t, func(t *testing.T, dir string, open opener) {
		s := open(t, dir)

		var ids []ticket.ID
		for seq := uint64(5); seq > 0; seq-- {
			tk := newTicket(seq)
			ids = append([]ticket.ID{tk.ID}, ids...)
			if err := s.Insert(tk); err != nil {
				t.Fatal(err)
			}
		}
		failed := newTicket(6)
		s.Insert(failed)
		failed.Resolve(proto.STATUS_SERVER_ERROR, nil, time.Now())
		s.Update(failed)

		s.Delete(ids[2])
		if err := s.Close(); err != nil {
			t.Fatal(err)
		}

		// Simulated restart.
		s = open(t, dir)
		defer s.Close()

		var seen []*ticket.Ticket
		err := s.Scan(func(tk *ticket.Ticket) error {
			seen = append(seen, tk)
			return nil
		})
		if err != nil {
			t.Fatal(err)
		}
		if len(seen) != 5 {
			t.Fatal("expected 5 tickets, got", len(seen))
		}
		want := []ticket.ID{ids[0], ids[1], ids[3], ids[4], failed.ID}
		for i := range want {
			if seen[i].ID != want[i] {
				t.Error("position", i, "has", seen[i].ID, "want", want[i])
			}
		}
		if last := seen[4]; last.Status != ticket.FAILED || last.ReplyCode != proto.STATUS_SERVER_ERROR || len(last.Reply) != 0 {
			t.Error("failed ticket not restored:", last.Status, last.ReplyCode, last.Reply)
		}
	})
}

func TestScanStopsOnError(t *testing.T) {
	forEachBackend(t, func(t *testing.T, dir string, open opener) {
		s := open(t, dir)
		defer s.Close()

		s.Insert(newTicket(1))
		s.Insert(newTicket(2))

		stop := errors.New("stop")
		calls := 0
		err := s.Scan(func(*ticket.Ticket) error {
			calls++
			return stop
		})
		if err != stop || calls != 1 {
			t.Fatal("Scan did not stop:", err, calls)
		}
	})
}

func TestUnknownBackend(t *testing.T) {
	if _, err := Open("bogus", t.TempDir()); err == nil {
		t.Fatal("opened unknown backend")
	}
}
