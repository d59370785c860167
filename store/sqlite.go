package store

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/dermesser/titanic/proto"
	"github.com/dermesser/titanic/ticket"
	sqlite3 "github.com/mattn/go-sqlite3"
	"github.com/vmihailenco/msgpack/v5"
)

const sqlite_schema = `
CREATE TABLE IF NOT EXISTS tickets (
	id BLOB PRIMARY KEY,
	service TEXT NOT NULL,
	status TEXT NOT NULL CHECK (status IN ('PENDING','COMPLETED','FAILED','CLOSED')),
	sequence INTEGER NOT NULL,
	request BLOB NOT NULL,
	has_reply INTEGER NOT NULL DEFAULT 0,
	reply_code TEXT NOT NULL DEFAULT '',
	reply BLOB,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_tickets_sequence ON tickets(sequence);
`

const ticket_columns = `id, service, status, sequence, request, has_reply, reply_code, reply, created_at, updated_at`

// SQLiteStore keeps one row per ticket. Frame lists are stored as msgpack arrays.
type SQLiteStore struct {
	db *sql.DB
}

func OpenSQLite(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}
	// SQLite serializes writers anyway; one connection keeps the pragmas in effect.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		`PRAGMA journal_mode=WAL;`,
		`PRAGMA synchronous=FULL;`,
		`PRAGMA busy_timeout=5000;`,
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}
	if _, err := db.Exec(sqlite_schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

type ticketRow struct {
	service, status, reply_code string
	sequence                    uint64
	request, reply              []byte
	has_reply                   bool
	created_at, updated_at      int64
}

func encodeRow(t *ticket.Ticket) (*ticketRow, error) {
	request, err := msgpack.Marshal(t.Request)
	if err != nil {
		return nil, err
	}
	row := &ticketRow{
		service:    t.Service,
		status:     t.Status.String(),
		reply_code: t.ReplyCode,
		sequence:   t.Sequence,
		request:    request,
		has_reply:  t.HasReply,
		created_at: t.CreatedAt.UnixNano(),
		updated_at: t.UpdatedAt.UnixNano(),
	}
	if t.HasReply {
		if row.reply, err = msgpack.Marshal(t.Reply); err != nil {
			return nil, err
		}
	}
	return row, nil
}

func (s *SQLiteStore) Insert(t *ticket.Ticket) error {
	row, err := encodeRow(t)
	if err != nil {
		return fmt.Errorf("encoding ticket %s: %w", t.ID, err)
	}
	_, err = s.db.Exec(`INSERT INTO tickets (`+ticket_columns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID.Bytes(), row.service, row.status, row.sequence, row.request, row.has_reply, row.reply_code, row.reply,
		row.created_at, row.updated_at)

	var sqlerr sqlite3.Error
	if errors.As(err, &sqlerr) && sqlerr.Code == sqlite3.ErrConstraint {
		return fmt.Errorf("%w: %s", ErrExists, t.ID)
	} else if err != nil {
		return fmt.Errorf("writing ticket %s: %w", t.ID, err)
	}
	return nil
}

func (s *SQLiteStore) Update(t *ticket.Ticket) error {
	row, err := encodeRow(t)
	if err != nil {
		return fmt.Errorf("encoding ticket %s: %w", t.ID, err)
	}
	res, err := s.db.Exec(`UPDATE tickets SET service = ?, status = ?, sequence = ?, request = ?, has_reply = ?,
		reply_code = ?, reply = ?, created_at = ?, updated_at = ? WHERE id = ?`,
		row.service, row.status, row.sequence, row.request, row.has_reply, row.reply_code, row.reply,
		row.created_at, row.updated_at, t.ID.Bytes())
	if err != nil {
		return fmt.Errorf("writing ticket %s: %w", t.ID, err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return err
	} else if n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, t.ID)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTicket(r rowScanner) (*ticket.Ticket, error) {
	var id []byte
	var row ticketRow
	err := r.Scan(&id, &row.service, &row.status, &row.sequence, &row.request, &row.has_reply, &row.reply_code,
		&row.reply, &row.created_at, &row.updated_at)
	if err != nil {
		return nil, err
	}

	status, err := ticket.ParseStatus(row.status)
	if err != nil {
		return nil, err
	}
	rec := &proto.TicketRecord{
		Id:        id,
		Service:   row.service,
		Status:    int32(status),
		ReplyCode: row.reply_code,
		HasReply:  row.has_reply,
		CreatedAt: row.created_at,
		UpdatedAt: row.updated_at,
		Sequence:  row.sequence,
	}
	if err := msgpack.Unmarshal(row.request, &rec.Request); err != nil {
		return nil, fmt.Errorf("decoding request frames: %w", err)
	}
	if row.has_reply && len(row.reply) > 0 {
		if err := msgpack.Unmarshal(row.reply, &rec.Reply); err != nil {
			return nil, fmt.Errorf("decoding reply frames: %w", err)
		}
	}
	return ticket.FromRecord(rec)
}

func (s *SQLiteStore) Get(id ticket.ID) (*ticket.Ticket, error) {
	t, err := scanTicket(s.db.QueryRow(`SELECT `+ticket_columns+` FROM tickets WHERE id = ?`, id.Bytes()))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return t, err
}

func (s *SQLiteStore) Delete(id ticket.ID) error {
	if _, err := s.db.Exec(`DELETE FROM tickets WHERE id = ?`, id.Bytes()); err != nil {
		return fmt.Errorf("deleting ticket %s: %w", id, err)
	}
	return nil
}

func (s *SQLiteStore) Scan(fn func(*ticket.Ticket) error) error {
	rows, err := s.db.Query(`SELECT ` + ticket_columns + ` FROM tickets ORDER BY sequence`)
	if err != nil {
		return err
	}

	// Read everything first: fn may call back into the store, and there is only one connection.
	var tickets []*ticket.Ticket
	for rows.Next() {
		t, err := scanTicket(rows)
		if err != nil {
			rows.Close()
			return err
		}
		tickets = append(tickets, t)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return err
	}
	rows.Close()

	for _, t := range tickets {
		if err := fn(t); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
