package broker

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/dermesser/titanic/broker/queue"
	"github.com/dermesser/titanic/log"
	"github.com/dermesser/titanic/proto"
	"github.com/dermesser/titanic/store"
	"github.com/dermesser/titanic/ticket"
)

var (
	ErrEmptyService = errors.New("service name is empty")
	// Returned for tickets that were closed, have expired or were never issued. The broker
	// cannot tell these apart; a client that needs to must remember which tickets it has
	// seen in a terminal state.
	ErrUnknownTicket = errors.New("unknown ticket")
	ErrNotReady      = errors.New("ticket has no reply yet")
	ErrTicketFailed  = errors.New("ticket failed")
	ErrUnknownWorker = errors.New("unknown worker")
	ErrStaleReply    = errors.New("stale worker reply")
)

// FailedError is returned by Retrieve for FAILED tickets. errors.Is(err, ErrTicketFailed) holds.
type FailedError struct {
	Ticket ticket.ID
	// The code the worker replied with: proto.STATUS_CLIENT_ERROR or proto.STATUS_SERVER_ERROR
	Code string
}

func (e *FailedError) Error() string {
	return fmt.Sprintf("ticket %s failed: %s", e.Ticket, proto.StatusToString(e.Code))
}

func (e *FailedError) Is(target error) bool {
	return target == ErrTicketFailed
}

// An Assignment is a ticket in flight to a worker. Fence is unique per assignment; a
// worker reply is only accepted if it carries the fence of the live assignment.
type Assignment struct {
	Ticket   ticket.ID
	Service  string
	Worker   WorkerID
	Fence    uint64
	Sequence uint64
	Since    time.Time
}

// A Sender delivers work to workers. An error means the worker could not be reached; the
// broker then drops the worker and requeues the ticket.
type Sender interface {
	SendRequest(a Assignment, request [][]byte) error
}

type Options struct {
	// Workers not heard from for this long are evicted by PurgeExpired.
	WorkerExpiry time.Duration
	// Soft limit of queued tickets per service; above 80% of it, a warning is logged.
	BacklogWarning int
	// Clock; time.Now if nil.
	Now func() time.Time
}

func DefaultOptions() Options {
	return Options{WorkerExpiry: 7500 * time.Millisecond, BacklogWarning: 1000}
}

/*
Broker implements the ticket lifecycle and dispatch of requests to workers.

All mutating operations (Submit, Close, OnWorkerReply, RegisterWorker, UnregisterWorker,
Heartbeat, PurgeExpired) are serialized by one mutex. Poll and Retrieve are point reads
of the store and run concurrently with them.

Tickets wait in one FIFO per service, ordered by submission. When a worker becomes
available (on registration or after replying), the head of its service's queue is sent
to it. Tickets of workers that disappear go back to the head of the queue.
*/
type Broker struct {
	mx sync.Mutex

	store   store.Store
	sender  Sender
	options Options

	workers     *DispatchTable
	queues      map[string]*queue.Queue[queuedTicket]
	assignments map[ticket.ID]*Assignment

	sequence uint64
	fence    uint64
}

type queuedTicket struct {
	id       ticket.ID
	sequence uint64
}

/*
NewBroker creates a broker on top of st and recovers its state: every PENDING ticket in
the store is queued again in submission order. Tickets that were in flight before a
restart are therefore dispatched again (at-least-once delivery).
*/
func NewBroker(st store.Store, sender Sender, opts Options) (*Broker, error) {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.WorkerExpiry <= 0 {
		opts.WorkerExpiry = DefaultOptions().WorkerExpiry
	}
	if opts.BacklogWarning <= 0 {
		opts.BacklogWarning = DefaultOptions().BacklogWarning
	}

	b := &Broker{
		store:       st,
		sender:      sender,
		options:     opts,
		workers:     NewDispatchTable(),
		queues:      make(map[string]*queue.Queue[queuedTicket]),
		assignments: make(map[ticket.ID]*Assignment),
		// Fences must not repeat across restarts: a worker may still answer an assignment
		// made by the previous broker process.
		fence: uint64(opts.Now().UnixNano()),
	}

	var pending, done, closed int
	err := st.Scan(func(t *ticket.Ticket) error {
		if t.Sequence > b.sequence {
			b.sequence = t.Sequence
		}
		switch t.Status {
		case ticket.PENDING:
			b.serviceQueue(t.Service).Push(queuedTicket{id: t.ID, sequence: t.Sequence})
			pending++
		case ticket.CLOSED:
			closed++
			return st.Delete(t.ID)
		default:
			done++
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("recovering tickets: %w", err)
	}

	log.Event(log.LOGLEVEL_INFO).Int("pending", pending).Int("done", done).Int("purged", closed).
		Uint64("sequence", b.sequence).Msg("Recovered ticket store")
	return b, nil
}

func (b *Broker) now() time.Time {
	return b.options.Now()
}

func (b *Broker) serviceQueue(service string) *queue.Queue[queuedTicket] {
	q, ok := b.queues[service]
	if !ok {
		q = queue.NewQueue[queuedTicket](16)
		b.queues[service] = q
	}
	return q
}

/*
Submit stores a new PENDING ticket for service and returns its id. The request is sent to
an idle worker right away if there is one, otherwise it is queued. Submit never waits for
a worker. If the ticket cannot be stored durably, Submit fails.
*/
func (b *Broker) Submit(service string, request [][]byte) (ticket.ID, error) {
	if service == "" {
		return ticket.ID{}, ErrEmptyService
	}

	b.mx.Lock()
	defer b.mx.Unlock()

	b.sequence++
	t := ticket.New(ticket.NewID(), service, request, b.sequence, b.now())

	if err := b.store.Insert(t); err != nil {
		log.Event(log.LOGLEVEL_ERRORS).Err(err).Str("service", service).Msg("Could not persist request")
		return ticket.ID{}, fmt.Errorf("persisting request: %w", err)
	}

	q := b.serviceQueue(service)
	q.Push(queuedTicket{id: t.ID, sequence: t.Sequence})
	if q.Len() > int(0.8*float64(b.options.BacklogWarning)) {
		log.Log(log.LOGLEVEL_WARNINGS, "Queue for", service, "is at more than 80% of the backlog limit: (qlen/limit)",
			q.Len(), b.options.BacklogWarning)
	}

	log.Event(log.LOGLEVEL_DEBUG).Str("ticket", t.ID.String()).Str("service", service).
		Int("frames", len(request)).Msg("Stored request")

	b.dispatch(service)
	return t.ID, nil
}

func (b *Broker) get(id ticket.ID) (*ticket.Ticket, error) {
	t, err := b.store.Get(id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrUnknownTicket
	} else if err != nil {
		return nil, fmt.Errorf("reading ticket %s: %w", id, err)
	}
	return t, nil
}

// Poll returns the status of a ticket, or ErrUnknownTicket.
func (b *Broker) Poll(id ticket.ID) (ticket.Status, error) {
	t, err := b.get(id)
	if err != nil {
		return 0, err
	}
	return t.Status, nil
}

/*
Retrieve returns the reply frames of a COMPLETED ticket. It returns ErrNotReady for
PENDING tickets, a *FailedError for FAILED tickets and ErrUnknownTicket if there is no
such ticket. Retrieve has no side effects.
*/
func (b *Broker) Retrieve(id ticket.ID) ([][]byte, error) {
	t, err := b.get(id)
	if err != nil {
		return nil, err
	}
	switch t.Status {
	case ticket.COMPLETED:
		return t.Reply, nil
	case ticket.FAILED:
		return nil, &FailedError{Ticket: id, Code: t.ReplyCode}
	case ticket.PENDING:
		return nil, ErrNotReady
	default:
		return nil, ErrUnknownTicket
	}
}

/*
Close closes a ticket and deletes it from the store. Closing an unknown or already closed
ticket succeeds. A PENDING ticket may be closed too: it is taken out of its queue, and a
reply to it that arrives later is discarded.
*/
func (b *Broker) Close(id ticket.ID) error {
	b.mx.Lock()
	defer b.mx.Unlock()

	t, err := b.get(id)
	if err == ErrUnknownTicket {
		return nil
	} else if err != nil {
		return err
	}

	if err := t.Close(b.now()); err != nil {
		return err
	}
	if err := b.store.Delete(id); err != nil {
		log.Event(log.LOGLEVEL_ERRORS).Err(err).Str("ticket", id.String()).Msg("Could not delete ticket")
		return fmt.Errorf("deleting ticket: %w", err)
	}

	if q, ok := b.queues[t.Service]; ok {
		q.Remove(func(e queuedTicket) bool { return e.id == id })
	}
	// The worker stays BUSY until it replies; the reply won't match any ticket.
	delete(b.assignments, id)

	log.Event(log.LOGLEVEL_DEBUG).Str("ticket", id.String()).Msg("Closed ticket")
	return nil
}

/*
OnWorkerReply records the reply of a worker to the assignment identified by (id, fence).
status 200 completes the ticket, 400 and 500 fail it. Replies that don't match the
worker's live assignment return ErrStaleReply and change nothing. After a matching reply
the worker is idle and receives the next queued ticket of its service.
*/
func (b *Broker) OnWorkerReply(worker WorkerID, id ticket.ID, fence uint64, status string, frames [][]byte) error {
	b.mx.Lock()
	defer b.mx.Unlock()

	w := b.workers.Get(worker)
	if w == nil {
		log.Event(log.LOGLEVEL_WARNINGS).Str("worker", log.Printable([]byte(worker))).Str("ticket", id.String()).
			Msg("Reply from unknown worker")
		return ErrUnknownWorker
	}
	w.LastSeen = b.now()

	a := w.assignment
	if a == nil || a.Ticket != id || a.Fence != fence {
		log.Event(log.LOGLEVEL_WARNINGS).Str("worker", log.Printable([]byte(worker))).Str("ticket", id.String()).
			Uint64("fence", fence).Msg("Discarding stale reply")
		return ErrStaleReply
	}

	live := b.assignments[id] == a
	if live {
		delete(b.assignments, id)
	}
	b.workers.MarkIdle(w)
	defer b.dispatch(w.Service)

	if !live {
		// Closed while in flight.
		log.Event(log.LOGLEVEL_DEBUG).Str("ticket", id.String()).Msg("Discarding reply to closed ticket")
		return nil
	}

	if err := b.resolve(a, status, frames); err != nil {
		// Try again with another worker; delivery is at-least-once.
		b.serviceQueue(a.Service).PushFront(queuedTicket{id: a.Ticket, sequence: a.Sequence})
		return err
	}
	return nil
}

func (b *Broker) resolve(a *Assignment, status string, frames [][]byte) error {
	if !proto.IsWorkerStatus(status) {
		log.Event(log.LOGLEVEL_WARNINGS).Str("ticket", a.Ticket.String()).Str("status", log.Printable([]byte(status))).
			Msg("Worker replied with invalid status")
		return fmt.Errorf("invalid worker status %q", status)
	}

	t, err := b.get(a.Ticket)
	if err != nil {
		return err
	}
	if err = t.Resolve(status, frames, b.now()); err != nil {
		return err
	}
	if err = b.store.Update(t); err != nil {
		log.Event(log.LOGLEVEL_ERRORS).Err(err).Str("ticket", t.ID.String()).Msg("Could not persist reply")
		return fmt.Errorf("persisting reply: %w", err)
	}

	log.Event(log.LOGLEVEL_DEBUG).Str("ticket", t.ID.String()).Str("status", t.Status.String()).
		Dur("latency", b.now().Sub(a.Since)).Msg("Recorded reply")
	return nil
}

/*
RegisterWorker registers worker for service and makes it available for work. A worker
that registers again (e.g. after reconnecting with the same identity) loses its current
assignment, which is requeued.
*/
func (b *Broker) RegisterWorker(worker WorkerID, service string) error {
	if service == "" {
		return ErrEmptyService
	}

	b.mx.Lock()
	defer b.mx.Unlock()

	b.unregister(worker)
	w := b.workers.Register(worker, service, b.now())
	b.workers.MarkIdle(w)

	log.Event(log.LOGLEVEL_INFO).Str("worker", log.Printable([]byte(worker))).Str("service", service).
		Msg("Registered worker")

	b.dispatch(service)
	return nil
}

// UnregisterWorker removes a worker. Its assignment, if any, goes back to the head of
// the queue.
func (b *Broker) UnregisterWorker(worker WorkerID) {
	b.mx.Lock()
	defer b.mx.Unlock()

	if w := b.unregister(worker); w != nil {
		log.Event(log.LOGLEVEL_INFO).Str("worker", log.Printable([]byte(worker))).Str("service", w.Service).
			Msg("Unregistered worker")
		b.dispatch(w.Service)
	}
}

func (b *Broker) unregister(worker WorkerID) *WorkerHandle {
	w := b.workers.Unregister(worker)
	if w == nil {
		return nil
	}
	if a := w.assignment; a != nil && b.assignments[a.Ticket] == a {
		delete(b.assignments, a.Ticket)
		b.serviceQueue(a.Service).PushFront(queuedTicket{id: a.Ticket, sequence: a.Sequence})
	}
	return w
}

// Heartbeat refreshes a worker's liveness. Returns false if the worker is not registered.
func (b *Broker) Heartbeat(worker WorkerID) bool {
	b.mx.Lock()
	defer b.mx.Unlock()

	w := b.workers.Get(worker)
	if w == nil {
		return false
	}
	w.LastSeen = b.now()
	return true
}

/*
PurgeExpired evicts all workers that have been silent for longer than the worker expiry
and returns their ids. Their assignments go back to the heads of their queues, in
submission order, and are dispatched to other idle workers.
*/
func (b *Broker) PurgeExpired() []WorkerID {
	b.mx.Lock()
	defer b.mx.Unlock()

	expired := b.workers.Expired(b.now(), b.options.WorkerExpiry)
	if len(expired) == 0 {
		return nil
	}

	// Requeue the youngest ticket first so that the oldest ends up at the head.
	sort.Slice(expired, func(i, j int) bool {
		return assignmentSequence(expired[i]) > assignmentSequence(expired[j])
	})

	ids := make([]WorkerID, 0, len(expired))
	services := make(map[string]bool)
	for _, w := range expired {
		log.Event(log.LOGLEVEL_WARNINGS).Str("worker", log.Printable([]byte(w.ID))).Str("service", w.Service).
			Time("last_seen", w.LastSeen).Msg("Evicting silent worker")
		b.unregister(w.ID)
		ids = append(ids, w.ID)
		services[w.Service] = true
	}
	for service := range services {
		b.dispatch(service)
	}
	return ids
}

func assignmentSequence(w *WorkerHandle) uint64 {
	if w.assignment == nil {
		return 0
	}
	return w.assignment.Sequence
}

// Workers returns the ids of all registered workers.
func (b *Broker) Workers() []WorkerID {
	b.mx.Lock()
	defer b.mx.Unlock()

	ids := make([]WorkerID, 0, b.workers.Len())
	b.workers.Each(func(w *WorkerHandle) { ids = append(ids, w.ID) })
	return ids
}

/*
dispatch matches queued tickets of service with idle workers until one side runs out.
Must be called with b.mx held.
*/
func (b *Broker) dispatch(service string) {
	q, ok := b.queues[service]
	if !ok {
		return
	}

	for q.Len() > 0 {
		w := b.workers.SelectIdle(service)
		if w == nil {
			return
		}
		head, _ := q.Pop()

		t, err := b.get(head.id)
		if err == ErrUnknownTicket {
			b.workers.MarkIdle(w)
			continue
		} else if err != nil {
			log.Event(log.LOGLEVEL_ERRORS).Err(err).Str("ticket", head.id.String()).Msg("Could not load queued ticket")
			q.PushFront(head)
			b.workers.MarkIdle(w)
			return
		}
		if t.Status != ticket.PENDING {
			b.workers.MarkIdle(w)
			continue
		}

		b.fence++
		a := &Assignment{Ticket: t.ID, Service: service, Worker: w.ID, Fence: b.fence, Sequence: t.Sequence, Since: b.now()}

		if err := b.sender.SendRequest(*a, t.Request); err != nil {
			// The handle is stale; forget the worker and try the next one.
			log.Event(log.LOGLEVEL_WARNINGS).Err(err).Str("worker", log.Printable([]byte(w.ID))).
				Str("ticket", t.ID.String()).Msg("Could not send request to worker")
			b.workers.Unregister(w.ID)
			q.PushFront(head)
			continue
		}

		w.assignment = a
		b.assignments[t.ID] = a

		log.Event(log.LOGLEVEL_DEBUG).Str("ticket", t.ID.String()).Str("worker", log.Printable([]byte(w.ID))).
			Uint64("fence", a.Fence).Msg("Dispatched request")
	}
}

type Stats struct {
	Workers     int
	IdleWorkers int
	InFlight    int
	// Number of queued tickets per service
	Queued map[string]int
}

func (b *Broker) Stats() Stats {
	b.mx.Lock()
	defer b.mx.Unlock()

	s := Stats{Workers: b.workers.Len(), InFlight: len(b.assignments), Queued: make(map[string]int)}
	b.workers.Each(func(w *WorkerHandle) {
		if w.State == IDLE {
			s.IdleWorkers++
		}
	})
	for service, q := range b.queues {
		if q.Len() > 0 {
			s.Queued[service] = q.Len()
		}
	}
	return s
}
