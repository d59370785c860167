package broker

import (
	"time"

	"github.com/dermesser/titanic/broker/queue"
)

// The transport identity of a worker (its ROUTER identity on the backend socket).
type WorkerID string

type WorkerState int

const (
	IDLE WorkerState = iota
	BUSY
)

func (s WorkerState) String() string {
	if s == IDLE {
		return "IDLE"
	}
	return "BUSY"
}

// A worker connected to the broker. Owned by the DispatchTable; never outlives the
// worker's registration.
type WorkerHandle struct {
	ID       WorkerID
	Service  string
	State    WorkerState
	LastSeen time.Time

	// Set while the worker is BUSY.
	assignment *Assignment
}

/*
DispatchTable tracks registered workers per service. Idle workers of a service are kept
in a FIFO: the worker that has been idle longest is selected first, which makes the
selection round-robin among ready workers.

A DispatchTable is not safe for concurrent use; the Broker serializes access.
*/
type DispatchTable struct {
	workers map[WorkerID]*WorkerHandle
	idle    map[string]*queue.Queue[WorkerID]
}

func NewDispatchTable() *DispatchTable {
	return &DispatchTable{workers: make(map[WorkerID]*WorkerHandle), idle: make(map[string]*queue.Queue[WorkerID])}
}

func (d *DispatchTable) idleQueue(service string) *queue.Queue[WorkerID] {
	q, ok := d.idle[service]
	if !ok {
		q = queue.NewQueue[WorkerID](4)
		d.idle[service] = q
	}
	return q
}

// Register adds a worker for service in BUSY state; call MarkIdle to make it selectable.
// An existing registration with the same id is replaced.
func (d *DispatchTable) Register(id WorkerID, service string, now time.Time) *WorkerHandle {
	d.Unregister(id)
	w := &WorkerHandle{ID: id, Service: service, State: BUSY, LastSeen: now}
	d.workers[id] = w
	return w
}

// Unregister removes a worker and returns its handle, or nil if it wasn't registered.
func (d *DispatchTable) Unregister(id WorkerID) *WorkerHandle {
	w, ok := d.workers[id]
	if !ok {
		return nil
	}
	delete(d.workers, id)
	if q, ok := d.idle[w.Service]; ok {
		q.Remove(func(e WorkerID) bool { return e == id })
		if q.Len() == 0 {
			delete(d.idle, w.Service)
		}
	}
	return w
}

func (d *DispatchTable) Get(id WorkerID) *WorkerHandle {
	return d.workers[id]
}

// MarkIdle appends w to its service's idle list.
func (d *DispatchTable) MarkIdle(w *WorkerHandle) {
	if w.State == IDLE {
		return
	}
	w.State = IDLE
	w.assignment = nil
	d.idleQueue(w.Service).Push(w.ID)
}

// SelectIdle returns the longest-idle worker for service and marks it BUSY, or nil.
func (d *DispatchTable) SelectIdle(service string) *WorkerHandle {
	q, ok := d.idle[service]
	if !ok {
		return nil
	}
	for {
		id, ok := q.Pop()
		if !ok {
			delete(d.idle, service)
			return nil
		}
		if w := d.workers[id]; w != nil && w.State == IDLE {
			w.State = BUSY
			return w
		}
	}
}

// Expired returns all workers not seen since now-window.
func (d *DispatchTable) Expired(now time.Time, window time.Duration) []*WorkerHandle {
	var out []*WorkerHandle
	for _, w := range d.workers {
		if now.Sub(w.LastSeen) > window {
			out = append(out, w)
		}
	}
	return out
}

func (d *DispatchTable) Len() int {
	return len(d.workers)
}

// Counts returns the number of registered and idle workers of service.
func (d *DispatchTable) Counts(service string) (total, idle int) {
	for _, w := range d.workers {
		if w.Service == service {
			total++
			if w.State == IDLE {
				idle++
			}
		}
	}
	return
}

func (d *DispatchTable) Each(f func(*WorkerHandle)) {
	for _, w := range d.workers {
		f(w)
	}
}
