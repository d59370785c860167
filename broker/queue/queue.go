package queue

// A ring-buffer-based double-ended queue, supposedly faster than a LinkedList implementation.
// Used for queuing both tickets awaiting a worker and idle workers.
//
// Unlike a fixed-size ring, the buffer grows when full: the broker must never drop a
// ticket that has already been persisted.

type Queue[T any] struct {
	// tracking the length separately in l, because calculating it from (front, back)
	// is difficult in some cases (especially rollover)
	front, back, l int
	queue          []T
}

// NewQueue returns a queue with an initial capacity of size (at least 1).
func NewQueue[T any](size int) *Queue[T] {
	if size < 1 {
		size = 1
	}
	return &Queue[T]{queue: make([]T, size)}
}

func (q *Queue[T]) Len() int {
	return q.l
}

func (q *Queue[T]) grow() {
	bigger := make([]T, 2*len(q.queue))
	for i := 0; i < q.l; i++ {
		bigger[i] = q.queue[(q.front+i)%len(q.queue)]
	}
	q.front = 0
	q.back = q.l
	q.queue = bigger
}

// Append to the back.
func (q *Queue[T]) Push(e T) {
	if q.l == len(q.queue) {
		q.grow()
	}
	q.queue[q.back] = e
	q.back = (q.back + 1) % len(q.queue)
	q.l++
}

// Insert at the front, so that e is the next element returned by Pop().
func (q *Queue[T]) PushFront(e T) {
	if q.l == len(q.queue) {
		q.grow()
	}
	q.front = (q.front - 1 + len(q.queue)) % len(q.queue)
	q.queue[q.front] = e
	q.l++
}

// Get from the front. ok is false if the queue is empty.
func (q *Queue[T]) Pop() (e T, ok bool) {
	if q.l == 0 {
		return e, false
	}
	var zero T
	e = q.queue[q.front]
	q.queue[q.front] = zero
	q.front = (q.front + 1) % len(q.queue)
	q.l--
	return e, true
}

// Returns the front element without removing it.
func (q *Queue[T]) Peek() (e T, ok bool) {
	if q.l == 0 {
		return e, false
	}
	return q.queue[q.front], true
}

// Remove deletes every element for which match returns true, keeping the order of the
// remaining elements. Returns the number of removed elements.
func (q *Queue[T]) Remove(match func(T) bool) int {
	var zero T
	kept := 0
	n := q.l
	for i := 0; i < n; i++ {
		e := q.queue[(q.front+i)%len(q.queue)]
		if match(e) {
			continue
		}
		q.queue[(q.front+kept)%len(q.queue)] = e
		kept++
	}
	for i := kept; i < n; i++ {
		q.queue[(q.front+i)%len(q.queue)] = zero
	}
	q.l = kept
	q.back = (q.front + kept) % len(q.queue)
	return n - kept
}

// Each calls f for every element from front to back.
func (q *Queue[T]) Each(f func(T)) {
	for i := 0; i < q.l; i++ {
		f(q.queue[(q.front+i)%len(q.queue)])
	}
}
