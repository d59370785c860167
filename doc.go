/*
Titanic is a disk-durable, asynchronous request/reply broker on top of ZeroMQ.

Clients don't wait for service workers. A request is submitted to the broker, which stores
it on disk and immediately returns a ticket. The broker hands the request to a worker of
the requested service as soon as one is ready, and stores the worker's reply. The client
polls for the reply with its ticket and closes the ticket when done:

	client                      broker                          worker
	  | titanic.request echo ... --> store PENDING ticket
	  | <-- 200 ticket                |  REQUEST ticket fence ... --> |
	  |                               | <-- REPLY ticket fence 200 ...|
	  | titanic.reply ticket ----> store COMPLETED
	  | <-- 200 reply frames          |
	  | titanic.close ticket ----> delete ticket

Tickets survive broker restarts; requests that were in flight during a crash are handed
out again, so workers should tolerate seeing a request twice.

Packages:

	broker     the broker core and its ZeroMQ server
	worker     runtime for service workers
	client     client library (submit, poll, retrieve, close, Call)
	store      durable ticket stores (pebble, sqlite)
	ticket     the ticket lifecycle
	proto      wire commands and status codes, the persisted ticket record
	transport  ZeroMQ context ownership, socket configuration and framing
	log        leveled, structured logging

Programs: titanic-broker (the broker), echo_example (an echo worker) and ticlient (sends
a request and waits for the reply).
*/
package titanic
