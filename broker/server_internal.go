package broker

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/dermesser/titanic/log"
	"github.com/dermesser/titanic/proto"
	"github.com/dermesser/titanic/ticket"
	"github.com/dermesser/titanic/transport"

	zmq "github.com/pebbe/zmq4"
)

/*
This file has the internal functions, the actual server; server.go remains
uncluttered and with only public functions.
*/

var MAGIC_STOP_STRING = []byte("___STOPBROKER___")

func (srv *Server) stop() error {
	log.Log(log.LOGLEVEL_DEBUG, "Stopping event loop...")

	sock, err := srv.adapter.NewSocket(zmq.REQ, transport.DefaultSocketConfig())
	if err != nil {
		log.Log(log.LOGLEVEL_ERRORS, "Could not create socket for stopping!")
		return err
	}
	defer sock.Close()

	if err = sock.Connect(srv.control_path); err != nil {
		log.Log(log.LOGLEVEL_ERRORS, "Could not connect to event loop:", err.Error())
		return err
	}
	if _, err = sock.SendBytes(MAGIC_STOP_STRING, 0); err != nil {
		log.Log(log.LOGLEVEL_ERRORS, "Could not send stop message to event loop:", err.Error())
		return err
	}
	// Wait for ack
	if _, err = sock.RecvBytes(0); err != nil {
		log.Log(log.LOGLEVEL_ERRORS, "No acknowledgement of stop message:", err.Error())
		return err
	}

	log.Log(log.LOGLEVEL_INFO, "Stopped broker")
	return nil
}

/*
The event loop: waits for client commands on the frontend, worker messages on the
backend and the stop message on the control socket. Between messages, every heartbeat
interval, live workers are sent a heartbeat and silent ones are evicted.
*/
func (srv *Server) loop() {
	defer close(srv.done)

	poller := zmq.NewPoller()
	poller.Add(srv.frontend_router, zmq.POLLIN)
	poller.Add(srv.backend_router, zmq.POLLIN)
	poller.Add(srv.control, zmq.POLLIN)

	interval := srv.config.Heartbeat.Interval
	heartbeat_at := time.Now().Add(interval)

	for {
		timeout := time.Until(heartbeat_at)
		if timeout < 0 {
			timeout = 0
		}

		polled, err := poller.Poll(timeout)
		if err != nil {
			if zmq.AsErrno(err) == zmq.ETERM {
				log.Log(log.LOGLEVEL_ERRORS, "Context terminated, leaving event loop")
				return
			}
			log.Log(log.LOGLEVEL_ERRORS, "Polling error in event loop:", err.Error())
			continue
		}

		for _, sock := range polled {
			switch s := sock.Socket; s {
			case srv.frontend_router:
				srv.handleClientRequest()
			case srv.backend_router:
				srv.handleWorkerMessage()
			case srv.control:
				srv.control.RecvBytes(0)
				if _, err := srv.control.SendBytes([]byte("DONE"), 0); err != nil {
					log.Log(log.LOGLEVEL_ERRORS, "Couldn't send response to STOP message:", err.Error())
				}
				return
			}
		}

		if !time.Now().Before(heartbeat_at) {
			srv.heartbeat()
			heartbeat_at = time.Now().Add(interval)
		}
	}
}

func (srv *Server) handleClientRequest() {
	// [client identity, "", command, args...]
	msgs, err := transport.Receive(srv.frontend_router, false)
	if err != nil {
		if !transport.IsTimeout(err) {
			log.Log(log.LOGLEVEL_ERRORS, "Error when receiving from frontend:", err.Error())
		}
		return
	}

	message, err := transport.ParseRoutedMessage(msgs)
	if err != nil {
		log.Log(log.LOGLEVEL_WARNINGS, "Dropped malformed client message:", err.Error())
		return
	}

	reply := srv.executeCommand(message.Body)

	if err = transport.Send(srv.frontend_router, transport.NewRoutedMessage(message.Identity, reply...).Serialize()); err != nil {
		if transport.IsUnreachable(err) {
			// Fails when the client has already disconnected
			log.Log(log.LOGLEVEL_WARNINGS, "Could not route reply to client", fmt.Sprintf("%x", message.Identity))
		} else {
			log.Log(log.LOGLEVEL_ERRORS, "Error when sending to frontend router:", err.Error())
		}
	}
}

func statusFrames(status string, payload ...[]byte) [][]byte {
	return append([][]byte{[]byte(status)}, payload...)
}

func ticketArgument(body [][]byte) (ticket.ID, []byte, bool) {
	if len(body) < 2 {
		return ticket.ID{}, nil, false
	}
	id, err := ticket.ParseID(string(body[1]))
	if err != nil {
		return ticket.ID{}, body[1], false
	}
	return id, body[1], true
}

// executeCommand runs a client command and returns the reply frames.
func (srv *Server) executeCommand(body [][]byte) [][]byte {
	if len(body) == 0 {
		return statusFrames(proto.STATUS_UNKNOWN_COMMAND)
	}
	command := string(body[0])

	if log.IsLoggingEnabled(log.LOGLEVEL_DEBUG) {
		log.Log(log.LOGLEVEL_DEBUG, "Client command", log.Frames(body))
	}

	switch command {
	case proto.CMD_REQUEST:
		if len(body) < 2 {
			return statusFrames(proto.STATUS_CLIENT_ERROR)
		}
		id, err := srv.broker.Submit(string(body[1]), body[2:])
		if errors.Is(err, ErrEmptyService) {
			return statusFrames(proto.STATUS_CLIENT_ERROR)
		} else if err != nil {
			return statusFrames(proto.STATUS_SERVER_ERROR)
		}
		return statusFrames(proto.STATUS_OK, []byte(id.String()))

	case proto.CMD_STATUS, proto.CMD_REPLY, proto.CMD_CLOSE:
		id, raw, ok := ticketArgument(body)
		if raw == nil {
			return statusFrames(proto.STATUS_CLIENT_ERROR)
		} else if !ok && command == proto.CMD_CLOSE {
			// Closing a ticket that never existed is a no-op
			return statusFrames(proto.STATUS_OK)
		} else if !ok {
			// Not a ticket this broker could have issued
			return statusFrames(proto.STATUS_UNKNOWN_TICKET)
		}
		return srv.executeTicketCommand(command, id)

	default:
		log.Log(log.LOGLEVEL_WARNINGS, "Unknown client command", log.Printable(body[0]))
		return statusFrames(proto.STATUS_UNKNOWN_COMMAND)
	}
}

func (srv *Server) executeTicketCommand(command string, id ticket.ID) [][]byte {
	switch command {
	case proto.CMD_STATUS:
		status, err := srv.broker.Poll(id)
		if err != nil {
			return errorFrames(err)
		}
		return statusFrames(proto.STATUS_OK, []byte(status.String()))

	case proto.CMD_REPLY:
		frames, err := srv.broker.Retrieve(id)
		if err != nil {
			return errorFrames(err)
		}
		return statusFrames(proto.STATUS_OK, frames...)

	default:
		if err := srv.broker.Close(id); err != nil {
			return statusFrames(proto.STATUS_SERVER_ERROR)
		}
		return statusFrames(proto.STATUS_OK)
	}
}

// errorFrames maps the errors of Poll and Retrieve to status codes.
func errorFrames(err error) [][]byte {
	var failed *FailedError
	switch {
	case errors.Is(err, ErrUnknownTicket):
		return statusFrames(proto.STATUS_UNKNOWN_TICKET)
	case errors.Is(err, ErrNotReady):
		return statusFrames(proto.STATUS_PENDING)
	case errors.As(err, &failed):
		return statusFrames(failed.Code)
	default:
		log.Log(log.LOGLEVEL_ERRORS, "Store error:", err.Error())
		return statusFrames(proto.STATUS_SERVER_ERROR)
	}
}

func (srv *Server) handleWorkerMessage() {
	// [worker identity, "", command, args...]
	msgs, err := transport.Receive(srv.backend_router, false)
	if err != nil {
		if !transport.IsTimeout(err) {
			log.Log(log.LOGLEVEL_ERRORS, "Error when receiving from backend:", err.Error())
		}
		return
	}

	message, err := transport.ParseRoutedMessage(msgs)
	if err != nil || len(message.Body) == 0 {
		log.Log(log.LOGLEVEL_WARNINGS, "Dropped malformed worker message", log.Frames(msgs))
		return
	}
	worker := WorkerID(message.Identity)
	body := message.Body

	switch string(body[0]) {
	case proto.WORKER_READY:
		if len(body) < 2 || srv.broker.RegisterWorker(worker, string(body[1])) != nil {
			log.Log(log.LOGLEVEL_WARNINGS, "Invalid READY from worker", fmt.Sprintf("%x", message.Identity))
			srv.sendToWorker(worker, proto.WORKER_DISCONNECT)
		}

	case proto.WORKER_HEARTBEAT:
		if !srv.broker.Heartbeat(worker) {
			srv.sendToWorker(worker, proto.WORKER_DISCONNECT)
		}

	case proto.WORKER_REPLY:
		srv.handleWorkerReply(worker, body)

	case proto.WORKER_DISCONNECT:
		srv.broker.UnregisterWorker(worker)

	default:
		log.Log(log.LOGLEVEL_WARNINGS, "Unknown worker command", log.Printable(body[0]))
		if !srv.broker.Heartbeat(worker) {
			srv.sendToWorker(worker, proto.WORKER_DISCONNECT)
		}
	}
}

// body is [REPLY][ticket][fence][status][frames...]
func (srv *Server) handleWorkerReply(worker WorkerID, body [][]byte) {
	if len(body) < 4 {
		log.Log(log.LOGLEVEL_WARNINGS, "Dropped short REPLY", log.Frames(body))
		srv.broker.Heartbeat(worker)
		return
	}
	id, err := ticket.ParseID(string(body[1]))
	if err != nil {
		log.Log(log.LOGLEVEL_WARNINGS, "Dropped REPLY:", err.Error())
		srv.broker.Heartbeat(worker)
		return
	}
	fence, err := strconv.ParseUint(string(body[2]), 10, 64)
	if err != nil {
		log.Log(log.LOGLEVEL_WARNINGS, "Dropped REPLY with bad fence", log.Printable(body[2]))
		srv.broker.Heartbeat(worker)
		return
	}

	err = srv.broker.OnWorkerReply(worker, id, fence, string(body[3]), body[4:])
	if err == ErrUnknownWorker {
		srv.sendToWorker(worker, proto.WORKER_DISCONNECT)
	}
}

// Sends a heartbeat to all workers and evicts the silent ones.
func (srv *Server) heartbeat() {
	for _, worker := range srv.broker.Workers() {
		if err := srv.sendToWorker(worker, proto.WORKER_HEARTBEAT); transport.IsUnreachable(err) {
			srv.broker.UnregisterWorker(worker)
		}
	}
	for _, worker := range srv.broker.PurgeExpired() {
		srv.sendToWorker(worker, proto.WORKER_DISCONNECT)
	}

	if log.IsLoggingEnabled(log.LOGLEVEL_DEBUG) {
		stats := srv.broker.Stats()
		log.Event(log.LOGLEVEL_DEBUG).Int("workers", stats.Workers).Int("idle", stats.IdleWorkers).
			Int("in_flight", stats.InFlight).Interface("queued", stats.Queued).Msg("Heartbeat")
	}
}

func (srv *Server) sendToWorker(worker WorkerID, command string, args ...[]byte) error {
	msg := transport.NewRoutedMessage([]byte(worker), append([][]byte{[]byte(command)}, args...)...)
	err := transport.Send(srv.backend_router, msg.Serialize())
	if err != nil && !transport.IsUnreachable(err) {
		log.Log(log.LOGLEVEL_WARNINGS, "Error when sending", command, "to worker:", err.Error())
	}
	return err
}

// SendRequest implements Sender on the backend socket. It is only called from the event
// loop, through the broker operations it invokes.
func (srv *Server) SendRequest(a Assignment, request [][]byte) error {
	args := transport.StringFrames(a.Ticket.String(), strconv.FormatUint(a.Fence, 10), request)
	return srv.sendToWorker(a.Worker, proto.WORKER_REQUEST, args...)
}
