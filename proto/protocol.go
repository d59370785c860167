/*
Package proto defines the frames exchanged between titanic clients, the broker and service
workers, and the persisted ticket record.

Client requests are [command][args...]; broker replies are [status][payload...]. Workers
talk to the broker backend with [command][args...] after the ROUTER identity and an
empty delimiter frame.
*/
package proto

// Client commands, sent as the first frame to the broker frontend.
const (
	CMD_REQUEST = "titanic.request" // [service][frames...] -> [200][ticket]
	CMD_STATUS  = "titanic.status"  // [ticket] -> [200][status name] | [404]
	CMD_REPLY   = "titanic.reply"   // [ticket] -> [200][frames...] | [300] | [400] | [500] | [404]
	CMD_CLOSE   = "titanic.close"   // [ticket] -> [200]
)

// Status codes, sent as the first reply frame. Workers use 200, 400 and 500 to report
// the outcome of a request.
const (
	STATUS_OK              = "200"
	STATUS_PENDING         = "300" // Ticket exists but has no reply yet
	STATUS_CLIENT_ERROR    = "400" // The request is invalid; do not retry
	STATUS_UNKNOWN_TICKET  = "404" // Closed, expired or never issued; these are indistinguishable
	STATUS_SERVER_ERROR    = "500" // The backend failed irrecoverably; do not retry
	STATUS_UNKNOWN_COMMAND = "501"
)

// Worker protocol commands (both directions).
const (
	WORKER_READY      = "READY"      // worker -> broker: [READY][service]
	WORKER_REQUEST    = "REQUEST"    // broker -> worker: [REQUEST][ticket][fence][frames...]
	WORKER_REPLY      = "REPLY"      // worker -> broker: [REPLY][ticket][fence][status][frames...]
	WORKER_HEARTBEAT  = "HEARTBEAT"  // both directions
	WORKER_DISCONNECT = "DISCONNECT" // both directions
)

// Returns true for the status codes a worker may legally reply with.
func IsWorkerStatus(code string) bool {
	return code == STATUS_OK || code == STATUS_CLIENT_ERROR || code == STATUS_SERVER_ERROR
}

func StatusToString(code string) string {
	switch code {
	case STATUS_OK:
		return "STATUS_OK"
	case STATUS_PENDING:
		return "STATUS_PENDING"
	case STATUS_CLIENT_ERROR:
		return "STATUS_CLIENT_ERROR"
	case STATUS_UNKNOWN_TICKET:
		return "STATUS_UNKNOWN_TICKET"
	case STATUS_SERVER_ERROR:
		return "STATUS_SERVER_ERROR"
	case STATUS_UNKNOWN_COMMAND:
		return "STATUS_UNKNOWN_COMMAND"
	default:
		return "STATUS_UNKNOWN(" + code + ")"
	}
}
