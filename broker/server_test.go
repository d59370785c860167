package broker

import (
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/dermesser/titanic/log"
	"github.com/dermesser/titanic/proto"
	"github.com/dermesser/titanic/transport"

	zmq "github.com/pebbe/zmq4"
)

func testServer(t *testing.T) (*Server, *transport.Adapter) {
	adapter, err := transport.NewAdapter()
	if err != nil {
		t.Fatal(err)
	}

	token := log.GetLogToken()
	cfg := DefaultConfig()
	cfg.Frontend = "inproc://frontend-" + token
	cfg.Backend = "inproc://backend-" + token
	cfg.Store.Path = filepath.Join(t.TempDir(), "store")
	cfg.Heartbeat.Interval = 50 * time.Millisecond
	cfg.Heartbeat.Liveness = 20

	srv, err := NewServer(cfg, adapter)
	if err != nil {
		adapter.Term()
		t.Fatal(err)
	}
	if err = srv.Start(); err != nil {
		t.Fatal(err)
	}
	return srv, adapter
}

func connect(t *testing.T, adapter *transport.Adapter, typ zmq.Type, endpoint string) *zmq.Socket {
	cfg := transport.DefaultSocketConfig()
	cfg.RecvTimeout = 2 * time.Second
	sock, err := adapter.NewSocket(typ, cfg)
	if err != nil {
		t.Fatal(err)
	}
	if err = sock.Connect(endpoint); err != nil {
		t.Fatal(err)
	}
	return sock
}

func call(t *testing.T, sock *zmq.Socket, parts ...interface{}) [][]byte {
	if err := transport.Send(sock, transport.StringFrames(parts...)); err != nil {
		t.Fatal(err)
	}
	reply, err := transport.Receive(sock, true)
	if err != nil {
		t.Fatal(err)
	}
	if len(reply) == 0 {
		t.Fatal("empty reply")
	}
	return reply
}

// Receives from a worker socket, skipping heartbeats. Returns the frames after the delimiter.
func recvWorker(t *testing.T, sock *zmq.Socket) [][]byte {
	for {
		msg, err := transport.Receive(sock, true)
		if err != nil {
			t.Fatal(err)
		}
		if len(msg) < 2 || len(msg[0]) != 0 {
			t.Fatal("malformed message to worker", log.Frames(msg))
		}
		if string(msg[1]) != proto.WORKER_HEARTBEAT {
			return msg[1:]
		}
	}
}

func TestServerEchoFlow(t *testing.T) {
	srv, adapter := testServer(t)
	defer adapter.Term()
	defer srv.Close()

	worker := connect(t, adapter, zmq.DEALER, srv.config.Backend)
	defer worker.Close()
	client := connect(t, adapter, zmq.REQ, srv.config.Frontend)
	defer client.Close()

	if err := transport.Send(worker, transport.StringFrames("", proto.WORKER_READY, "echo")); err != nil {
		t.Fatal(err)
	}

	reply := call(t, client, proto.CMD_REQUEST, "echo", "hello", []byte{})
	if string(reply[0]) != proto.STATUS_OK || len(reply) != 2 {
		t.Fatal("unexpected reply to request", log.Frames(reply))
	}
	id := string(reply[1])

	request := recvWorker(t, worker)
	if string(request[0]) != proto.WORKER_REQUEST || string(request[1]) != id || len(request) != 5 {
		t.Fatal("unexpected request", log.Frames(request))
	}
	if _, err := strconv.ParseUint(string(request[2]), 10, 64); err != nil {
		t.Fatal("bad fence", err)
	}
	if string(request[3]) != "hello" || len(request[4]) != 0 {
		t.Error("payload was changed", log.Frames(request))
	}

	// Answer with the same ticket and fence
	answer := transport.StringFrames("", proto.WORKER_REPLY, request[1], request[2], proto.STATUS_OK, request[3:])
	if err := transport.Send(worker, answer); err != nil {
		t.Fatal(err)
	}

	var result [][]byte
	for i := 0; i < 100; i++ {
		result = call(t, client, proto.CMD_REPLY, id)
		if string(result[0]) != proto.STATUS_PENDING {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if string(result[0]) != proto.STATUS_OK || len(result) != 3 || string(result[1]) != "hello" {
		t.Fatal("unexpected result", log.Frames(result))
	}

	if status := call(t, client, proto.CMD_STATUS, id); string(status[0]) != proto.STATUS_OK || string(status[1]) != "COMPLETED" {
		t.Error("unexpected status", log.Frames(status))
	}
	for i := 0; i < 2; i++ {
		if closed := call(t, client, proto.CMD_CLOSE, id); string(closed[0]) != proto.STATUS_OK {
			t.Error("unexpected close reply", log.Frames(closed))
		}
	}
	if gone := call(t, client, proto.CMD_REPLY, id); string(gone[0]) != proto.STATUS_UNKNOWN_TICKET {
		t.Error("closed ticket still present", log.Frames(gone))
	}
}

func TestServerClientErrors(t *testing.T) {
	srv, adapter := testServer(t)
	defer adapter.Term()
	defer srv.Close()

	client := connect(t, adapter, zmq.REQ, srv.config.Frontend)
	defer client.Close()

	cases := []struct {
		request  []interface{}
		expected string
	}{
		{[]interface{}{proto.CMD_REQUEST, ""}, proto.STATUS_CLIENT_ERROR},
		{[]interface{}{proto.CMD_REQUEST}, proto.STATUS_CLIENT_ERROR},
		{[]interface{}{proto.CMD_STATUS, "not-a-ticket"}, proto.STATUS_UNKNOWN_TICKET},
		{[]interface{}{proto.CMD_REPLY, "5b1f4ad1-2c33-4f51-9d43-0a6b2b5f0d11"}, proto.STATUS_UNKNOWN_TICKET},
		{[]interface{}{proto.CMD_CLOSE, "5b1f4ad1-2c33-4f51-9d43-0a6b2b5f0d11"}, proto.STATUS_OK},
		{[]interface{}{proto.CMD_CLOSE, "not-a-ticket"}, proto.STATUS_OK},
		{[]interface{}{proto.CMD_CLOSE}, proto.STATUS_CLIENT_ERROR},
		{[]interface{}{proto.CMD_REPLY, "not-a-ticket"}, proto.STATUS_UNKNOWN_TICKET},
		{[]interface{}{"titanic.bogus"}, proto.STATUS_UNKNOWN_COMMAND},
	}

	for _, c := range cases {
		if reply := call(t, client, c.request...); string(reply[0]) != c.expected {
			t.Errorf("%v: expected %s, got %s", c.request, c.expected, log.Frames(reply))
		}
	}
}

func TestServerDisconnectsUnknownWorker(t *testing.T) {
	srv, adapter := testServer(t)
	defer adapter.Term()
	defer srv.Close()

	worker := connect(t, adapter, zmq.DEALER, srv.config.Backend)
	defer worker.Close()

	if err := transport.Send(worker, transport.StringFrames("", proto.WORKER_HEARTBEAT)); err != nil {
		t.Fatal(err)
	}
	if msg := recvWorker(t, worker); string(msg[0]) != proto.WORKER_DISCONNECT {
		t.Error("expected DISCONNECT, got", log.Frames(msg))
	}
}

func TestServerStopStart(t *testing.T) {
	srv, adapter := testServer(t)
	defer adapter.Term()
	defer srv.Close()

	if err := srv.Stop(); err != nil {
		t.Fatal(err)
	}
	if err := srv.Stop(); err != ErrNotRunning {
		t.Error("expected ErrNotRunning, got", err)
	}
	if err := srv.Start(); err != nil {
		t.Fatal(err)
	}

	client := connect(t, adapter, zmq.REQ, srv.config.Frontend)
	defer client.Close()
	if reply := call(t, client, proto.CMD_REQUEST, "echo", "x"); string(reply[0]) != proto.STATUS_OK {
		t.Error("unexpected reply after restart", log.Frames(reply))
	}
}
