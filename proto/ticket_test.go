package proto

import (
	"bytes"
	"testing"
)

func TestTicketRecordKeepsEmptyFrames(t *testing.T) {
	rec := &TicketRecord{
		Id:       []byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16},
		Service:  "echo",
		Request:  [][]byte{[]byte("a"), {}, []byte("c")},
		Status:   TicketRecord_COMPLETED,
		Reply:    [][]byte{{}, {0x00, 0xff}},
		HasReply: true,
		Sequence: 42,
	}

	buf, err := EncodeTicketRecord(rec)
	if err != nil {
		t.Fatal(err)
	}
	back, err := DecodeTicketRecord(buf)
	if err != nil {
		t.Fatal(err)
	}

	if len(back.Request) != 3 || len(back.Reply) != 2 {
		t.Fatal("frame count changed:", back.String())
	}
	if !bytes.Equal(back.Request[2], []byte("c")) || len(back.Request[1]) != 0 {
		t.Error("request frames changed:", back.String())
	}
	if !bytes.Equal(back.Reply[1], []byte{0x00, 0xff}) {
		t.Error("reply frames changed:", back.String())
	}
	if back.GetStatus() != TicketRecord_COMPLETED || back.Sequence != 42 || !back.HasReply {
		t.Error("scalar fields changed:", back.String())
	}
}

func TestIsWorkerStatus(t *testing.T) {
	for _, c := range []string{STATUS_OK, STATUS_CLIENT_ERROR, STATUS_SERVER_ERROR} {
		if !IsWorkerStatus(c) {
			t.Error("rejected", c)
		}
	}
	for _, c := range []string{STATUS_PENDING, STATUS_UNKNOWN_TICKET, "", "201"} {
		if IsWorkerStatus(c) {
			t.Error("accepted", c)
		}
	}
}
