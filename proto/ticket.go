package proto

import (
	pb "github.com/gogo/protobuf/proto"
)

// Values of TicketRecord.Status.
const (
	TicketRecord_PENDING   int32 = 0
	TicketRecord_COMPLETED int32 = 1
	TicketRecord_FAILED    int32 = 2
	TicketRecord_CLOSED    int32 = 3
)

// TicketRecord is the durable form of a ticket. It is declared with protobuf struct tags
// and encoded by the reflection-based gogo/protobuf marshaler:
//
//	message TicketRecord {
//	  bytes id = 1;
//	  string service = 2;
//	  repeated bytes request = 3;
//	  int32 status = 4;
//	  string reply_code = 5;
//	  repeated bytes reply = 6;
//	  bool has_reply = 7;
//	  int64 created_at = 8;  // unix nanoseconds
//	  int64 updated_at = 9;  // unix nanoseconds
//	  uint64 sequence = 10;  // submission order
//	}
type TicketRecord struct {
	Id        []byte   `protobuf:"bytes,1,opt,name=id,proto3" json:"id,omitempty"`
	Service   string   `protobuf:"bytes,2,opt,name=service,proto3" json:"service,omitempty"`
	Request   [][]byte `protobuf:"bytes,3,rep,name=request,proto3" json:"request,omitempty"`
	Status    int32    `protobuf:"varint,4,opt,name=status,proto3" json:"status,omitempty"`
	ReplyCode string   `protobuf:"bytes,5,opt,name=reply_code,json=replyCode,proto3" json:"reply_code,omitempty"`
	Reply     [][]byte `protobuf:"bytes,6,rep,name=reply,proto3" json:"reply,omitempty"`
	HasReply  bool     `protobuf:"varint,7,opt,name=has_reply,json=hasReply,proto3" json:"has_reply,omitempty"`
	CreatedAt int64    `protobuf:"varint,8,opt,name=created_at,json=createdAt,proto3" json:"created_at,omitempty"`
	UpdatedAt int64    `protobuf:"varint,9,opt,name=updated_at,json=updatedAt,proto3" json:"updated_at,omitempty"`
	Sequence  uint64   `protobuf:"varint,10,opt,name=sequence,proto3" json:"sequence,omitempty"`
}

func (m *TicketRecord) Reset()         { *m = TicketRecord{} }
func (m *TicketRecord) String() string { return pb.CompactTextString(m) }
func (*TicketRecord) ProtoMessage()    {}

func (m *TicketRecord) GetId() []byte {
	if m != nil {
		return m.Id
	}
	return nil
}

func (m *TicketRecord) GetService() string {
	if m != nil {
		return m.Service
	}
	return ""
}

func (m *TicketRecord) GetStatus() int32 {
	if m != nil {
		return m.Status
	}
	return TicketRecord_PENDING
}

// EncodeTicketRecord serializes m. (Not a Marshal method: gogo/protobuf would call it
// from pb.Marshal and recurse.)
func EncodeTicketRecord(m *TicketRecord) ([]byte, error) {
	return pb.Marshal(m)
}

func DecodeTicketRecord(b []byte) (*TicketRecord, error) {
	m := new(TicketRecord)
	if err := pb.Unmarshal(b, m); err != nil {
		return nil, err
	}
	return m, nil
}

func init() {
	pb.RegisterType((*TicketRecord)(nil), "titanic.TicketRecord")
}
