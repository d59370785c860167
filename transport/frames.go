package transport

import "fmt"

// Support types for dealing with ZeroMQ multi-frame messages.
// This is supposed to put an end to inconsistencies and bugs when dealing with the framing of
// routed messages.

// A message as seen by a ROUTER socket: [identity, "", body...]. Both REQ and DEALER
// peers of the broker send the empty delimiter frame.
type RoutedMessage struct {
	Identity []byte
	Body     [][]byte
}

func NewRoutedMessage(identity []byte, body ...[]byte) RoutedMessage {
	return RoutedMessage{Identity: identity, Body: body}
}

func ParseRoutedMessage(msg [][]byte) (RoutedMessage, error) {
	if len(msg) < 2 {
		return RoutedMessage{}, fmt.Errorf("routed message has %d < 2 frames", len(msg))
	}
	if len(msg[1]) != 0 {
		return RoutedMessage{}, fmt.Errorf("routed message lacks empty delimiter")
	}
	return RoutedMessage{Identity: msg[0], Body: msg[2:]}, nil
}

func (msg RoutedMessage) Serialize() [][]byte {
	frames := make([][]byte, 2, 2+len(msg.Body))
	frames[0] = msg.Identity
	frames[1] = []byte{}
	return append(frames, msg.Body...)
}

// StringFrames converts a mix of strings and byte slices (and slices of byte slices, which
// are flattened) into frames.
func StringFrames(parts ...interface{}) [][]byte {
	frames := make([][]byte, 0, len(parts))
	for _, p := range parts {
		switch v := p.(type) {
		case string:
			frames = append(frames, []byte(v))
		case []byte:
			frames = append(frames, v)
		case [][]byte:
			frames = append(frames, v...)
		default:
			panic(fmt.Sprintf("StringFrames: unsupported frame type %T", p))
		}
	}
	return frames
}
