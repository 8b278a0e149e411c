// Package codec implements the wire framing for Shelly's UDP protocol:
// a 1-byte type tag, a 4-byte big-endian sequence number, and an optional
// MessagePack-encoded payload. Encoding and decoding are pure and
// side-effect-free; nothing here touches a socket.
package codec

import (
	"encoding/binary"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// PacketType is the 1-byte tag at the start of every datagram.
type PacketType byte

const (
	// PacketRequest is sent client→daemon; payload is RequestPayload.
	PacketRequest PacketType = 0x01
	// PacketRequestAck is sent daemon→client; carries no payload.
	PacketRequestAck PacketType = 0x02
	// PacketResponse is sent daemon→client; payload is ResponsePayload.
	PacketResponse PacketType = 0x03
)

// HeaderSize is the fixed tag+sequence prefix length; payloads follow.
const HeaderSize = 5

// MaxPayloadBytes is the maximum accepted payload length, excluding the
// 5-byte header, per spec.md §6.
const MaxPayloadBytes = 65536

// DecodeError reports a malformed packet that the caller should drop.
type DecodeError struct {
	Reason string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("codec: decode error: %s", e.Reason)
}

// RequestPayload is the MessagePack body of a Request packet.
type RequestPayload struct {
	Content string `msgpack:"content"`
}

// ResponsePayload is the MessagePack body of a Response packet.
type ResponsePayload struct {
	Content string `msgpack:"content"`
	IsError bool   `msgpack:"is_error"`
}

func (t PacketType) valid() bool {
	switch t {
	case PacketRequest, PacketRequestAck, PacketResponse:
		return true
	default:
		return false
	}
}

func (t PacketType) String() string {
	switch t {
	case PacketRequest:
		return "Request"
	case PacketRequestAck:
		return "RequestAck"
	case PacketResponse:
		return "Response"
	default:
		return fmt.Sprintf("Unknown(0x%02x)", byte(t))
	}
}

// Encode writes the tag and big-endian sequence followed by payload (which
// may be nil, e.g. for RequestAck).
func Encode(typ PacketType, seq uint32, payload []byte) []byte {
	buf := make([]byte, HeaderSize+len(payload))
	buf[0] = byte(typ)
	binary.BigEndian.PutUint32(buf[1:5], seq)
	copy(buf[5:], payload)
	return buf
}

// DecodeHeader extracts the type tag and sequence number from the front of
// a datagram. It fails if the input is shorter than HeaderSize or the tag
// byte is not one of the three known packet types.
func DecodeHeader(b []byte) (PacketType, uint32, error) {
	if len(b) < HeaderSize {
		return 0, 0, &DecodeError{Reason: fmt.Sprintf("packet too short: %d bytes", len(b))}
	}
	typ := PacketType(b[0])
	if !typ.valid() {
		return 0, 0, &DecodeError{Reason: fmt.Sprintf("unknown packet type 0x%02x", b[0])}
	}
	seq := binary.BigEndian.Uint32(b[1:5])
	return typ, seq, nil
}

// EncodeRequest builds a full Request packet.
func EncodeRequest(seq uint32, content string) ([]byte, error) {
	payload, err := msgpack.Marshal(&RequestPayload{Content: content})
	if err != nil {
		return nil, fmt.Errorf("codec: marshal request payload: %w", err)
	}
	return Encode(PacketRequest, seq, payload), nil
}

// DecodeRequest unmarshals the payload following the header of a Request
// packet. Callers must have already validated the header via DecodeHeader.
func DecodeRequest(body []byte) (*RequestPayload, error) {
	var p RequestPayload
	if err := msgpack.Unmarshal(body, &p); err != nil {
		return nil, &DecodeError{Reason: fmt.Sprintf("invalid request payload: %v", err)}
	}
	return &p, nil
}

// EncodeRequestAck builds a bare RequestAck packet.
func EncodeRequestAck(seq uint32) []byte {
	return Encode(PacketRequestAck, seq, nil)
}

// EncodeResponse builds a full Response packet.
func EncodeResponse(seq uint32, content string, isError bool) ([]byte, error) {
	payload, err := msgpack.Marshal(&ResponsePayload{Content: content, IsError: isError})
	if err != nil {
		return nil, fmt.Errorf("codec: marshal response payload: %w", err)
	}
	return Encode(PacketResponse, seq, payload), nil
}

// DecodeResponse unmarshals the payload following the header of a Response
// packet.
func DecodeResponse(body []byte) (*ResponsePayload, error) {
	var p ResponsePayload
	if err := msgpack.Unmarshal(body, &p); err != nil {
		return nil, &DecodeError{Reason: fmt.Sprintf("invalid response payload: %v", err)}
	}
	return &p, nil
}
