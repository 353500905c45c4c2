package transport

import (
	"encoding/binary"
	"fmt"
)

// MessageType identifies the kind of frame carried inside a ring record.
// Wire values are stable and must never be renumbered.
type MessageType byte

const (
	// Worker -> Supervisor
	MsgStdout      MessageType = 0x00
	MsgFSRead      MessageType = 0x01
	MsgFSWrite     MessageType = 0x02
	MsgNetConnect  MessageType = 0x03
	MsgExec        MessageType = 0x04
	MsgListDir     MessageType = 0x05

	// Supervisor -> Worker
	MsgAllow MessageType = 0x10
	MsgDeny  MessageType = 0x11
	MsgCode  MessageType = 0x20
)

func (t MessageType) String() string {
	switch t {
	case MsgStdout:
		return "STDOUT"
	case MsgFSRead:
		return "FS_READ"
	case MsgFSWrite:
		return "FS_WRITE"
	case MsgNetConnect:
		return "NET_CONNECT"
	case MsgExec:
		return "EXEC"
	case MsgListDir:
		return "LISTDIR"
	case MsgAllow:
		return "ALLOW"
	case MsgDeny:
		return "DENY"
	case MsgCode:
		return "CODE"
	default:
		return fmt.Sprintf("UNKNOWN(0x%02x)", byte(t))
	}
}

// IsOptimisticCheck reports whether a permission-check message type uses the
// optimistic (already-happened, deny-means-kill) arbitration rule rather
// than the synchronous (blocking, deny-means-respond) one.
func (t MessageType) IsOptimisticCheck() bool {
	return t == MsgFSRead || t == MsgListDir
}

// IsSynchronousCheck reports whether a permission-check message type blocks
// the worker for an ALLOW/DENY response.
func (t MessageType) IsSynchronousCheck() bool {
	return t == MsgFSWrite || t == MsgExec || t == MsgNetConnect
}

// headerSize is the fixed [type:u8][request_id:u32 LE] prefix.
const headerSize = 5

// NoRequestID is reserved for fire-and-forget messages (STDOUT, CODE).
const NoRequestID uint32 = 0

// Message is a decoded frame: a type, a correlation id, and a type-specific
// payload whose length is implied by the enclosing ring record.
type Message struct {
	Type      MessageType
	RequestID uint32
	Payload   []byte
}

// Encode produces [type][request_id LE][payload].
func Encode(msgType MessageType, requestID uint32, payload []byte) []byte {
	buf := make([]byte, headerSize+len(payload))
	buf[0] = byte(msgType)
	binary.LittleEndian.PutUint32(buf[1:5], requestID)
	copy(buf[5:], payload)
	return buf
}

// Decode parses a frame produced by Encode. A frame shorter than headerSize
// is malformed.
func Decode(frame []byte) (Message, error) {
	if len(frame) < headerSize {
		return Message{}, fmt.Errorf("transport: malformed frame of %d bytes, need at least %d", len(frame), headerSize)
	}
	msg := Message{
		Type:      MessageType(frame[0]),
		RequestID: binary.LittleEndian.Uint32(frame[1:5]),
	}
	if len(frame) > headerSize {
		msg.Payload = frame[headerSize:]
	}
	return msg, nil
}
