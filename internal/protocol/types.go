package protocol

import "fmt"

// MessageType is the one-byte tag written ahead of every message's fields.
type MessageType uint8

const (
	MessageUnknown               MessageType = 0
	MessageValueBroadcastRequest MessageType = 1
	MessageValuePutRequest       MessageType = 2
	MessageValuePutResponse      MessageType = 3
)

// MaxStringLen bounds a single length-prefixed string on the wire.
const MaxStringLen = 1 << 20

func (t MessageType) String() string {
	switch t {
	case MessageValueBroadcastRequest:
		return "VALUE_BROADCAST_REQUEST"
	case MessageValuePutRequest:
		return "VALUE_PUT_REQUEST"
	case MessageValuePutResponse:
		return "VALUE_PUT_RESPONSE"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", uint8(t))
	}
}
