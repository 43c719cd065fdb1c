package netlink

import (
	"encoding"
	"time"

	"github.com/mdlayher/netlink"
)

// A Request is everything the driver needs to put a message on the wire
// except for its sequence number, which is only chosen on submission.
type Request struct {
	Kind  Kind
	Type  netlink.HeaderType
	Flags netlink.HeaderFlags

	// Body is the payload following the netlink header. It can be nil.
	Body encoding.BinaryMarshaler

	// Multipart hints that the reply will be a dump. When it's false the
	// driver asks the kernel for an explicit acknowledgement.
	Multipart bool
}

// RawBody lets callers hand in an already encoded payload.
type RawBody []byte

func (b RawBody) MarshalBinary() ([]byte, error) {
	return b, nil
}

// Stats is a snapshot of the driver's state taken on the driver goroutine.
type Stats struct {
	Pending       int      `json:"pending"`
	Subscriptions int      `json:"subscriptions"`
	Groups        []uint32 `json:"groups"`
	NextSequence  uint32   `json:"nextSequence"`
	Closed        bool     `json:"closed"`
}

type requestState uint8

const (
	stateAwaiting requestState = iota
	stateStreaming
	stateDone
)

func (s requestState) String() string {
	switch s {
	case stateAwaiting:
		return "awaiting"
	case stateStreaming:
		return "streaming"
	case stateDone:
		return "done"
	}
	return "unknown"
}

// reply is a single item handed to the consumer of a response or
// subscription. Exactly one of msg and err is meaningful.
type reply struct {
	msg netlink.Message
	err error
}

type pendingRequest struct {
	seq   uint32
	kind  Kind
	state requestState

	// ack is set when the request carried NLM_F_ACK: an ordinary reply
	// does not end the exchange then.
	ack bool

	// interrupted records whether any fragment carried NLM_F_DUMP_INTR.
	interrupted bool

	submitted time.Time
	out       *queue[reply]
}
