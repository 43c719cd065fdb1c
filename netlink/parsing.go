package netlink

import (
	"errors"
	"fmt"

	"github.com/josharian/native"
	"github.com/mdlayher/netlink"
	"github.com/mdlayher/netlink/nlenc"
	"golang.org/x/sys/unix"
)

const (
	headerLen = 16
	errnoLen  = 4
	alignTo   = 4
)

var (
	errShortHeader   = errors.New("message shorter than its header")
	errBadLength     = errors.New("header length out of bounds")
	errShortError    = errors.New("error message without an error code")
	errTrailingBytes = errors.New("trailing bytes after the last message")
)

func align(n int) int {
	return (n + alignTo - 1) &^ (alignTo - 1)
}

// envelope is a single parsed inbound message. err is set for error frames
// carrying a nonzero code and for dumps ending with an error.
type envelope struct {
	msg netlink.Message
	err error
}

func (e envelope) seq() uint32 {
	return e.msg.Header.Sequence
}

func (e envelope) isError() bool {
	return e.msg.Header.Type == netlink.Error
}

func (e envelope) isAck() bool {
	return e.isError() && e.err == nil
}

func (e envelope) isTerminator() bool {
	return e.msg.Header.Type == netlink.Done
}

func (e envelope) isMultipart() bool {
	return e.msg.Header.Flags&netlink.Multi != 0 && !e.isTerminator()
}

// encodeBody runs the request's marshaller, if any.
func encodeBody(req Request) ([]byte, error) {
	if req.Type < netlink.HeaderType(unix.NLMSG_MIN_TYPE) {
		return nil, &EncodeError{Kind: req.Kind, Err: fmt.Errorf("message type %d is reserved", req.Type)}
	}

	if req.Body == nil {
		return nil, nil
	}

	b, err := req.Body.MarshalBinary()
	if err != nil {
		return nil, &EncodeError{Kind: req.Kind, Err: err}
	}

	return b, nil
}

// requestFlags returns the header flags the request goes out with.
func requestFlags(req Request) netlink.HeaderFlags {
	flags := req.Flags | netlink.Request
	if !req.Multipart {
		flags |= netlink.Acknowledge
	}
	return flags
}

// encodeMessage lays out a full netlink message around an encoded body.
func encodeMessage(req Request, body []byte, seq, pid uint32) ([]byte, error) {
	m := netlink.Message{
		Header: netlink.Header{
			Length:   uint32(align(headerLen + len(body))),
			Type:     req.Type,
			Flags:    requestFlags(req),
			Sequence: seq,
			PID:      pid,
		},
		Data: body,
	}

	b, err := m.MarshalBinary()
	if err != nil {
		return nil, &EncodeError{Kind: req.Kind, Err: err}
	}

	return b, nil
}

func parseHeader(b []byte) netlink.Header {
	return netlink.Header{
		Length:   nlenc.Uint32(b[0:4]),
		Type:     netlink.HeaderType(nlenc.Uint16(b[4:6])),
		Flags:    netlink.HeaderFlags(nlenc.Uint16(b[6:8])),
		Sequence: nlenc.Uint32(b[8:12]),
		PID:      nlenc.Uint32(b[12:16]),
	}
}

// parseDatagram splits a datagram into envelopes. On failure the envelopes
// parsed before the offending message are returned along with a
// *DecodeError.
func parseDatagram(b []byte, table ErrorTable) ([]envelope, error) {
	var envs []envelope

	for len(b) > 0 {
		if len(b) < headerLen {
			if allZero(b) {
				break
			}
			return envs, &DecodeError{Err: errTrailingBytes}
		}

		h := parseHeader(b)
		if h.Length < headerLen || int(h.Length) > len(b) {
			return envs, &DecodeError{Sequence: h.Sequence, Resolved: true, Err: errBadLength}
		}

		m := netlink.Message{Header: h, Data: b[headerLen:h.Length:h.Length]}

		env, err := decodeEnvelope(m, table)
		if err != nil {
			return envs, &DecodeError{Sequence: h.Sequence, Resolved: true, Err: err}
		}
		envs = append(envs, env)

		next := align(int(h.Length))
		if next > len(b) {
			next = len(b)
		}
		b = b[next:]
	}

	return envs, nil
}

func allZero(b []byte) bool {
	for _, c := range b {
		if c != 0 {
			return false
		}
	}
	return true
}

func decodeEnvelope(m netlink.Message, table ErrorTable) (envelope, error) {
	env := envelope{msg: m}

	switch m.Header.Type {
	case netlink.Error:
		if len(m.Data) < errnoLen {
			return env, errShortError
		}
		code := int32(native.Endian.Uint32(m.Data[:errnoLen]))
		if code == 0 {
			return env, nil
		}
		env.err = decodeError(m, code, table)

	case netlink.Done:
		// Dumps may end with an error code in place of the usual zero.
		if len(m.Data) < errnoLen {
			return env, nil
		}
		if code := int32(native.Endian.Uint32(m.Data[:errnoLen])); code < 0 {
			env.err = decodeError(m, code, table)
		}
	}

	return env, nil
}

func decodeError(m netlink.Message, code int32, table ErrorTable) *Error {
	if code < 0 {
		code = -code
	}
	e := table.newError(code)

	if m.Header.Type != netlink.Error {
		decodeExtAck(e, m.Data[errnoLen:])
		return e
	}

	rest := m.Data[errnoLen:]
	if len(rest) >= headerLen {
		e.Request = parseHeader(rest)
	}

	if m.Header.Flags&netlink.AcknowledgeTLVs == 0 {
		return e
	}

	// Without NLM_F_CAPPED the whole offending request sits between the
	// code and the TLVs.
	skip := headerLen
	if m.Header.Flags&netlink.Capped == 0 && e.Request.Length >= headerLen {
		skip = align(int(e.Request.Length))
	}
	if skip > len(rest) {
		return e
	}
	decodeExtAck(e, rest[skip:])

	return e
}

func decodeExtAck(e *Error, b []byte) {
	if len(b) == 0 {
		return
	}

	ad, err := netlink.NewAttributeDecoder(b)
	if err != nil {
		return
	}

	for ad.Next() {
		switch ad.Type() {
		case unix.NLMSGERR_ATTR_MSG:
			e.Message = ad.String()
		case unix.NLMSGERR_ATTR_OFFS:
			e.Offset = ad.Uint32()
		}
	}
}
