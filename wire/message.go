// Package wire implements the Wire Codec (serialize/deserialize framed
// messages) and the Message Validator (per-type content-shape predicates)
// described for the Kernel Channel Engine. Both are pure functions: neither
// touches a socket, a clock outside of header stamping, nor any engine
// state.
package wire

import (
	"time"

	"github.com/pkg/errors"

	"github.com/gojupyter/kernelclient/internal/xid"
)

// ProtocolVersion is the Jupyter messaging protocol version this client
// declares in every outgoing header.
const ProtocolVersion = "5.3"

// Channel identifies which of the four logical channels a Message travels
// on, multiplexed over the single physical WebSocket.
type Channel string

const (
	ChannelShell   Channel = "shell"
	ChannelIOPub   Channel = "iopub"
	ChannelStdin   Channel = "stdin"
	ChannelControl Channel = "control"
)

// ValidChannels lists every Channel a frame may legally declare.
var ValidChannels = []Channel{ChannelShell, ChannelIOPub, ChannelStdin, ChannelControl}

// Header is the per-message envelope. MsgID is the correlation key: replies
// and iopub side effects reference the request's MsgID via ParentHeader.
type Header struct {
	MsgID    string `json:"msg_id"`
	Username string `json:"username"`
	Session  string `json:"session"`
	MsgType  string `json:"msg_type"`
	Version  string `json:"version"`
	Date     string `json:"date,omitempty"`
}

// IsZero reports whether h is an empty header, i.e. a message with no
// parent (as opposed to a message correlated to a prior request).
func (h Header) IsZero() bool {
	return h == Header{}
}

// Message is the structured, decoded form of one frame. Content and
// Metadata are kept as generic JSON maps at this layer — the Validator
// inspects them structurally here; the Kernel Channel Engine re-marshals
// Content into typed request/reply structs at its own boundary.
type Message struct {
	Header       Header                 `json:"header"`
	ParentHeader Header                 `json:"parent_header"`
	Channel      Channel                `json:"channel"`
	Content      map[string]interface{} `json:"content"`
	Metadata     map[string]interface{} `json:"metadata"`
	Buffers      [][]byte               `json:"-"`
}

// NewHeader builds a fresh Header for an outgoing message: a new msg_id,
// the given session and username, and the current time stamped in RFC3339
// form (the protocol doesn't mandate a format; RFC3339 is what every
// reference client in practice emits).
func NewHeader(session, username, msgType string) Header {
	return Header{
		MsgID:    xid.New(),
		Username: username,
		Session:  session,
		MsgType:  msgType,
		Version:  ProtocolVersion,
		Date:     time.Now().UTC().Format(time.RFC3339Nano),
	}
}

// NewMessage builds an outgoing Message with a fresh header. content and
// metadata may be nil, in which case they are encoded as empty objects.
func NewMessage(session, username, msgType string, channel Channel, content, metadata map[string]interface{}) Message {
	if content == nil {
		content = map[string]interface{}{}
	}
	if metadata == nil {
		metadata = map[string]interface{}{}
	}
	return Message{
		Header:   NewHeader(session, username, msgType),
		Channel:  channel,
		Content:  content,
		Metadata: metadata,
	}
}

// WithParent returns a copy of m addressed as a reply/child of parent: its
// ParentHeader is set to parent's Header.
func (m Message) WithParent(parent Message) Message {
	m.ParentHeader = parent.Header
	return m
}

// ErrMalformedFrame wraps a decode-time failure: non-monotone or
// out-of-bounds offsets, or a JSON body that fails to parse.
type ErrMalformedFrame struct {
	Reason string
}

func (e *ErrMalformedFrame) Error() string {
	return errors.Errorf("malformed frame: %s", e.Reason).Error()
}

func malformed(format string, args ...interface{}) error {
	return &ErrMalformedFrame{Reason: errors.Errorf(format, args...).Error()}
}
