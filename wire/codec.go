package wire

import (
	"encoding/binary"
	"encoding/json"

	"github.com/pkg/errors"
)

// wireMessage is the on-the-wire JSON shape: Buffers never appear in the
// JSON body (they are either absent, for a text frame, or appended as raw
// bytes after it, for a binary frame).
type wireMessage struct {
	Header       Header                 `json:"header"`
	ParentHeader Header                 `json:"parent_header"`
	Channel      Channel                `json:"channel"`
	Content      map[string]interface{} `json:"content"`
	Metadata     map[string]interface{} `json:"metadata"`
}

func (m Message) toWire() wireMessage {
	return wireMessage{
		Header:       m.Header,
		ParentHeader: m.ParentHeader,
		Channel:      m.Channel,
		Content:      m.Content,
		Metadata:     m.Metadata,
	}
}

func (w wireMessage) toMessage(buffers [][]byte) Message {
	return Message{
		Header:       w.Header,
		ParentHeader: w.ParentHeader,
		Channel:      w.Channel,
		Content:      w.Content,
		Metadata:     w.Metadata,
		Buffers:      buffers,
	}
}

// Encode serializes m to its on-the-wire form. When m has no buffers, the
// result is a text JSON frame (isBinary is false). Otherwise it is a binary
// frame per the offset-table format described in the protocol: a
// little-endian uint32 buffer count n, n+1 little-endian uint32 offsets,
// the JSON body, then the buffers in order. offsets[0] marks where the
// JSON body starts; offsets[i] for i in [1,n] marks where buffers[i-1]
// starts; the end of the last buffer is the frame length itself, and is
// never separately stored.
func Encode(m Message) (data []byte, isBinary bool, err error) {
	jsonBody, err := json.Marshal(m.toWire())
	if err != nil {
		return nil, false, errors.WithMessage(err, "failed to encode message body")
	}
	if len(m.Buffers) == 0 {
		return jsonBody, false, nil
	}

	n := len(m.Buffers)
	headerSize := 4 + 4*(n+1)
	// offsets[0] is where the JSON body begins; offsets[i+1] is where
	// buffers[i] begins (== end of buffers[i-1], or of the JSON body for
	// i==0). The end of the last buffer is never stored — it's the frame
	// length itself.
	offsets := make([]uint32, n+1)
	offsets[0] = uint32(headerSize)
	cursor := offsets[0] + uint32(len(jsonBody))
	for i := range m.Buffers {
		offsets[i+1] = cursor
		cursor += uint32(len(m.Buffers[i]))
	}

	frame := make([]byte, 0, cursor)
	var countBuf [4]byte
	binary.LittleEndian.PutUint32(countBuf[:], uint32(n))
	frame = append(frame, countBuf[:]...)
	for _, off := range offsets {
		var b [4]byte
		binary.LittleEndian.PutUint32(b[:], off)
		frame = append(frame, b[:]...)
	}
	frame = append(frame, jsonBody...)
	for _, buf := range m.Buffers {
		frame = append(frame, buf...)
	}
	return frame, true, nil
}

// Decode parses either a text JSON frame or a binary offset-framed one.
// isText tells Decode which form data is in — a WebSocket text frame
// always carries the former, a binary frame the latter.
func Decode(data []byte, isText bool) (Message, error) {
	if isText {
		var w wireMessage
		if err := json.Unmarshal(data, &w); err != nil {
			return Message{}, malformed("invalid JSON body: %v", err)
		}
		return w.toMessage(nil), nil
	}
	return decodeBinary(data)
}

func decodeBinary(frame []byte) (Message, error) {
	if len(frame) < 4 {
		return Message{}, malformed("frame too short to hold an offset count")
	}
	n := int(binary.LittleEndian.Uint32(frame[0:4]))
	if n < 0 {
		return Message{}, malformed("negative buffer count")
	}
	headerSize := 4 + 4*(n+1)
	if len(frame) < headerSize {
		return Message{}, malformed("frame too short to hold %d offsets", n+1)
	}

	offsets := make([]uint32, n+1)
	for i := 0; i <= n; i++ {
		offsets[i] = binary.LittleEndian.Uint32(frame[4+4*i : 4+4*(i+1)])
	}

	frameLen := uint32(len(frame))
	prev := uint32(headerSize)
	if offsets[0] < prev {
		return Message{}, malformed("offset[0]=%d precedes header end %d", offsets[0], prev)
	}
	for i, off := range offsets {
		if off < prev {
			return Message{}, malformed("offsets are non-monotone at index %d (%d < %d)", i, off, prev)
		}
		if off > frameLen {
			return Message{}, malformed("offset[%d]=%d is past frame end %d", i, off, frameLen)
		}
		prev = off
	}

	jsonEnd := frameLen
	if n >= 1 {
		jsonEnd = offsets[1]
	}
	jsonBody := frame[offsets[0]:jsonEnd]

	var w wireMessage
	if err := json.Unmarshal(jsonBody, &w); err != nil {
		return Message{}, malformed("invalid JSON body: %v", err)
	}

	var buffers [][]byte
	if n > 0 {
		buffers = make([][]byte, n)
		for i := 0; i < n; i++ {
			start := offsets[i+1]
			end := frameLen
			if i+2 <= n {
				end = offsets[i+2]
			}
			buffers[i] = frame[start:end]
		}
	}
	return w.toMessage(buffers), nil
}
