package proto

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
)

// Envelope is the wire form of a payload: a kind tag and the kind-specific data.
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// DecodeError reports a payload that could not be decoded from an intact line.
// The stream itself is still usable; callers should drop the one read and continue.
type DecodeError struct {
	Reason string
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("decode payload: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("decode payload: %s", e.Reason)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Marshal wraps a payload in an Envelope and renders one newline-terminated line.
func Marshal(p Payload) ([]byte, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("marshal %s data: %w", p.Kind(), err)
	}
	line, err := json.Marshal(Envelope{Type: p.Kind(), Data: data})
	if err != nil {
		return nil, fmt.Errorf("marshal envelope: %w", err)
	}
	return append(line, '\n'), nil
}

// Encoder writes payloads as JSON lines. Not safe for concurrent use;
// callers serialize writes themselves.
type Encoder struct {
	w io.Writer
}

// NewEncoder wraps a writer.
func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{w: w}
}

// Encode writes one payload line.
func (e *Encoder) Encode(p Payload) error {
	line, err := Marshal(p)
	if err != nil {
		return err
	}
	if _, err := e.w.Write(line); err != nil {
		return fmt.Errorf("write payload: %w", err)
	}
	return nil
}

// Decoder reads newline-framed payloads from a stream.
type Decoder struct {
	r *bufio.Reader
}

// NewDecoder wraps a reader.
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{r: bufio.NewReader(r)}
}

// Next blocks for one payload line. Transport errors (EOF, resets) are returned
// as-is and end the stream; an intact line that fails decoding or carries an
// unknown kind yields a *DecodeError and leaves the stream readable.
func (d *Decoder) Next() (Payload, error) {
	line, err := d.r.ReadBytes('\n')
	if err != nil {
		return nil, err
	}

	var env Envelope
	if err := json.Unmarshal(line, &env); err != nil {
		return nil, &DecodeError{Reason: "malformed envelope", Err: err}
	}
	return unmarshalData(env)
}

func unmarshalData(env Envelope) (Payload, error) {
	var p Payload
	switch env.Type {
	case KindHello:
		p = &Hello{}
	case KindAssignID:
		p = &AssignID{}
	case KindSyncClient:
		p = &SyncClient{}
	case KindRoomJoined:
		p = &RoomJoined{}
	case KindRoomLeft:
		p = &RoomLeft{}
	case KindPeerGone:
		p = &PeerGone{}
	case KindCreateRoom:
		p = &CreateRoom{}
	case KindJoinRoom:
		p = &JoinRoom{}
	case KindMessage:
		p = &Message{}
	case KindPrivateMsg:
		p = &PrivateMessage{}
	case KindRoll:
		p = &Roll{}
	case KindFlip:
		p = &Flip{}
	case KindMute:
		p = &Mute{}
	case KindUnmute:
		p = &Unmute{}
	case KindMuteSync:
		p = &MuteSync{}
	case KindBye:
		p = &Bye{}
	default:
		return nil, &DecodeError{Reason: "unknown payload kind " + env.Type}
	}

	if len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, p); err != nil {
			return nil, &DecodeError{Reason: "malformed " + env.Type + " data", Err: err}
		}
	}
	return p, nil
}
