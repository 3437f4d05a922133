package protocol

import (
	"bytes"
	"encoding/json"

	"github.com/pkg/errors"
)

// Frame is one JSON text message in either direction.
// AckID 0 means the sender does not expect an ack.
type Frame struct {
	Event string     `json:"event"`
	AckID uint64     `json:"ackId,omitempty"`
	Data  any        `json:"data,omitempty"`
	Error *ErrorBody `json:"error,omitempty"` // failed acks only
}

// Inbound is a decoded client frame. Data stays untyped until a handler
// decodes it into its payload struct.
type Inbound struct {
	Event string
	AckID uint64
	Data  map[string]any
}

type rawFrame struct {
	Event string          `json:"event"`
	AckID uint64          `json:"ackId,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// ParseFrame decodes a client frame. A missing or null data field yields an empty map;
// non-object data is rejected.
func ParseFrame(raw []byte) (*Inbound, error) {
	var rf rawFrame
	if err := json.Unmarshal(raw, &rf); err != nil {
		return nil, errors.Wrap(err, "unmarshal frame")
	}
	if rf.Event == "" {
		return nil, errors.New("frame has no event")
	}
	in := &Inbound{Event: rf.Event, AckID: rf.AckID, Data: map[string]any{}}
	trimmed := bytes.TrimSpace(rf.Data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return in, nil
	}
	if trimmed[0] != '{' {
		return nil, errors.Errorf("event %s: data must be an object", rf.Event)
	}
	if err := json.Unmarshal(trimmed, &in.Data); err != nil {
		return nil, errors.Wrapf(err, "event %s: unmarshal data", rf.Event)
	}
	return in, nil
}

// Encode marshals an outbound frame.
func Encode(event string, data any) ([]byte, error) {
	b, err := json.Marshal(Frame{Event: event, Data: data})
	if err != nil {
		return nil, errors.Wrapf(err, "marshal %s", event)
	}
	return b, nil
}

func EncodeAck(ackID uint64, data any) ([]byte, error) {
	b, err := json.Marshal(Frame{Event: EvAck, AckID: ackID, Data: data})
	if err != nil {
		return nil, errors.Wrap(err, "marshal ack")
	}
	return b, nil
}

// EncodeAckError answers an ack request that failed.
func EncodeAckError(ackID uint64, body ErrorBody) ([]byte, error) {
	b, err := json.Marshal(Frame{Event: EvAck, AckID: ackID, Error: &body})
	if err != nil {
		return nil, errors.Wrap(err, "marshal ack")
	}
	return b, nil
}

// Envelope is a server frame as a client sees it; Data is decoded by the consumer.
type Envelope struct {
	Event string          `json:"event"`
	AckID uint64          `json:"ackId,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
	Error *ErrorBody      `json:"error,omitempty"`
}
