package ws

import (
	"encoding/json"
	"fmt"

	"github.com/bytedance/sonic"

	"github.com/GriffinCanCode/termbroker/internal/terminal"
)

// Keepalive kinds, valid in both directions.
const (
	KindPing terminal.Kind = "ping"
	KindPong terminal.Kind = "pong"
)

// Frame is one JSON text message on the stream.
type Frame struct {
	Kind      terminal.Kind   `json:"kind"`
	SessionID terminal.ID     `json:"sessionId"`
	RequestID string          `json:"requestId,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// SpawnRequest is the payload of an inbound spawn frame.
type SpawnRequest struct {
	Cols int    `json:"cols"`
	Rows int    `json:"rows"`
	Cwd  string `json:"cwd,omitempty"`
}

// SpawnResponse answers a spawn frame. Error is set instead of the session
// fields when the spawn failed.
type SpawnResponse struct {
	ID          terminal.ID `json:"id,omitempty"`
	Cwd         string      `json:"cwd,omitempty"`
	CwdFallback bool        `json:"cwdFallback,omitempty"`
	Cols        int         `json:"cols,omitempty"`
	Rows        int         `json:"rows,omitempty"`
	Pid         int         `json:"pid,omitempty"`
	Error       string      `json:"error,omitempty"`
}

// DataPayload carries terminal bytes. JSON encodes Data as base64.
type DataPayload struct {
	Data []byte `json:"data"`
}

// ResizePayload is the payload of an inbound resize frame.
type ResizePayload struct {
	Cols int `json:"cols"`
	Rows int `json:"rows"`
}

// ErrorPayload is the payload of an error frame.
type ErrorPayload struct {
	Message string `json:"message"`
}

// NewFrame builds a frame, encoding payload when it is not nil.
func NewFrame(kind terminal.Kind, sessionID terminal.ID, requestID string, payload any) (Frame, error) {
	f := Frame{Kind: kind, SessionID: sessionID, RequestID: requestID}
	if payload != nil {
		raw, err := sonic.Marshal(payload)
		if err != nil {
			return Frame{}, fmt.Errorf("encode %s payload: %w", kind, err)
		}
		f.Payload = raw
	}
	return f, nil
}

// Encode serializes a frame.
func Encode(f Frame) ([]byte, error) {
	return sonic.Marshal(f)
}

// Decode parses a frame.
func Decode(data []byte) (Frame, error) {
	var f Frame
	if err := sonic.Unmarshal(data, &f); err != nil {
		return Frame{}, fmt.Errorf("decode frame: %w", err)
	}
	if f.Kind == "" {
		return Frame{}, fmt.Errorf("decode frame: missing kind")
	}
	return f, nil
}

// DecodePayload unmarshals the frame payload into v. An absent payload
// leaves v untouched.
func (f Frame) DecodePayload(v any) error {
	if len(f.Payload) == 0 {
		return nil
	}
	if err := sonic.Unmarshal(f.Payload, v); err != nil {
		return fmt.Errorf("decode %s payload: %w", f.Kind, err)
	}
	return nil
}

// Envelope converts an inbound control frame to a broker envelope.
func (f Frame) Envelope() (terminal.Envelope, error) {
	env := terminal.Envelope{Kind: f.Kind, SessionID: f.SessionID}

	switch f.Kind {
	case terminal.KindWrite:
		var p DataPayload
		if err := f.DecodePayload(&p); err != nil {
			return env, err
		}
		env.Payload = terminal.WritePayload{Data: p.Data}
	case terminal.KindResize:
		var p ResizePayload
		if err := f.DecodePayload(&p); err != nil {
			return env, err
		}
		env.Payload = terminal.ResizePayload{Cols: p.Cols, Rows: p.Rows}
	case terminal.KindKill:
	default:
		return env, fmt.Errorf("%q is not a control kind", f.Kind)
	}
	return env, nil
}

// EventFrame converts a broker event to an outbound frame.
func EventFrame(env terminal.Envelope) (Frame, error) {
	switch p := env.Payload.(type) {
	case terminal.DataPayload:
		return NewFrame(terminal.KindData, env.SessionID, "", DataPayload{Data: p.Data})
	case terminal.ExitInfo:
		return NewFrame(terminal.KindExit, env.SessionID, "", p)
	case terminal.ErrorPayload:
		return NewFrame(terminal.KindError, env.SessionID, "", ErrorPayload{Message: p.Message})
	default:
		return Frame{}, fmt.Errorf("unsupported event payload %T", env.Payload)
	}
}

// ToEnvelope converts an outbound frame back to a broker event, the inverse
// of EventFrame. Stream clients use it to feed adapters.
func (f Frame) ToEnvelope() (terminal.Envelope, error) {
	env := terminal.Envelope{Kind: f.Kind, SessionID: f.SessionID}

	switch f.Kind {
	case terminal.KindData:
		var p DataPayload
		if err := f.DecodePayload(&p); err != nil {
			return env, err
		}
		env.Payload = terminal.DataPayload{Data: p.Data}
	case terminal.KindExit:
		var p terminal.ExitInfo
		if err := f.DecodePayload(&p); err != nil {
			return env, err
		}
		env.Payload = p
	case terminal.KindError:
		var p ErrorPayload
		if err := f.DecodePayload(&p); err != nil {
			return env, err
		}
		env.Payload = terminal.ErrorPayload{Message: p.Message}
	default:
		return env, fmt.Errorf("%q is not an event kind", f.Kind)
	}
	return env, nil
}
