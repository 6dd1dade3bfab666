// Package nativehost bridges the browser extension to the hop scheduler over the
// native messaging protocol: a 4-byte little-endian length prefix followed by a
// JSON payload, on the host's stdin and stdout.
package nativehost

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
)

// MaxMessageSize is the browser's limit for a single native message.
const MaxMessageSize = 1 << 20

// Request is a call in either direction. IDs are scoped to the sender.
type Request struct {
	ID     int             `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

// Response answers a Request with the same ID.
type Response struct {
	ID     int    `json:"id"`
	Ok     bool   `json:"ok"`
	Error  string `json:"error,omitempty"`
	Result any    `json:"result,omitempty"`
}

// Event is a one-way notification.
type Event struct {
	Event string `json:"event"`
	Data  any    `json:"data,omitempty"`
}

// frame is the decoded form of any inbound message.
type frame struct {
	ID     int             `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
	Ok     bool            `json:"ok"`
	Error  string          `json:"error"`
	Result json.RawMessage `json:"result"`
	Event  string          `json:"event"`
	Data   json.RawMessage `json:"data"`
}

type frameKind int

const (
	kindResponse frameKind = iota
	kindRequest
	kindEvent
)

func (f *frame) kind() frameKind {
	switch {
	case f.Event != "":
		return kindEvent
	case f.Method != "":
		return kindRequest
	default:
		return kindResponse
	}
}

// ReadMessage reads one length-prefixed message.
func ReadMessage(r io.Reader) ([]byte, error) {
	var length uint32
	if err := binary.Read(r, binary.LittleEndian, &length); err != nil {
		return nil, err
	}
	if length > MaxMessageSize {
		return nil, fmt.Errorf("message too large: %d bytes (max %d)", length, MaxMessageSize)
	}
	buf := make([]byte, length)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// WriteMessage writes msg with its length prefix.
func WriteMessage(w io.Writer, msg []byte) error {
	if len(msg) > MaxMessageSize {
		return fmt.Errorf("message too large: %d bytes (max %d)", len(msg), MaxMessageSize)
	}
	buf := make([]byte, 4+len(msg))
	binary.LittleEndian.PutUint32(buf, uint32(len(msg)))
	copy(buf[4:], msg)
	_, err := w.Write(buf)
	return err
}

func parseFrame(b []byte) (*frame, error) {
	var f frame
	if err := json.Unmarshal(b, &f); err != nil {
		return nil, err
	}
	return &f, nil
}

func successResponse(id int, result any) Response {
	return Response{ID: id, Ok: true, Result: result}
}

func errorResponse(id int, err error) Response {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	return Response{ID: id, Error: msg}
}
