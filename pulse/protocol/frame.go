package protocol

import (
	"encoding/json"
	"fmt"
)

// FrameKind discriminates the two frame shapes the bridge sends back.
type FrameKind string

const (
	// FrameResult answers one request, correlated by the request ID.
	FrameResult FrameKind = "result"
	// FrameNotification carries an unsolicited envelope.
	FrameNotification FrameKind = "notification"
)

// Request is one operation submitted over a stream transport. ID correlates
// a result frame with its request; Payload is the pre-encoded argument
// string, empty for argument-less operations.
type Request struct {
	ID      string `json:"id"`
	Op      Op     `json:"op"`
	Payload string `json:"payload,omitempty"`
}

// Frame is one message from the bridge to the client. Result frames set ID
// and, when the operation produced a value, Value. Notification frames set
// Data to the envelope wire string.
type Frame struct {
	Kind  FrameKind `json:"kind"`
	ID    string    `json:"id,omitempty"`
	Value *string   `json:"value,omitempty"`
	Data  string    `json:"data,omitempty"`
}

// EncodeRequest serializes one request.
func EncodeRequest(req Request) (string, error) {
	data, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("encode request: %w", err)
	}
	return string(data), nil
}

// DecodeRequest parses one request. Used by the bridge side.
func DecodeRequest(raw string) (Request, error) {
	var req Request
	if err := json.Unmarshal([]byte(raw), &req); err != nil {
		return Request{}, &ParseError{Reason: "invalid request", Err: err}
	}
	if req.Op == "" {
		return Request{}, &ParseError{Reason: "request missing op"}
	}
	return req, nil
}

// EncodeFrame serializes one frame. Used by the bridge side.
func EncodeFrame(f Frame) (string, error) {
	data, err := json.Marshal(f)
	if err != nil {
		return "", fmt.Errorf("encode frame: %w", err)
	}
	return string(data), nil
}

// DecodeFrame parses one frame.
func DecodeFrame(raw string) (Frame, error) {
	var f Frame
	if err := json.Unmarshal([]byte(raw), &f); err != nil {
		return Frame{}, &ParseError{Reason: "invalid frame", Err: err}
	}
	if f.Kind == "" {
		return Frame{}, &ParseError{Reason: "frame missing kind"}
	}
	return f, nil
}
