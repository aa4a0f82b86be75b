package transport

import (
	"encoding/json"
	"fmt"

	"github.com/golang/snappy"

	"github.com/dd0wney/telecom-txcore/pkg/metrics"
)

// Frame flags. The first byte of every encoded frame records whether the
// body is snappy-compressed.
const (
	flagRaw    byte = 0x00
	flagSnappy byte = 0x01
)

// compressThreshold is the body size above which frames are compressed.
// Small control messages gain nothing from snappy.
const compressThreshold = 512

// EncodeMessage serializes a message into a wire frame.
func EncodeMessage(msg Message) ([]byte, error) {
	body, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("encode message: %w", err)
	}
	return frame(body), nil
}

// DecodeMessage parses a wire frame into a message.
func DecodeMessage(data []byte) (Message, error) {
	var msg Message
	body, err := unframe(data)
	if err != nil {
		return msg, err
	}
	if err := json.Unmarshal(body, &msg); err != nil {
		return msg, fmt.Errorf("decode message: %w", err)
	}
	return msg, nil
}

// EncodeResponse serializes a response into a wire frame.
func EncodeResponse(resp Response) ([]byte, error) {
	body, err := json.Marshal(resp)
	if err != nil {
		return nil, fmt.Errorf("encode response: %w", err)
	}
	return frame(body), nil
}

// DecodeResponse parses a wire frame into a response.
func DecodeResponse(data []byte) (Response, error) {
	var resp Response
	body, err := unframe(data)
	if err != nil {
		return resp, err
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return resp, fmt.Errorf("decode response: %w", err)
	}
	return resp, nil
}

// recordFrame counts an encoded frame's body bytes against the payload
// metric, labeled by its compression flag. The registry may be nil.
func recordFrame(reg *metrics.Registry, frame []byte) {
	if reg == nil || len(frame) < 1 {
		return
	}
	compression := "raw"
	if frame[0] == flagSnappy {
		compression = "snappy"
	}
	reg.RecordPayload(compression, len(frame)-1)
}

func frame(body []byte) []byte {
	if len(body) > compressThreshold {
		compressed := snappy.Encode(nil, body)
		out := make([]byte, 0, len(compressed)+1)
		out = append(out, flagSnappy)
		return append(out, compressed...)
	}
	out := make([]byte, 0, len(body)+1)
	out = append(out, flagRaw)
	return append(out, body...)
}

func unframe(data []byte) ([]byte, error) {
	if len(data) < 1 {
		return nil, ErrFrameTooShort
	}
	switch data[0] {
	case flagSnappy:
		body, err := snappy.Decode(nil, data[1:])
		if err != nil {
			return nil, fmt.Errorf("decompress frame: %w", err)
		}
		return body, nil
	default:
		return data[1:], nil
	}
}
