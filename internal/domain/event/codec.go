package event

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// ErrDecode marks a malformed inbound frame. The frame is dropped, the
// connection stays open.
var ErrDecode = errors.New("malformed frame")

// Decode parses one client frame. The envelope must be a JSON object with a
// non-empty string "type".
func Decode(frame []byte) (*Inbound, error) {
	if !gjson.ValidBytes(frame) {
		return nil, fmt.Errorf("%w: invalid json", ErrDecode)
	}

	root := gjson.ParseBytes(frame)
	if !root.IsObject() {
		return nil, fmt.Errorf("%w: envelope is not an object", ErrDecode)
	}

	kind := root.Get("type")
	if kind.Type != gjson.String || kind.Str == "" {
		return nil, fmt.Errorf("%w: missing type", ErrDecode)
	}

	in := &Inbound{raw: frame}
	if err := json.Unmarshal(frame, in); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrDecode, kind.Str, err)
	}

	return in, nil
}

// Encode serializes an outbound event and stamps the envelope keys. An empty
// messageID leaves "message_id" out (pong).
func Encode(ev Outbound, messageID string) ([]byte, error) {
	if ev == nil {
		return nil, errors.New("encode: nil event")
	}

	data, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", ev.GetKind(), err)
	}

	if data, err = sjson.SetBytes(data, "type", ev.GetKind().String()); err != nil {
		return nil, fmt.Errorf("encode %s: stamp type: %w", ev.GetKind(), err)
	}

	if messageID != "" {
		if data, err = sjson.SetBytes(data, "message_id", messageID); err != nil {
			return nil, fmt.Errorf("encode %s: stamp message_id: %w", ev.GetKind(), err)
		}
	}

	return data, nil
}
