package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// 帧解码错误
var (
	ErrMalformedFrame = errors.New("frame is not a JSON object")
	ErrMissingEvent   = errors.New("envelope missing event name")
)

// Envelope 线上帧格式：{"event": "...", "data": ...}
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// NewEnvelope 创建事件帧
func NewEnvelope(event string, data any) (*Envelope, error) {
	env := &Envelope{Event: event}
	if data == nil {
		return env, nil
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s payload: %w", event, err)
	}
	env.Data = raw
	return env, nil
}

// Encode 将事件帧编码为字节流
func Encode(env *Envelope) ([]byte, error) {
	return json.Marshal(env)
}

// Decode 将字节流解码为事件帧
func Decode(data []byte) (*Envelope, error) {
	env := &Envelope{}
	if err := json.Unmarshal(data, env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	if env.Event == "" {
		return nil, ErrMissingEvent
	}
	return env, nil
}

// DecodeData 将帧数据解码到 v
func (e *Envelope) DecodeData(v any) error {
	if len(e.Data) == 0 {
		return fmt.Errorf("empty payload")
	}
	return json.Unmarshal(e.Data, v)
}
