// Package streaming defines the envelope shared by every push transport
// (websocket clients and MQTT topics).
package streaming

import (
	"encoding/json"
	"fmt"

	"github.com/psg-sentry/sentry/pkg/core"
)

// Message type constants.
const (
	TypeStatus      = "turret_status"
	TypeEngagement  = "engagement"
	TypeCalibration = "calibration"
	TypeControls    = "controls"
	TypeHello       = "hello"
)

// Envelope wraps all pushed messages.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// HelloMessage is the first message a websocket client receives.
type HelloMessage struct {
	ClientID string `json:"client_id"`
}

// NewEnvelope marshals v under the given type.
func NewEnvelope(typ string, v any) (Envelope, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal %s payload: %w", typ, err)
	}
	return Envelope{Type: typ, Payload: raw}, nil
}

// Encode marshals v wrapped in an envelope.
func Encode(typ string, v any) ([]byte, error) {
	env, err := NewEnvelope(typ, v)
	if err != nil {
		return nil, err
	}
	return json.Marshal(env)
}

// DecodeEvent unwraps a turret event pushed as TypeStatus.
func DecodeEvent(data []byte) (core.TurretEvent, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return core.TurretEvent{}, fmt.Errorf("decode envelope: %w", err)
	}
	if env.Type != TypeStatus {
		return core.TurretEvent{}, fmt.Errorf("unexpected message type %q", env.Type)
	}
	var e core.TurretEvent
	if err := json.Unmarshal(env.Payload, &e); err != nil {
		return core.TurretEvent{}, fmt.Errorf("decode %s payload: %w", env.Type, err)
	}
	return e, nil
}
