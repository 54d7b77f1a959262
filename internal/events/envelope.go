package events

import (
	"encoding/json"
	"fmt"

	roomcast_errors "roomcast/pkg/errors"
)

type TargetKind string

const (
	TargetRoom TargetKind = "room"
	TargetUser TargetKind = "user"
)

// Envelope is the broker payload that carries one fan-out to peer instances.
type Envelope struct {
	TargetKind          TargetKind      `json:"target_kind"`
	TargetID            string          `json:"target_id"`
	OriginInstanceID    string          `json:"origin_instance_id"`
	ExcludeConnectionID *string         `json:"exclude_connection_id"`
	Payload             json.RawMessage `json:"payload"`
}

func (e Envelope) Validate() error {
	if e.TargetKind != TargetRoom && e.TargetKind != TargetUser {
		return fmt.Errorf("unknown target kind %q: %w", e.TargetKind, roomcast_errors.ErrProtocol)
	}
	if e.TargetID == "" || e.OriginInstanceID == "" {
		return fmt.Errorf("envelope missing target or origin: %w", roomcast_errors.ErrProtocol)
	}
	if len(e.Payload) == 0 {
		return fmt.Errorf("envelope without payload: %w", roomcast_errors.ErrProtocol)
	}
	return nil
}

// Exclude returns the excluded connection id, or "" when none.
func (e Envelope) Exclude() string {
	if e.ExcludeConnectionID == nil {
		return ""
	}
	return *e.ExcludeConnectionID
}

func DecodeEnvelope(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("decode envelope: %w", roomcast_errors.ErrProtocol)
	}
	if err := env.Validate(); err != nil {
		return Envelope{}, err
	}
	return env, nil
}
