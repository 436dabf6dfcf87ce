package realtime

import (
	"encoding/json"
	"time"

	appErr "github.com/opsforge/engine/pkg/errors"
)

// Envelope is the wire format for every realtime message, inbound and
// outbound: {type, payload, timestamp, id?}.
type Envelope struct {
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	ID        string          `json:"id,omitempty"`
}

// Inbound message types, forming a closed set. Anything else is rejected.
const (
	TypeSubscribe         = "subscribe"
	TypeUnsubscribe       = "unsubscribe"
	TypeJoinRoom          = "join_room"
	TypeLeaveRoom         = "leave_room"
	TypeHeartbeatResponse = "heartbeat_response"
)

// Outbound event types.
const (
	TypeHeartbeat              = "heartbeat"
	TypeError                  = "error"
	TypeDeploymentStatusUpdate = "deployment_status_update"
	TypeInstanceStateChange    = "instance_state_change"
	TypeOperationLog           = "operation_log"
	TypeOperationStatus        = "operation_status"
	TypeDriftDetected          = "drift_detected"
)

type TopicPayload struct {
	Topic string `json:"topic"`
}

type RoomPayload struct {
	Room string `json:"room"`
}

type ErrorPayload struct {
	Message string `json:"message"`
}

type DeploymentStatusPayload struct {
	Deployment string `json:"deployment"`
	Status     string `json:"status"`
}

type InstanceStatePayload struct {
	Deployment string `json:"deployment"`
	Instance   string `json:"instance"`
	State      string `json:"state"`
}

type OperationStatusPayload struct {
	OperationID string `json:"operation_id"`
	Deployment  string `json:"deployment"`
	Kind        string `json:"kind"`
	Status      string `json:"status"`
}

type OperationLogPayload struct {
	OperationID string    `json:"operation_id"`
	Seq         int       `json:"seq"`
	Stream      string    `json:"stream"`
	Text        string    `json:"text"`
	Time        time.Time `json:"time"`
}

// Inbound is the decoded form of a client-to-server envelope.
type Inbound struct {
	Type  string
	Topic string
	Room  string
}

// DecodeInbound parses a raw frame into the closed inbound union. Unknown
// types and malformed payloads are explicit errors; the hub reports them to
// the offending session only.
func DecodeInbound(raw []byte) (*Inbound, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, appErr.Wrap(err, appErr.CodeInvalid, "malformed message envelope")
	}

	in := &Inbound{Type: env.Type}
	switch env.Type {
	case TypeSubscribe, TypeUnsubscribe:
		var p TopicPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil || p.Topic == "" {
			return nil, appErr.New(appErr.CodeInvalid, "subscribe requires a topic")
		}
		in.Topic = p.Topic
	case TypeJoinRoom, TypeLeaveRoom:
		var p RoomPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil || p.Room == "" {
			return nil, appErr.New(appErr.CodeInvalid, "room message requires a room")
		}
		in.Room = p.Room
	case TypeHeartbeatResponse:
		// no payload
	default:
		return nil, appErr.New(appErr.CodeInvalid, "unknown message type "+env.Type)
	}
	return in, nil
}

// NewEvent builds an outbound envelope with the payload marshaled in place.
func NewEvent(eventType string, payload any) Envelope {
	env := Envelope{Type: eventType, Timestamp: time.Now().UTC()}
	if payload != nil {
		if b, err := json.Marshal(payload); err == nil {
			env.Payload = b
		}
	}
	return env
}
