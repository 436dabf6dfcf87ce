package realtime

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	appErr "github.com/opsforge/engine/pkg/errors"
)

func TestDecodeInboundClosedUnion(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    Inbound
		wantErr bool
	}{
		{
			name: "subscribe",
			raw:  `{"type":"subscribe","payload":{"topic":"operation_log"}}`,
			want: Inbound{Type: TypeSubscribe, Topic: "operation_log"},
		},
		{
			name: "join room",
			raw:  `{"type":"join_room","payload":{"room":"deployment:web-1"}}`,
			want: Inbound{Type: TypeJoinRoom, Room: "deployment:web-1"},
		},
		{
			name: "heartbeat response without payload",
			raw:  `{"type":"heartbeat_response"}`,
			want: Inbound{Type: TypeHeartbeatResponse},
		},
		{
			name:    "unknown type",
			raw:     `{"type":"eval"}`,
			wantErr: true,
		},
		{
			name:    "subscribe without topic",
			raw:     `{"type":"subscribe","payload":{}}`,
			wantErr: true,
		},
		{
			name:    "room message without room",
			raw:     `{"type":"leave_room","payload":{"room":""}}`,
			wantErr: true,
		},
		{
			name:    "not json",
			raw:     `{{{`,
			wantErr: true,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			in, err := DecodeInbound([]byte(tc.raw))
			if tc.wantErr {
				require.Error(t, err)
				require.True(t, appErr.IsCode(err, appErr.CodeInvalid))
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.want, *in)
		})
	}
}

func TestNewEventEnvelopeShape(t *testing.T) {
	env := NewEvent(TypeDeploymentStatusUpdate, DeploymentStatusPayload{Deployment: "web-1", Status: "ready"})
	require.Equal(t, TypeDeploymentStatusUpdate, env.Type)
	require.False(t, env.Timestamp.IsZero())

	raw, err := json.Marshal(env)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(raw, &decoded))
	require.Contains(t, decoded, "type")
	require.Contains(t, decoded, "payload")
	require.Contains(t, decoded, "timestamp")
	require.NotContains(t, decoded, "id")
}
