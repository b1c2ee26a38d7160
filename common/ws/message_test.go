package ws

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessageMarshal(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		msg  Message
	}{
		{name: "basic message", msg: Message{Type: MessageTypeHeartbeat}},
		{
			name: "message with data",
			msg: Message{
				Type: MessageTypeDeviceFinished,
				Data: map[string]interface{}{"address": "10.0.0.5", "status": "alert"},
			},
		},
		{
			name: "message with timestamp",
			msg: Message{
				Type:      MessageTypeCycleFinished,
				Timestamp: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
			},
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			data, err := tt.msg.Marshal()
			require.NoError(t, err)

			var decoded Message
			require.NoError(t, json.Unmarshal(data, &decoded))
			assert.Equal(t, tt.msg.Type, decoded.Type)
			assert.False(t, decoded.Timestamp.IsZero(), "timestamp should be stamped")
			if tt.msg.Data != nil {
				assert.Equal(t, tt.msg.Data["address"], decoded.Data["address"])
			}
		})
	}
}

func TestMessageMarshalKeepsTimestamp(t *testing.T) {
	t.Parallel()

	ts := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	msg := Message{Type: MessageTypeLog, Timestamp: ts}
	_, err := msg.Marshal()
	require.NoError(t, err)
	assert.True(t, msg.Timestamp.Equal(ts))
}
