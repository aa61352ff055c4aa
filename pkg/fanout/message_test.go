package fanout

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeMessage(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		want    Message
	}{
		{
			name:    "numeric tag and value",
			payload: `{"tag_id":1,"value":10.5,"timestamp":"2024-01-01T00:00:00Z","unit":"C","description":"inlet"}`,
			want:    Message{TagID: "1", Value: "10.5", Timestamp: "2024-01-01T00:00:00Z", Unit: "C", Description: "inlet"},
		},
		{
			name:    "string tag",
			payload: `{"tag_id":"pump-7","value":"on","timestamp":"t1"}`,
			want:    Message{TagID: "pump-7", Value: "on", Timestamp: "t1"},
		},
		{
			name:    "only tag id",
			payload: `{"tag_id":3}`,
			want:    Message{TagID: "3"},
		},
		{
			name:    "null and boolean fields",
			payload: `{"tag_id":4,"value":true,"timestamp":1700000000,"unit":null}`,
			want:    Message{TagID: "4", Value: "true", Timestamp: "1700000000"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeMessage([]byte(tt.payload))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDecodeMessageRejectsMalformed(t *testing.T) {
	payloads := []string{
		``,
		`not json`,
		`[1,2,3]`,
		`{"value":"10"}`,
		`{"tag_id":""}`,
		`{"tag_id":{"nested":1}}`,
		`{"tag_id":1,`,
	}

	for _, p := range payloads {
		_, err := DecodeMessage([]byte(p))
		assert.Error(t, err, p)
		assert.True(t, errors.Is(err, ErrDecode), p)
	}
}

func TestTagIDs(t *testing.T) {
	assert.Equal(t, []TagID{"1", "2"}, TagIDs(1, 2))
	assert.Equal(t, []TagID{"a"}, TagIDs("a"))
}
