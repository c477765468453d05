package message

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogStringRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		msg  Message
	}{
		{
			name: "plain content",
			msg:  Message{ID: 1, Sender: User{Name: "alice"}, Content: "hello world", Timestamp: 1700000000},
		},
		{
			name: "content with separators",
			msg:  Message{ID: 42, Sender: User{Name: "bob"}, Content: "ratio is 3:2:1", Timestamp: 1700000123},
		},
		{
			name: "empty content",
			msg:  Message{ID: 7, Sender: User{Name: "server"}, Content: "", Timestamp: 1},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			parsed, err := ParseLogString(tt.msg.LogString())
			require.NoError(t, err)
			assert.Equal(t, tt.msg, parsed)
		})
	}
}

func TestLogStringLayout(t *testing.T) {
	msg := Message{ID: 3, Sender: User{Name: "alice"}, Content: "hi:there", Timestamp: 99}
	assert.Equal(t, "3:alice:99:hi:there", msg.LogString())
}

func TestParseLogStringRejectsBadInput(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{name: "too few fields", input: "1:alice:99"},
		{name: "non-numeric id", input: "x:alice:99:hi"},
		{name: "non-numeric timestamp", input: "1:alice:soon:hi"},
		{name: "empty string", input: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseLogString(tt.input)
			assert.Error(t, err)
		})
	}
}
