package protocol

import (
	"bytes"
	"compress/zlib"
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"messenger/internal/app/message"
)

// wirePacket builds a wire frame from raw envelope JSON, bypassing Encode so
// tests can produce shapes Encode would never emit.
func wirePacket(t *testing.T, rawJSON string) []byte {
	t.Helper()

	var compressed bytes.Buffer
	zw := zlib.NewWriter(&compressed)
	_, err := zw.Write([]byte(rawJSON))
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	return []byte(base64.StdEncoding.EncodeToString(compressed.Bytes()))
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	tests := []struct {
		name   string
		packet Packet
	}{
		{name: "login request", packet: LoginRequest{User: "alice", Password: "pw1"}},
		{name: "logout request", packet: LogoutRequest{}},
		{name: "log message", packet: LogMessage{Content: "hello: world", Timestamp: 1700000000.25}},
		{name: "create user", packet: CreateUser{Username: "bob", Password: "secret"}},
		{name: "message log set request", packet: MessageLogSetRequest{}},
		{name: "server info request", packet: ServerInfoRequest{}},
		{name: "success", packet: Success{}},
		{name: "error", packet: Error{Content: "Improper request."}},
		{name: "message log set", packet: MessageLogSet{Content: `["1:alice:99:hi"]`}},
		{name: "message log addition", packet: MessageLogAddition{Content: "2:bob:100:yo"}},
		{
			name: "server info",
			packet: ServerInfo{
				ServerName:        "Messenger Server",
				MsgCharLimit:      200,
				NameCharLimit:     20,
				AllowUserCreation: true,
				MaxShownMessages:  200,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			encoded, err := Encode(tt.packet)
			require.NoError(t, err)

			decoded, err := Decode(encoded)
			require.NoError(t, err)
			assert.Equal(t, tt.packet, decoded)
		})
	}
}

func TestEncodeIsDeterministic(t *testing.T) {
	p := LoginRequest{User: "alice", Password: "pw1"}

	first, err := Encode(p)
	require.NoError(t, err)
	second, err := Encode(p)
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestDecodeMalformed(t *testing.T) {
	valid, err := Encode(Success{})
	require.NoError(t, err)

	tests := []struct {
		name  string
		input []byte
	}{
		{name: "not base64", input: []byte("!!!not base64!!!")},
		{name: "base64 of garbage", input: []byte(base64.StdEncoding.EncodeToString([]byte("plain text")))},
		{name: "truncated frame", input: valid[:len(valid)/2]},
		{name: "empty input", input: []byte{}},
		{name: "compressed non-json", input: wirePacket(t, "this is not json")},
		{name: "missing type tag", input: wirePacket(t, `{"payload":{"user":"alice"}}`)},
		{name: "unknown envelope field", input: wirePacket(t, `{"type":"SUCCESS","extra":1}`)},
		{name: "unknown payload field", input: wirePacket(t, `{"type":"LOGIN_REQUEST","payload":{"user":"a","password":"b","admin":true}}`)},
		{name: "ill-typed payload field", input: wirePacket(t, `{"type":"LOG_MESSAGE","payload":{"content":5,"timestamp":1}}`)},
		{name: "payload for empty kind", input: wirePacket(t, `{"type":"LOGOUT_REQUEST","payload":{"user":"alice"}}`)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(tt.input)
			require.Error(t, err)

			var malformedErr *MalformedError
			assert.ErrorAs(t, err, &malformedErr)
		})
	}
}

func TestDecodeUnrecognizedKind(t *testing.T) {
	p, err := Decode(wirePacket(t, `{"type":"SELF_DESTRUCT"}`))
	require.NoError(t, err)

	unrecognized, ok := p.(Unrecognized)
	require.True(t, ok)
	assert.Equal(t, Kind("SELF_DESTRUCT"), unrecognized.Kind())
}

func TestMessageLogRoundTrip(t *testing.T) {
	log := []message.Message{
		{ID: 1, Sender: message.User{Name: "alice"}, Content: "first", Timestamp: 100},
		{ID: 2, Sender: message.User{Name: "bob"}, Content: "colons: stay: intact", Timestamp: 101},
		{ID: 3, Sender: message.User{Name: "server"}, Content: "alice has left.", Timestamp: 102},
	}

	encoded, err := EncodeMessageLog(log)
	require.NoError(t, err)

	decoded, err := DecodeMessageLog(encoded)
	require.NoError(t, err)
	assert.Equal(t, log, decoded)
}

func TestDecodeMessageLogRejectsBadEntries(t *testing.T) {
	_, err := DecodeMessageLog(`["1:alice:100:ok","not-a-message"]`)
	assert.Error(t, err)

	_, err = DecodeMessageLog("{")
	assert.Error(t, err)
}

func TestEmptyMessageLog(t *testing.T) {
	encoded, err := EncodeMessageLog(nil)
	require.NoError(t, err)

	decoded, err := DecodeMessageLog(encoded)
	require.NoError(t, err)
	assert.Empty(t, decoded)
}
