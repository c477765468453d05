/*
Package protocol defines the messenger wire protocol.

Every packet is a tagged record: a kind plus a fixed payload shape for that
kind. On the wire a packet is the JSON envelope {"type": ..., "payload": ...}
compressed with zlib and encoded as standard base64, which keeps frames to
printable text. Payloads are restricted to primitive scalars and encoded
message log strings; decoding never materializes arbitrary object graphs.

Decoding is strict: unknown payload fields, wrong field types, or a broken
base64/zlib/JSON layer all fail with MalformedError. A structurally valid
envelope carrying an unrecognized kind decodes into an Unrecognized packet so
the connection handler can answer with a domain error instead of dropping the
connection.
*/
package protocol

import (
	"bytes"
	"compress/zlib"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"

	"messenger/internal/app/message"
)

// Kind identifies the packet variant carried by an envelope.
type Kind string

// Request kinds sent by clients.
const (
	KindLoginRequest         Kind = "LOGIN_REQUEST"
	KindLogoutRequest        Kind = "LOGOUT_REQUEST"
	KindLogMessage           Kind = "LOG_MESSAGE"
	KindCreateUser           Kind = "CREATE_USER"
	KindMessageLogSetRequest Kind = "MESSAGE_LOG_SET_REQUEST"
	KindServerInfoRequest    Kind = "SERVER_INFO_REQUEST"
)

// Response and push kinds sent by the server.
const (
	KindSuccess            Kind = "SUCCESS"
	KindError              Kind = "ERROR"
	KindMessageLogSet      Kind = "MESSAGE_LOG_SET"
	KindMessageLogAddition Kind = "MESSAGE_LOG_ADDITION"
	KindServerInfo         Kind = "SERVER_INFO"
)

// MalformedError reports bytes that are not valid wire format: corrupt,
// truncated, or produced by an incompatible codec.
type MalformedError struct {
	Reason string
	Err    error
}

func (e *MalformedError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("malformed packet: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("malformed packet: %s", e.Reason)
}

func (e *MalformedError) Unwrap() error {
	return e.Err
}

func malformed(reason string, err error) *MalformedError {
	return &MalformedError{Reason: reason, Err: err}
}

// Packet is the tagged union of all wire records.
type Packet interface {
	Kind() Kind
}

// LoginRequest asks to authenticate this connection as the named user.
type LoginRequest struct {
	User     string `json:"user"`
	Password string `json:"password"`
}

func (LoginRequest) Kind() Kind { return KindLoginRequest }

// LogoutRequest ends the authenticated session on this connection.
type LogoutRequest struct{}

func (LogoutRequest) Kind() Kind { return KindLogoutRequest }

// LogMessage appends a message to the shared log. The timestamp is the
// client's clock and is informational only: the server stamps accepted
// messages with its own clock.
type LogMessage struct {
	Content   string  `json:"content"`
	Timestamp float64 `json:"timestamp"`
}

func (LogMessage) Kind() Kind { return KindLogMessage }

// CreateUser asks to create a new account.
type CreateUser struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (CreateUser) Kind() Kind { return KindCreateUser }

// MessageLogSetRequest asks for the recent-message window.
type MessageLogSetRequest struct{}

func (MessageLogSetRequest) Kind() Kind { return KindMessageLogSetRequest }

// ServerInfoRequest asks for the server's public settings.
type ServerInfoRequest struct{}

func (ServerInfoRequest) Kind() Kind { return KindServerInfoRequest }

// Success is the generic acknowledgment for requests with no distinct reply.
type Success struct{}

func (Success) Kind() Kind { return KindSuccess }

// Error carries a human-readable failure notice.
type Error struct {
	Content string `json:"content"`
}

func (Error) Kind() Kind { return KindError }

// MessageLogSet carries an encoded ordered message sequence (see
// EncodeMessageLog) replacing the client's local log.
type MessageLogSet struct {
	Content string `json:"content"`
}

func (MessageLogSet) Kind() Kind { return KindMessageLogSet }

// MessageLogAddition pushes a single new message, encoded as a log string, to
// every authenticated connection.
type MessageLogAddition struct {
	Content string `json:"content"`
}

func (MessageLogAddition) Kind() Kind { return KindMessageLogAddition }

// ServerInfo reports the server's public settings.
type ServerInfo struct {
	ServerName        string `json:"server_name"`
	MsgCharLimit      int    `json:"msg_char_limit"`
	NameCharLimit     int    `json:"name_char_limit"`
	AllowUserCreation bool   `json:"allow_user_creation"`
	MaxShownMessages  int    `json:"max_shown_messages"`
}

func (ServerInfo) Kind() Kind { return KindServerInfo }

// Unrecognized is a structurally valid packet whose kind this codec does not
// know. Handlers reject it as an improper request without closing the
// connection.
type Unrecognized struct {
	Raw Kind
}

func (u Unrecognized) Kind() Kind { return u.Raw }

// envelope is the outer JSON layer of every packet.
type envelope struct {
	Type    Kind            `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Encode serializes a packet into its wire byte sequence. It is deterministic
// and round-trips losslessly through Decode for every defined kind.
func Encode(p Packet) ([]byte, error) {
	env := envelope{Type: p.Kind()}

	payload, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s payload: %w", p.Kind(), err)
	}

	// Kinds without fields marshal to "{}"; omit the payload entirely.
	if !bytes.Equal(payload, []byte("{}")) {
		env.Payload = payload
	}

	raw, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s envelope: %w", p.Kind(), err)
	}

	var compressed bytes.Buffer
	zw := zlib.NewWriter(&compressed)
	if _, err := zw.Write(raw); err != nil {
		return nil, fmt.Errorf("failed to compress %s packet: %w", p.Kind(), err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("failed to compress %s packet: %w", p.Kind(), err)
	}

	encoded := make([]byte, base64.StdEncoding.EncodedLen(compressed.Len()))
	base64.StdEncoding.Encode(encoded, compressed.Bytes())
	return encoded, nil
}

// Decode parses a wire byte sequence into a packet. It returns a
// *MalformedError when the bytes are not valid wire format.
func Decode(data []byte) (Packet, error) {
	compressed := make([]byte, base64.StdEncoding.DecodedLen(len(data)))
	n, err := base64.StdEncoding.Decode(compressed, data)
	if err != nil {
		return nil, malformed("invalid base64 layer", err)
	}

	zr, err := zlib.NewReader(bytes.NewReader(compressed[:n]))
	if err != nil {
		return nil, malformed("invalid zlib layer", err)
	}
	raw, err := io.ReadAll(zr)
	if err != nil {
		return nil, malformed("truncated zlib stream", err)
	}
	if err := zr.Close(); err != nil {
		return nil, malformed("invalid zlib stream", err)
	}

	var env envelope
	if err := strictUnmarshal(raw, &env); err != nil {
		return nil, malformed("invalid envelope", err)
	}
	if env.Type == "" {
		return nil, malformed("envelope is missing its type tag", nil)
	}

	return decodePayload(env)
}

// decodePayload validates the payload shape for the declared kind.
func decodePayload(env envelope) (Packet, error) {
	switch env.Type {
	case KindLoginRequest:
		return bindAs[LoginRequest](env)
	case KindLogoutRequest:
		return bindAs[LogoutRequest](env)
	case KindLogMessage:
		return bindAs[LogMessage](env)
	case KindCreateUser:
		return bindAs[CreateUser](env)
	case KindMessageLogSetRequest:
		return bindAs[MessageLogSetRequest](env)
	case KindServerInfoRequest:
		return bindAs[ServerInfoRequest](env)
	case KindSuccess:
		return bindAs[Success](env)
	case KindError:
		return bindAs[Error](env)
	case KindMessageLogSet:
		return bindAs[MessageLogSet](env)
	case KindMessageLogAddition:
		return bindAs[MessageLogAddition](env)
	case KindServerInfo:
		return bindAs[ServerInfo](env)
	default:
		return Unrecognized{Raw: env.Type}, nil
	}
}

// bindAs binds the envelope payload to a concrete packet variant.
func bindAs[T Packet](env envelope) (Packet, error) {
	var p T
	if err := bindPayload(env, &p); err != nil {
		return nil, err
	}
	return p, nil
}

// bindPayload strictly unmarshals the envelope payload into dst. An absent
// payload binds the zero value; unknown or ill-typed fields are malformed.
func bindPayload(env envelope, dst any) error {
	if len(env.Payload) == 0 {
		return nil
	}

	if err := strictUnmarshal(env.Payload, dst); err != nil {
		return malformed(fmt.Sprintf("invalid %s payload", env.Type), err)
	}
	return nil
}

// strictUnmarshal decodes JSON rejecting unknown fields and trailing content.
func strictUnmarshal(data []byte, dst any) error {
	decoder := json.NewDecoder(bytes.NewReader(data))
	decoder.DisallowUnknownFields()

	if err := decoder.Decode(dst); err != nil {
		return err
	}
	if decoder.More() {
		return fmt.Errorf("unexpected trailing content")
	}
	return nil
}

// EncodeMessageLog serializes an ordered message sequence into the single
// string carried by a MESSAGE_LOG_SET payload.
func EncodeMessageLog(log []message.Message) (string, error) {
	entries := make([]string, 0, len(log))
	for _, m := range log {
		entries = append(entries, m.LogString())
	}

	raw, err := json.Marshal(entries)
	if err != nil {
		return "", fmt.Errorf("failed to marshal message log: %w", err)
	}
	return string(raw), nil
}

// DecodeMessageLog reverses EncodeMessageLog.
func DecodeMessageLog(s string) ([]message.Message, error) {
	var entries []string
	if err := json.Unmarshal([]byte(s), &entries); err != nil {
		return nil, malformed("invalid message log listing", err)
	}

	log := make([]message.Message, 0, len(entries))
	for _, entry := range entries {
		m, err := message.ParseLogString(entry)
		if err != nil {
			return nil, malformed("invalid message log entry", err)
		}
		log = append(log, m)
	}
	return log, nil
}
