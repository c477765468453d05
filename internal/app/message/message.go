/*
Package message contains the core data structures of the messenger: users and
logged messages.

It also implements the textual log-string layout used on the wire when message
records are carried inside packet payloads.
*/
package message

import (
	"fmt"
	"strconv"
	"strings"
)

// LogStringSeparator separates the fields of a message log string. The content
// field may itself contain the separator, so parsing splits on it a fixed
// number of times and keeps the remainder verbatim.
const LogStringSeparator = ":"

// User represents a chat participant, identified by a unique name.
type User struct {
	// Name is the unique username. It never contains the ':' character and its
	// length is bounded by the configured username character limit.
	Name string `json:"name"`
}

// Message is an immutable record of one logged chat message.
type Message struct {
	// ID is the storage-assigned identifier, strictly increasing in insertion order.
	ID int64 `json:"id"`

	// Sender references the user the message is attributed to.
	Sender User `json:"sender"`

	// Content is the message text, bounded by the configured message character limit.
	Content string `json:"content"`

	// Timestamp is seconds since epoch, assigned when the message was accepted.
	Timestamp int64 `json:"timestamp"`
}

// LogString renders the message in the fixed id:sender:timestamp:content wire
// layout.
func (m Message) LogString() string {
	return fmt.Sprintf("%d%s%s%s%d%s%s", m.ID, LogStringSeparator, m.Sender.Name, LogStringSeparator, m.Timestamp, LogStringSeparator, m.Content)
}

// ParseLogString converts a log string back into a Message. Only the first
// three separators delimit fields; everything after the third is content.
func ParseLogString(s string) (Message, error) {
	parts := strings.SplitN(s, LogStringSeparator, 4)
	if len(parts) != 4 {
		return Message{}, fmt.Errorf("message log string %q has %d fields, want 4", s, len(parts))
	}

	id, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return Message{}, fmt.Errorf("message log string has invalid id %q: %w", parts[0], err)
	}

	timestamp, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil {
		return Message{}, fmt.Errorf("message log string has invalid timestamp %q: %w", parts[2], err)
	}

	return Message{
		ID:        id,
		Sender:    User{Name: parts[1]},
		Content:   parts[3],
		Timestamp: timestamp,
	}, nil
}
