/*
Package errs provides custom error types and application-level error code constants.

These error codes are used to clearly identify specific business or system errors
both internally within the server and in communication with clients.
*/
package errs

// 1xxx: General Request Handling Errors
const (
	// ErrMalformedPacket indicates that a received packet could not be decoded
	// (corrupt, truncated, or produced by an incompatible codec).
	ErrMalformedPacket = 1001

	// ErrImproperRequest indicates that a packet of an unrecognized or
	// contextually invalid kind was received.
	ErrImproperRequest = 1002

	// ErrRateLimitExceeded indicates that the request rate has exceeded the set limit.
	ErrRateLimitExceeded = 1003
)

// 2xxx: Content and Account Business Logic Errors
const (
	// ErrMessageTooLong indicates that a message exceeded the configured character limit.
	ErrMessageTooLong = 2001

	// ErrUsernameTooLong indicates that a new username exceeded the configured character limit.
	ErrUsernameTooLong = 2101

	// ErrUsernameTaken indicates that the requested username already exists.
	ErrUsernameTaken = 2102

	// ErrInvalidCharacter indicates that the requested username contains a forbidden character.
	ErrInvalidCharacter = 2103

	// ErrUserCreationDisabled indicates that account creation is switched off by server policy.
	ErrUserCreationDisabled = 2104
)

// 3xxx: Authentication and Session Errors
const (
	// ErrInvalidCredentials indicates that no stored user matched the supplied
	// name/password pair. The message is intentionally identical for a wrong
	// username and a wrong password.
	ErrInvalidCredentials = 3001

	// ErrAccountInUse indicates that the account already has an active session
	// on another connection.
	ErrAccountInUse = 3002

	// ErrAlreadyLoggedIn indicates that this connection is already authenticated.
	ErrAlreadyLoggedIn = 3003

	// ErrNotAuthenticated indicates that the operation requires a logged-in session.
	ErrNotAuthenticated = 3004

	// ErrNotLoggedIn indicates a logout attempt on a connection with no session entry.
	ErrNotLoggedIn = 3005
)

// 5xxx: Internal System Errors
const (
	// ErrUnknown represents an unclassified, general server internal error.
	ErrUnknown = 5000
)
