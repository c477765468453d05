/*
Package errs provides custom error types and application-level error code constants.

This file defines the map from error codes to the CustomError struct, used to standardize
ERROR packet contents and operational HTTP responses.
*/
package errs

import "net/http"

// errorMap stores the detailed CustomError struct corresponding to every application error code.
// The key is the error code (int), and the value contains the user message and HTTP status code.
var errorMap = map[int]CustomError{
	// 1xxx: General Request Handling Errors
	ErrMalformedPacket:   {Code: ErrMalformedPacket, Message: "Your client seems to be broken or malformed.", Status: http.StatusBadRequest},
	ErrImproperRequest:   {Code: ErrImproperRequest, Message: "Improper request."},
	ErrRateLimitExceeded: {Code: ErrRateLimitExceeded, Message: "Too many requests. Please try again later.", Status: http.StatusTooManyRequests},

	// 2xxx: Content and Account Business Logic Errors
	ErrMessageTooLong:       {Code: ErrMessageTooLong, Message: "Message is over %d characters, not logging."},
	ErrUsernameTooLong:      {Code: ErrUsernameTooLong, Message: "Username too long. Did not create user."},
	ErrUsernameTaken:        {Code: ErrUsernameTaken, Message: "Username already taken."},
	ErrInvalidCharacter:     {Code: ErrInvalidCharacter, Message: "Usernames cannot use the character ':' in them."},
	ErrUserCreationDisabled: {Code: ErrUserCreationDisabled, Message: "User creation is disabled on this server."},

	// 3xxx: Authentication and Session Errors
	ErrInvalidCredentials: {Code: ErrInvalidCredentials, Message: "Username or Password incorrect. Please try again."},
	ErrAccountInUse:       {Code: ErrAccountInUse, Message: "Account '%s' is already logged in."},
	ErrAlreadyLoggedIn:    {Code: ErrAlreadyLoggedIn, Message: "Already logged in!"},
	ErrNotAuthenticated:   {Code: ErrNotAuthenticated, Message: "You need to be logged in first."},
	ErrNotLoggedIn:        {Code: ErrNotLoggedIn, Message: "You are not logged in."},

	// 5xxx: Internal System Errors
	ErrUnknown: {Code: ErrUnknown, Message: "Internal Server Error", Status: http.StatusInternalServerError},
}
