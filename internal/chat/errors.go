package chat

import "errors"

// Protocol-level failures. Room-full and invalid-password are distinguished
// so the client can route to the right screen; an edit/delete on a message
// that is missing or not yours is deliberately one error, so the protocol
// never confirms whether a message id exists.
var (
	ErrRoomNotFound      = errors.New("chat not found")
	ErrInvalidCredential = errors.New("invalid password")
	ErrRoomFull          = errors.New("room is full")
	ErrMessageNotFound   = errors.New("message not found")
)
