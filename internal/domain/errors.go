package domain

import "errors"

var (
	ErrMessageNotFound = errors.New("message not found")
	ErrUserNotFound    = errors.New("user not found")
	ErrFileNotFound    = errors.New("file not found")
	ErrUnknownPersona  = errors.New("unknown assistant persona")
	ErrInvalidSender   = errors.New("invalid sender")
	ErrInvalidMessage  = errors.New("invalid message")
	ErrInvalidReaction = errors.New("invalid reaction")
	ErrInvalidInput    = errors.New("invalid input")
	ErrWrongRoom       = errors.New("message belongs to another room")
	ErrNotRoomMember   = errors.New("not a member of the room")
)
