package core

import "errors"

// Domain errors returned by registry operations. Handlers translate them into
// user-facing server messages.
var (
	ErrRoomNotFound  = errors.New("room not found")
	ErrRoomExists    = errors.New("room already exists")
	ErrAlreadyInRoom = errors.New("already in room")
	ErrRoomClosed    = errors.New("room is closed")
)
