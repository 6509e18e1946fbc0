/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package sequence

// Kind separates errors that mean the client asked for something impossible
// from errors that mean the client broke a game rule.
type Kind int

const (
	KindProtocol Kind = iota + 1
	KindRule
)

func (k Kind) String() string {
	switch k {
	case KindProtocol:
		return "protocol"
	case KindRule:
		return "rule"
	default:
		return "unknown"
	}
}

// Code is a machine-readable error code sent to clients alongside the message.
type Code string

// Error is a non-fatal rejection. Room state is never changed by an operation
// that returns one.
type Error struct {
	Kind    Kind
	Code    Code
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

var (
	ErrRoomNotFound   = &Error{KindProtocol, "ROOM_NOT_FOUND", "Room does not exist"}
	ErrRoomFull       = &Error{KindProtocol, "ROOM_FULL", "Room is full"}
	ErrAlreadyStarted = &Error{KindProtocol, "ALREADY_STARTED", "Game already started"}
	ErrTooFewPlayers  = &Error{KindProtocol, "TOO_FEW_PLAYERS", "Need at least 2 players to start"}
	ErrAlreadyActive  = &Error{KindProtocol, "ALREADY_ACTIVE", "Game is already running"}
	ErrNotActive      = &Error{KindProtocol, "NOT_ACTIVE", "Game not active"}
	ErrNotInRoom      = &Error{KindProtocol, "NOT_IN_ROOM", "You are not in this room"}

	ErrConsecutiveTurn = &Error{KindRule, "CONSECUTIVE_TURN", "You cannot play consecutive turns"}
	ErrDuplicateNumber = &Error{KindRule, "DUPLICATE_NUMBER", "Number already selected"}
	ErrMovePending     = &Error{KindRule, "MOVE_PENDING", "Another number is still being processed"}
)
