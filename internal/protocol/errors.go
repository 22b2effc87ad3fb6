package protocol

import (
	"errors"
	"fmt"
)

// Code identifies a protocol-level error condition. Codes travel over the
// wire inside ErrorNotice messages, so their values are part of the protocol.
type Code string

const (
	CodeTransportError      Code = "transport_error"
	CodeProtocolViolation   Code = "protocol_violation"
	CodeUnknownGameType     Code = "unknown_game_type"
	CodeDuplicateGameType   Code = "duplicate_game_type"
	CodeLobbyNotFound       Code = "lobby_not_found"
	CodeLobbyFull           Code = "lobby_full"
	CodeLobbyAlreadyStarted Code = "lobby_already_started"
	CodeNotEnoughPlayers    Code = "not_enough_players"
	CodeAlreadyStarted      Code = "already_started"
	CodeAlreadyInLobby      Code = "already_in_lobby"
	CodeNotInLobby          Code = "not_in_lobby"
	CodeIllegalMove         Code = "illegal_move"
	CodeFrameTooLarge       Code = "frame_too_large"
	CodePayloadDecode       Code = "payload_decode_error"
	CodeNotConnected        Code = "not_connected"
)

// Error is a typed protocol error carrying a wire-visible code and a
// human-readable message.
type Error struct {
	Code    Code
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewError creates a protocol Error with a formatted message.
//
// Precondition: code must be one of the defined Code constants.
func NewError(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// CodeOf extracts the protocol error code from err.
//
// Postcondition: Returns (code, true) if err wraps a protocol Error, or
// ("", false) otherwise.
func CodeOf(err error) (Code, bool) {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Code, true
	}
	return "", false
}
