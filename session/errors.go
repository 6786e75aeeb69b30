// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"errors"
	"fmt"
)

// ErrorCode classifies the error a session is showing. Codes are
// strings so they survive the relay unchanged.
type ErrorCode string

const (
	ErrorNone ErrorCode = ""

	// ErrorConnect covers transport failures: dial, connect, read and
	// write errors.
	ErrorConnect ErrorCode = "connect"

	// ErrorIdentifyTimeout and ErrorIdentifyResponse are protocol
	// faults during the identification handshake.
	ErrorIdentifyTimeout  ErrorCode = "identify_timeout"
	ErrorIdentifyResponse ErrorCode = "identify_response"

	// Operational conflicts.
	ErrorSendConflict      ErrorCode = "send_conflict"
	ErrorTransferConflict  ErrorCode = "transfer_conflict"
	ErrorOperationConflict ErrorCode = "operation_conflict"
	ErrorNotConnected      ErrorCode = "not_connected"
	ErrorAcquired          ErrorCode = "acquired"

	// ErrorTransfer is a long operation that failed to parse or write.
	ErrorTransfer ErrorCode = "transfer"
)

// Error is an operational error. The session shows the same code and
// message in its Status. errors.Is matches on Code alone, so a wrapped
// or relayed Error still matches the sentinels below.
type Error struct {
	Code    ErrorCode
	Message string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return string(e.Code)
	}
	return e.Message
}

// Is reports whether target is an *Error with the same code.
func (e *Error) Is(target error) bool {
	var other *Error
	if !errors.As(target, &other) {
		return false
	}
	return other.Code == e.Code
}

func newError(code ErrorCode, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Sentinels for errors.Is.
var (
	ErrNotConnected        = &Error{Code: ErrorNotConnected, Message: "not connected"}
	ErrSendDuringTransfer  = &Error{Code: ErrorSendConflict, Message: "cannot send while a long operation is in progress"}
	ErrTransferInProgress  = &Error{Code: ErrorTransferConflict, Message: "a file transfer is already in progress"}
	ErrOperationInProgress = &Error{Code: ErrorOperationConflict, Message: "a different long operation is in progress"}
	ErrAlreadyAcquired     = &Error{Code: ErrorAcquired, Message: "session is already acquired"}
)

// Programming faults. These never change session state.
var (
	// ErrInvalidState is returned by a lifecycle call made from a
	// state that does not allow it, such as Connect while connected.
	ErrInvalidState = errors.New("invalid session state")

	// ErrNoOperation is returned by AbortLongOperation when nothing
	// is in progress.
	ErrNoOperation = errors.New("no long operation in progress")

	// ErrDestroyed is returned by every call on a destroyed session.
	ErrDestroyed = errors.New("session destroyed")

	// ErrNotOwner is returned when releasing a session acquired under
	// a different owner handle.
	ErrNotOwner = errors.New("session acquired by another owner")

	// ErrNoOwner is returned by Acquire when owner is nil.
	ErrNoOwner = errors.New("acquire without an owner")

	// ErrUnknownInstrument is returned for an instrument ID with no
	// registered session.
	ErrUnknownInstrument = errors.New("unknown instrument")

	// ErrDuplicateInstrument is returned when registering a second
	// session for the same instrument.
	ErrDuplicateInstrument = errors.New("instrument already registered")
)
