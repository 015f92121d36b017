package modbus

import (
	"errors"
	"fmt"
)

type Error string

// Failure classes of a transaction.
const (
	ErrIO                          Error = "i/o error"
	ErrNoResponse                  Error = "no response"
	ErrCrcMismatch                 Error = "crc mismatch"
	ErrUnexpectedFunctionOrAddress Error = "unexpected function or address"
	ErrEchoMismatch                Error = "write echo mismatch"
	ErrException                   Error = "exception response"
	ErrProtocolViolation           Error = "protocol violation"
)

// Error implements the error interface.
func (me Error) Error() (s string) {
	s = string(me)
	return
}

// retryable reports whether a failed attempt of this class is retried.
func (me Error) retryable() bool {
	switch me {
	case ErrNoResponse, ErrCrcMismatch, ErrUnexpectedFunctionOrAddress, ErrEchoMismatch:
		return true
	}
	return false
}

// ExceptionCode is the code carried by an exception response.
type ExceptionCode uint8

const (
	ExceptionIllegalFunction     ExceptionCode = 0x01
	ExceptionIllegalDataAddress  ExceptionCode = 0x02
	ExceptionIllegalDataValue    ExceptionCode = 0x03
	ExceptionServerDeviceFailure ExceptionCode = 0x04
	ExceptionAcknowledge         ExceptionCode = 0x05
	ExceptionServerDeviceBusy    ExceptionCode = 0x06
)

var exceptionStrings = map[ExceptionCode]string{
	ExceptionIllegalFunction:     "illegal function",
	ExceptionIllegalDataAddress:  "illegal data address",
	ExceptionIllegalDataValue:    "illegal data value",
	ExceptionServerDeviceFailure: "server device failure",
	ExceptionAcknowledge:         "acknowledge",
	ExceptionServerDeviceBusy:    "server device busy",
}

func (ec ExceptionCode) String() string {
	s, ok := exceptionStrings[ec]
	if !ok {
		s = fmt.Sprintf("unknown exception %02X", uint8(ec))
	}
	return s
}

// TransportError is returned by Execute when a transaction failed. Kind holds
// the failure class of the last attempt and Last the raw bytes received in it.
type TransportError struct {
	Kind      Error
	Slave     uint8
	Function  FunctionCode
	Attempts  int
	Last      []byte
	Exception ExceptionCode // set when Kind is ErrException
	Err       error         // underlying cause, if any
}

func (e *TransportError) Error() string {
	s := fmt.Sprintf("modbus: slave %d %s: %s", e.Slave, e.Function, e.Kind)
	if e.Kind == ErrException {
		s += " (" + e.Exception.String() + ")"
	}
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	if e.Attempts > 1 {
		s += fmt.Sprintf(" after %d attempts", e.Attempts)
	}
	if len(e.Last) > 0 {
		s += fmt.Sprintf(" [last rx: % X]", e.Last)
	}
	return s
}

// Unwrap makes the failure class and the underlying cause visible to errors.Is.
func (e *TransportError) Unwrap() []error {
	if e.Err != nil {
		return []error{e.Kind, e.Err}
	}
	return []error{e.Kind}
}

// KindOf returns the failure class of err, or "" if err is no transaction error.
func KindOf(err error) Error {
	var te *TransportError
	if errors.As(err, &te) {
		return te.Kind
	}
	var kind Error
	if errors.As(err, &kind) {
		return kind
	}
	return ""
}

func violation(req Request, format string, args ...any) error {
	return &TransportError{
		Kind:     ErrProtocolViolation,
		Slave:    req.Slave,
		Function: req.Function,
		Err:      fmt.Errorf(format, args...),
	}
}

// isTimeout reports whether e is a timeout of the underlying link.
func isTimeout(e error) bool {
	type tmoError interface {
		Timeout() bool
	}
	var et tmoError
	if errors.As(e, &et) {
		return et.Timeout()
	}
	return false
}
