package core

import (
	"errors"
	"fmt"
)

// Code classifies an Error.
type Code string

const (
	// CodeConfig marks invalid configuration detected at construction time.
	// Fatal to startup.
	CodeConfig Code = "CONFIG"
	// CodePath marks a target directory that cannot be created or written at resolve time.
	CodePath Code = "PATH"
	// CodeIO marks a write, close or permission failure during a flush.
	CodeIO Code = "IO"
	// CodeInvalidInput marks a malformed argument from a caller.
	CodeInvalidInput Code = "INVALID_INPUT"
)

// Error is the error type returned by every sink package.
type Error struct {
	Code Code
	Op   string // operation or config field, e.g. "timezone", "flush"
	Path string // filesystem path involved, if any
	Err  error
}

func (e *Error) Error() string {
	msg := string(e.Code)
	if e.Op != "" {
		msg += " " + e.Op
	}
	if e.Path != "" {
		msg += " " + e.Path
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches another *Error with the same Code, so errors.Is(err, &Error{Code: CodeIO}) works.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code && t.Op == "" && t.Path == "" && t.Err == nil
}

// ConfigError reports an invalid configuration field.
func ConfigError(field string, format string, args ...interface{}) error {
	return &Error{Code: CodeConfig, Op: field, Err: fmt.Errorf(format, args...)}
}

// WrapConfig wraps err as a configuration error for field.
func WrapConfig(field string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Code: CodeConfig, Op: field, Err: err}
}

// PathError reports a directory that could not be prepared.
func PathError(path string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Code: CodePath, Op: "resolve", Path: path, Err: err}
}

// IOError reports a failed filesystem operation during a flush.
func IOError(op, path string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Code: CodeIO, Op: op, Path: path, Err: err}
}

// CodeOf returns the Code of the first *Error in err's chain, or "".
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

func IsConfig(err error) bool { return CodeOf(err) == CodeConfig }
func IsPath(err error) bool   { return CodeOf(err) == CodePath }
func IsIO(err error) bool     { return CodeOf(err) == CodeIO }
