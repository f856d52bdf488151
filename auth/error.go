// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package auth

import (
	"errors"
	"strings"
)

// Kind classifies an Error. Each kind maps to one HTTP status family.
type Kind uint8

const (
	KindUnknown Kind = iota
	KindConfiguration
	KindAuthentication
	KindAuthorization
	KindProvider
	KindValidation
)

// String returns the kind's name.
func (k Kind) String() string {
	switch k {
	case KindConfiguration:
		return "configuration"
	case KindAuthentication:
		return "authentication"
	case KindAuthorization:
		return "authorization"
	case KindProvider:
		return "provider"
	case KindValidation:
		return "validation"
	default:
		return "unknown"
	}
}

func (k Kind) defaultCode() string {
	switch k {
	case KindConfiguration:
		return "server_misconfigured"
	case KindAuthentication:
		return "invalid_token"
	case KindAuthorization:
		return "insufficient_scope"
	case KindProvider:
		return "provider_error"
	case KindValidation:
		return "invalid_request"
	default:
		return "internal_error"
	}
}

func (k Kind) defaultMsg() string {
	switch k {
	case KindConfiguration:
		return "Authentication is not configured"
	case KindAuthentication:
		return "Authentication failed"
	case KindAuthorization:
		return "Insufficient scope"
	case KindProvider:
		return "Identity provider request failed"
	case KindValidation:
		return "Invalid request"
	default:
		return "Internal error"
	}
}

// Error is the error type returned across the authentication pipeline.
//
// Code and Msg are safe to show a client. Op and Wrapped carry the internal
// detail and must only be logged.
type Error struct {
	Kind    Kind
	Code    string
	Op      string
	Msg     string
	Wrapped error
}

// Sentinels for matching by kind with errors.Is.
var (
	ErrConfiguration  = &Error{Kind: KindConfiguration}
	ErrAuthentication = &Error{Kind: KindAuthentication}
	ErrAuthorization  = &Error{Kind: KindAuthorization}
	ErrProvider       = &Error{Kind: KindProvider}
	ErrValidation     = &Error{Kind: KindValidation}
)

// NewError creates a new Error of kind k. Code and Msg default to values
// derived from the kind.
//
// Supported options: WithOp, WithMsg, WithCode, WithWrap
func NewError(k Kind, opt ...Option) *Error {
	opts := getErrorOpts(opt...)
	e := &Error{
		Kind:    k,
		Code:    opts.withCode,
		Op:      opts.withOp,
		Msg:     opts.withMsg,
		Wrapped: opts.withWrap,
	}
	if e.Code == "" {
		e.Code = k.defaultCode()
	}
	if e.Msg == "" {
		e.Msg = k.defaultMsg()
	}
	return e
}

// Error satisfies the error interface and includes the wrapped cause.
func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	if e.Msg != "" {
		b.WriteString(e.Msg)
	} else {
		b.WriteString(e.Kind.defaultMsg())
	}
	if e.Wrapped != nil {
		b.WriteString(": ")
		b.WriteString(e.Wrapped.Error())
	}
	return b.String()
}

// Unwrap returns the wrapped cause.
func (e *Error) Unwrap() error { return e.Wrapped }

// Is matches any *Error of the same kind. A target with a Code also requires
// the codes to match.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Code != "" && t.Code != e.Code {
		return false
	}
	return t.Kind == e.Kind
}

// KindOf returns the kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// AsError returns the first *Error in err's chain. Errors without one are
// reported as an unknown kind that wraps err.
func AsError(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return NewError(KindUnknown, WithWrap(err))
}
