// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package callback

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/hashicorp/capnotes/auth"
	"github.com/hashicorp/capnotes/oidc"
)

// Exchanger exchanges an authorization code for tokens and the identity they
// carry. *oidc.Provider is an Exchanger.
type Exchanger interface {
	Exchange(ctx context.Context, r *oidc.Request, code string) (*oidc.Token, *auth.Identity, error)
}

var _ Exchanger = (*oidc.Provider)(nil)

// AuthCode creates an oidc authorization code callback handler which
// consumes the oidc.Request stored for the response's "state" parameter and
// exchanges the response's code for tokens.
//
// The SuccessResponseFunc is used to create a response when callback is
// successful. The ErrorResponseFunc is to create a response when the callback
// fails.
func AuthCode(ex Exchanger, store RequestStore, sFn SuccessResponseFunc, eFn ErrorResponseFunc) (http.HandlerFunc, error) {
	const op = "callback.AuthCode"
	switch {
	case ex == nil:
		return nil, fmt.Errorf("%s: exchanger is nil: %w", op, ErrInvalidParameter)
	case store == nil:
		return nil, fmt.Errorf("%s: request store is nil: %w", op, ErrInvalidParameter)
	case sFn == nil:
		return nil, fmt.Errorf("%s: success response func is nil: %w", op, ErrInvalidParameter)
	case eFn == nil:
		return nil, fmt.Errorf("%s: error response func is nil: %w", op, ErrInvalidParameter)
	}
	return func(w http.ResponseWriter, req *http.Request) {
		const op = "callback.AuthCode"
		ctx := req.Context()

		// get parameters from either the body or query parameters.
		// FormValue prioritizes body values, if found.
		reqState := req.FormValue("state")

		if err := req.FormValue("error"); err != "" {
			// the login attempt is over, so its request is spent either way
			if reqState != "" {
				_, _ = store.Read(ctx, reqState)
			}
			reqError := &AuthenErrorResponse{
				Error:       err,
				Description: req.FormValue("error_description"),
				Uri:         req.FormValue("error_uri"),
			}
			eFn(reqState, reqError, nil, w, req)
			return
		}

		reqCode := req.FormValue("code")
		if reqCode == "" {
			eFn(reqState, nil, auth.NewError(auth.KindValidation, auth.WithOp(op),
				auth.WithCode("invalid_request"),
				auth.WithMsg("Authorization code is required"),
				auth.WithWrap(oidc.ErrMissingCode)), w, req)
			return
		}

		r, err := store.Read(ctx, reqState)
		switch {
		case errors.Is(err, ErrRequestNotFound):
			// could have expired, been replayed or be invalid... no way to
			// know for sure
			eFn(reqState, nil, auth.NewError(auth.KindValidation, auth.WithOp(op),
				auth.WithCode("invalid_state"),
				auth.WithMsg("Invalid or expired state"),
				auth.WithWrap(err)), w, req)
			return
		case err != nil:
			eFn(reqState, nil, auth.NewError(auth.KindUnknown, auth.WithOp(op),
				auth.WithMsg("Unable to read login state"),
				auth.WithWrap(err)), w, req)
			return
		case r.State() != reqState:
			eFn(reqState, nil, auth.NewError(auth.KindValidation, auth.WithOp(op),
				auth.WithCode("invalid_state"),
				auth.WithMsg("Invalid or expired state"),
				auth.WithWrap(fmt.Errorf("stored and response state are not equal: %w", ErrRequestNotFound))), w, req)
			return
		}

		t, id, err := ex.Exchange(ctx, r, reqCode)
		if err != nil {
			eFn(reqState, nil, auth.AsError(err), w, req)
			return
		}
		sFn(reqState, t, id, w, req)
	}, nil
}
