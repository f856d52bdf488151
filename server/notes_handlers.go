// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hashicorp/capnotes/auth"
	"github.com/hashicorp/capnotes/notes"
)

type createNoteRequest struct {
	Title   string `json:"title"`
	Content string `json:"content"`
}

type updateNoteRequest struct {
	Title   *string `json:"title"`
	Content *string `json:"content"`
}

// decodeBody decodes a JSON request body into v.
func decodeBody(r *http.Request, v interface{}) error {
	const op = "server.decodeBody"
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodySize)).Decode(v); err != nil {
		return auth.NewError(auth.KindValidation, auth.WithOp(op),
			auth.WithMsg("Request body must be a JSON object"), auth.WithWrap(err))
	}
	return nil
}

// owner returns the subject the notes of the request belong to.
func owner(r *http.Request) string {
	if id, ok := auth.IdentityFromContext(r.Context()); ok {
		return id.ID
	}
	return ""
}

func (s *Server) writeNoteError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, notes.ErrNotFound) {
		auth.WriteJSON(w, http.StatusNotFound, &auth.ErrorResponse{Error: "not_found", Message: "Note not found"})
		return
	}
	s.writeError(w, r, err)
}

func (s *Server) handleCreateNote(w http.ResponseWriter, r *http.Request) {
	var req createNoteRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	n, err := s.notes.Create(r.Context(), owner(r), req.Title, req.Content)
	if err != nil {
		s.writeNoteError(w, r, err)
		return
	}
	auth.WriteJSON(w, http.StatusCreated, n)
}

func (s *Server) handleListNotes(w http.ResponseWriter, r *http.Request) {
	list, err := s.notes.ListForUser(r.Context(), owner(r))
	if err != nil {
		s.writeNoteError(w, r, err)
		return
	}
	auth.WriteJSON(w, http.StatusOK, list)
}

func (s *Server) handleGetNote(w http.ResponseWriter, r *http.Request) {
	n, err := s.notes.Get(r.Context(), owner(r), chi.URLParam(r, "id"))
	if err != nil {
		s.writeNoteError(w, r, err)
		return
	}
	auth.WriteJSON(w, http.StatusOK, n)
}

func (s *Server) handleUpdateNote(w http.ResponseWriter, r *http.Request) {
	var req updateNoteRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	n, err := s.notes.Update(r.Context(), owner(r), chi.URLParam(r, "id"), notes.Patch{
		Title:   req.Title,
		Content: req.Content,
	})
	if err != nil {
		s.writeNoteError(w, r, err)
		return
	}
	auth.WriteJSON(w, http.StatusOK, n)
}
