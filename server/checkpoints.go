package server

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/tarungka/lifelog/checkpoint"
	"github.com/tarungka/lifelog/state"
)

func (s *Server) checkpointRouter() chi.Router {
	router := chi.NewRouter()
	router.Get("/{source}", s.getCheckpoint)
	return router
}

func (s *Server) getCheckpoint(w http.ResponseWriter, r *http.Request) {
	source := chi.URLParam(r, "source")

	cp, found, err := s.checkpoints.Load(r.Context(), source)
	switch {
	case errors.Is(err, state.ErrInvalidSourceID):
		SendError(w, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		s.logger.Err(err).Str("source", source).Msg("failed to load checkpoint")
		SendError(w, http.StatusInternalServerError, err.Error())
		return
	case !found:
		SendError(w, http.StatusNotFound, "no checkpoint for "+source)
		return
	}
	SendResponse(w, checkpointModel(source, cp))
}

func checkpointModel(source string, cp checkpoint.Checkpoint) CheckpointModel {
	m := CheckpointModel{
		Source:    source,
		Offsets:   cp.Offsets,
		Runs:      cp.Runs,
		UpdatedAt: cp.UpdatedAt,
	}
	if !cp.Cursor.IsZero() {
		cursor := cp.Cursor
		m.Cursor = &cursor
	}
	if len(cp.Pending) > 0 {
		m.Pending = make(map[string]PendingModel, len(cp.Pending))
		for key, p := range cp.Pending {
			m.Pending[key] = PendingModel{Since: p.Time, Payload: p.Payload}
		}
	}
	return m
}
