package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/casefind/internal/models"
)

func (s *Server) handleSearchText(w http.ResponseWriter, r *http.Request) {
	var query models.SearchQuery
	if err := json.NewDecoder(r.Body).Decode(&query); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	s.logger.Debug("text search request", zap.String("query", query.Query), zap.Int("k", query.K))
	start := time.Now()
	hits, err := s.engine.SearchByText(r.Context(), query.Query, query.K)
	if err != nil {
		s.respondSearchError(w, "text", err)
		return
	}
	s.respondJSON(w, http.StatusOK, models.SearchResponse[models.ImageHit]{
		Query:     query.Query,
		Results:   hits,
		Total:     len(hits),
		QueryTime: time.Since(start).Milliseconds(),
	})
}

func (s *Server) handleSearchTextAlt(w http.ResponseWriter, r *http.Request) {
	var query models.SearchQuery
	if err := json.NewDecoder(r.Body).Decode(&query); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	s.logger.Debug("text-alt search request", zap.String("query", query.Query), zap.Int("k", query.K))
	start := time.Now()
	hits, err := s.engine.SearchByTextAlternateModel(r.Context(), query.Query, query.K)
	if err != nil {
		s.respondSearchError(w, "text-alt", err)
		return
	}
	s.respondJSON(w, http.StatusOK, models.SearchResponse[models.RecordHit]{
		Query:     query.Query,
		Results:   hits,
		Total:     len(hits),
		QueryTime: time.Since(start).Milliseconds(),
	})
}

// handleSearchImage expects a multipart form with the image in the "file" field and an
// optional k query parameter.
func (s *Server) handleSearchImage(w http.ResponseWriter, r *http.Request) {
	k := 0
	if v := r.URL.Query().Get("k"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			s.respondError(w, http.StatusBadRequest, "k must be an integer")
			return
		}
		k = n
	}

	r.Body = http.MaxBytesReader(w, r.Body, MaxImageBytes)
	file, _, err := r.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.respondError(w, http.StatusRequestEntityTooLarge, "image too large")
			return
		}
		s.respondError(w, http.StatusBadRequest, "multipart field \"file\" is required")
		return
	}
	defer file.Close()
	data, err := io.ReadAll(file)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "failed to read image")
		return
	}
	s.logger.Debug("image search request", zap.Int("bytes", len(data)), zap.Int("k", k))

	start := time.Now()
	hits, err := s.engine.SearchByImage(r.Context(), data, k)
	if err != nil {
		s.respondSearchError(w, "image", err)
		return
	}
	s.respondJSON(w, http.StatusOK, models.SearchResponse[models.RecordHit]{
		Results:   hits,
		Total:     len(hits),
		QueryTime: time.Since(start).Milliseconds(),
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// statusFor maps engine errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, models.ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.Is(err, models.ErrProviderUnavailable), errors.Is(err, models.ErrEmptyCollection):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) respondSearchError(w http.ResponseWriter, method string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("search failed", zap.String("method", method), zap.Error(err))
	}
	s.respondError(w, status, err.Error())
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}
