package api

import (
	"encoding/json"
	"io"
	"mime"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/commandus/lorawan-storage-sub000/internal/auth"
	"github.com/commandus/lorawan-storage-sub000/internal/listener"
)

const (
	contentBinary = "application/octet-stream"
	contentJSON   = "application/json"
)

// HandleHealth health check
func (s *RESTServer) HandleHealth(w http.ResponseWriter, r *http.Request) {
	names := make([]string, 0, len(s.services))
	for name := range s.services {
		names = append(names, name)
	}
	sort.Strings(names)
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"status":   "healthy",
		"services": names,
		"time":     time.Now(),
	})
}

// HandleQuery answers one request posted as the body. JSON bodies use the
// JSON codec, anything else the binary one. A request the service drops
// gets 204 No Content.
func (s *RESTServer) HandleQuery(w http.ResponseWriter, r *http.Request) {
	svc, ok := s.services[chi.URLParam(r, "service")]
	if !ok {
		s.respondError(w, http.StatusNotFound, "unknown service")
		return
	}

	max, err := s.maxResponse(r)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid max")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, listener.MaxFrameSize+1))
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(body) > listener.MaxFrameSize {
		s.respondError(w, http.StatusRequestEntityTooLarge, "request too large")
		return
	}

	h, contentType := svc.binary, contentBinary
	if mt, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type")); mt == contentJSON {
		h, contentType = svc.json, contentJSON
	}

	if claims, ok := r.Context().Value(claimsKey).(*auth.Claims); ok {
		log.Debug().Str("subject", claims.Subject).Str("service", h.Entity().String()).Msg("Authorized request")
	}

	out := h.Query(r.Context(), body, max)
	if out == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(http.StatusOK)
	w.Write(out)
}

// maxResponse reads the optional ?max= buffer size, capped by the configured limit
func (s *RESTServer) maxResponse(r *http.Request) (int, error) {
	limit := s.config.Limits.MaxResponseSize
	v := r.URL.Query().Get("max")
	if v == "" {
		return limit, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, strconv.ErrSyntax
	}
	if n > limit {
		n = limit
	}
	return n, nil
}

// respondJSON responds with JSON
func (s *RESTServer) respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	response, err := json.Marshal(payload)
	if err != nil {
		log.Error().Err(err).Msg("Failed to marshal response")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", contentJSON)
	w.WriteHeader(status)
	w.Write(response)
}

// respondError responds with error
func (s *RESTServer) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{
		"error": message,
	})
}
