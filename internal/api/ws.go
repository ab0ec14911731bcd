package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"nhooyr.io/websocket"

	"github.com/commandus/lorawan-storage-sub000/internal/listener"
	"github.com/commandus/lorawan-storage-sub000/internal/metrics"
)

// HandleWebSocket serves a stream of requests over one WebSocket. Binary
// messages use the binary codec, text messages the JSON one. Each response
// goes back with the type of its request; dropped requests get nothing.
func (s *RESTServer) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
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

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{})
	if err != nil {
		log.Error().Err(err).Msg("ws accept")
		return
	}
	conn.SetReadLimit(listener.MaxFrameSize)

	session := uuid.New().String()
	metrics.ConnectionsActive.WithLabelValues("websocket").Inc()
	defer metrics.ConnectionsActive.WithLabelValues("websocket").Dec()
	logger := log.With().Str("session", session).Str("peer", r.RemoteAddr).Logger()
	logger.Debug().Msg("WebSocket opened")

	ctx := r.Context()
	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			logger.Debug().Err(err).Msg("WebSocket closed")
			conn.Close(websocket.StatusNormalClosure, "")
			return
		}

		h := svc.binary
		if typ == websocket.MessageText {
			h = svc.json
		}
		out := h.Query(ctx, data, max)
		if out == nil {
			continue
		}

		wctx, cancel := context.WithTimeout(ctx, 10*time.Second)
		err = conn.Write(wctx, typ, out)
		cancel()
		if err != nil {
			logger.Warn().Err(err).Msg("WebSocket write failed")
			return
		}
	}
}
