// Package dispatch turns request buffers into response buffers: decode,
// authenticate, make one storage call, encode.
package dispatch

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/commandus/lorawan-storage-sub000/internal/metrics"
	"github.com/commandus/lorawan-storage-sub000/internal/protocol"
	"github.com/commandus/lorawan-storage-sub000/internal/storage"
)

// Handler answers one request. A nil result means nothing must be sent back.
type Handler interface {
	Query(ctx context.Context, in []byte, max int) []byte
	Entity() protocol.Entity
	// WithCodec returns a handler sharing the storage but using codec c
	WithCodec(c protocol.Codec) Handler
}

// Config holds the credentials every request must carry
type Config struct {
	Code       int32
	AccessCode uint64
	// Codec defaults to protocol.Binary
	Codec protocol.Codec
}

type executor func(ctx context.Context, req protocol.Message) protocol.Message

type dispatcher struct {
	entity protocol.Entity
	cfg    Config
	exec   executor
}

func newDispatcher(e protocol.Entity, cfg Config, exec executor) dispatcher {
	if cfg.Codec == nil {
		cfg.Codec = protocol.Binary
	}
	return dispatcher{entity: e, cfg: cfg, exec: exec}
}

func (d *dispatcher) Entity() protocol.Entity { return d.entity }

// Query decodes in, checks credentials, executes and encodes the response
// into at most max bytes.
func (d *dispatcher) Query(ctx context.Context, in []byte, max int) []byte {
	start := time.Now()
	svc := d.entity.String()
	defer func() {
		metrics.DispatchDuration.WithLabelValues(svc).Observe(time.Since(start).Seconds())
	}()

	req, err := d.cfg.Codec.DecodeRequest(d.entity, in)
	if err != nil {
		metrics.DroppedTotal.WithLabelValues(svc, dropReason(err)).Inc()
		log.Debug().Err(err).Str("service", svc).Int("len", len(in)).Msg("Request dropped")
		return nil
	}

	hdr := req.Header()
	var resp protocol.Message
	if hdr.Code != d.cfg.Code || hdr.AccessCode != d.cfg.AccessCode {
		metrics.DeniedTotal.WithLabelValues(svc).Inc()
		log.Debug().Str("service", svc).Str("tag", string(rune(hdr.Tag))).Int32("code", hdr.Code).Msg("Access denied")
		resp = protocol.NewOperationResponse(*hdr, int32(protocol.StatusAccessDenied))
	} else {
		resp = d.exec(ctx, req)
	}

	entries := listLen(resp)
	out, err := d.cfg.Codec.EncodeResponse(d.entity, resp, max)
	if err != nil {
		metrics.DroppedTotal.WithLabelValues(svc, dropReason(err)).Inc()
		log.Warn().Err(err).Str("service", svc).Str("tag", string(rune(hdr.Tag))).Int("max", max).Msg("Response dropped")
		return nil
	}
	if listLen(resp) < entries {
		metrics.ListTruncatedTotal.WithLabelValues(svc).Inc()
	}

	status := statusOf(resp)
	metrics.RequestsTotal.WithLabelValues(svc, string(rune(hdr.Tag)), status.String()).Inc()
	log.Debug().Str("service", svc).Str("tag", string(rune(hdr.Tag))).Str("status", status.String()).Int("len", len(out)).Msg("Request served")
	return out
}

func dropReason(err error) string {
	switch {
	case errors.Is(err, protocol.ErrTruncated):
		return "truncated"
	case errors.Is(err, protocol.ErrUnknownTag):
		return "unknown_tag"
	case errors.Is(err, protocol.ErrTooLarge):
		return "too_large"
	}
	return "malformed"
}

func listLen(m protocol.Message) int {
	switch r := m.(type) {
	case *protocol.IdentityListResponse:
		return len(r.Identities)
	case *protocol.GatewayListResponse:
		return len(r.Gateways)
	}
	return 0
}

func statusOf(m protocol.Message) protocol.Status {
	switch r := m.(type) {
	case *protocol.OperationResponse:
		return r.Status()
	case *protocol.IdentityGetResponse:
		return r.Status
	case *protocol.GatewayGetResponse:
		return r.Status
	case *protocol.IdentityListResponse:
		return r.Status()
	case *protocol.GatewayListResponse:
		return r.Status()
	}
	return protocol.StatusOK
}

// StatusFromError maps storage errors onto wire status codes
func StatusFromError(err error) protocol.Status {
	switch {
	case err == nil:
		return protocol.StatusOK
	case errors.Is(err, storage.ErrNotFound):
		return protocol.StatusNotFound
	case errors.Is(err, storage.ErrDuplicateKey):
		return protocol.StatusDuplicate
	case errors.Is(err, storage.ErrInvalidData):
		return protocol.StatusInvalidParam
	case errors.Is(err, storage.ErrReadOnly):
		return protocol.StatusReadOnly
	case errors.Is(err, storage.ErrClosed):
		return protocol.StatusClosed
	case errors.Is(err, storage.ErrUnavailable),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, context.Canceled):
		return protocol.StatusUnavailable
	}
	log.Error().Err(err).Msg("Storage error")
	return protocol.StatusInternal
}

// operation echoes req and carries a result or the status of err
func operation(req *protocol.OperationRequest, result int, err error) *protocol.OperationResponse {
	resp := &protocol.OperationResponse{OperationRequest: *req, Response: int32(result)}
	if err != nil {
		resp.Response = int32(StatusFromError(err))
	}
	return resp
}

func result(env protocol.Envelope, err error) *protocol.OperationResponse {
	return protocol.NewOperationResponse(env, int32(StatusFromError(err)))
}
