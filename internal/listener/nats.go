package listener

import (
	"context"
	"fmt"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"

	"github.com/commandus/lorawan-storage-sub000/internal/dispatch"
)

// ConnectNATS opens a connection that keeps reconnecting up to maxReconnects times
func ConnectNATS(url, name string, maxReconnects int) (*nats.Conn, error) {
	nc, err := nats.Connect(url,
		nats.Name(name),
		nats.MaxReconnects(maxReconnects),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn().Err(err).Msg("NATS disconnected")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats %s: %w", url, err)
	}
	return nc, nil
}

// NATS answers requests published on a subject. Messages that get no
// response are left unanswered and the requester times out.
type NATS struct {
	nc          *nats.Conn
	subject     string
	handler     dispatch.Handler
	maxResponse int
}

// NewNATS creates a request/reply listener on subject
func NewNATS(nc *nats.Conn, subject string, h dispatch.Handler, maxResponse int) *NATS {
	if limit := int(nc.MaxPayload()); limit > 0 && (maxResponse <= 0 || maxResponse > limit) {
		maxResponse = limit
	}
	return &NATS{
		nc:          nc,
		subject:     subject,
		handler:     h,
		maxResponse: maxResponse,
	}
}

// Serve subscribes and blocks until ctx is done
func (n *NATS) Serve(ctx context.Context) error {
	sub, err := n.nc.Subscribe(n.subject, func(msg *nats.Msg) {
		if msg.Reply == "" {
			log.Debug().Str("subject", msg.Subject).Msg("Message without reply subject ignored")
			return
		}
		out := n.handler.Query(ctx, msg.Data, n.maxResponse)
		if out == nil {
			return
		}
		if err := msg.Respond(out); err != nil {
			log.Warn().Err(err).Str("subject", msg.Subject).Msg("NATS reply failed")
		}
	})
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", n.subject, err)
	}

	log.Info().Str("subject", n.subject).Str("service", n.handler.Entity().String()).Msg("NATS listener started")

	<-ctx.Done()

	if err := sub.Unsubscribe(); err != nil {
		log.Warn().Err(err).Msg("NATS unsubscribe failed")
	}
	log.Info().Str("subject", n.subject).Msg("NATS listener stopped")
	return nil
}
