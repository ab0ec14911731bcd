// Package listener runs dispatchers behind datagram, stream and message bus
// transports.
package listener

import (
	"context"
	"errors"
	"net"

	"github.com/rs/zerolog/log"

	"github.com/commandus/lorawan-storage-sub000/internal/dispatch"
)

// MaxUDPPayload is the largest IPv4 UDP payload
const MaxUDPPayload = 65507

// UDP answers one datagram at a time, replying to the sender
type UDP struct {
	conn        *net.UDPConn
	handler     dispatch.Handler
	bufSize     int
	maxResponse int
}

// NewUDP binds addr. bufSize bounds incoming requests, maxResponse bounds replies.
func NewUDP(addr string, h dispatch.Handler, bufSize, maxResponse int) (*UDP, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, err
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return nil, err
	}
	if bufSize <= 0 || bufSize > MaxUDPPayload {
		bufSize = MaxUDPPayload
	}
	if maxResponse <= 0 || maxResponse > MaxUDPPayload {
		maxResponse = MaxUDPPayload
	}
	return &UDP{
		conn:        conn,
		handler:     h,
		bufSize:     bufSize,
		maxResponse: maxResponse,
	}, nil
}

// Addr returns the bound address
func (u *UDP) Addr() net.Addr { return u.conn.LocalAddr() }

// Serve blocks until ctx is done. The socket is closed on return.
func (u *UDP) Serve(ctx context.Context) error {
	log.Info().Str("addr", u.Addr().String()).Str("service", u.handler.Entity().String()).Msg("UDP listener started")

	stop := context.AfterFunc(ctx, func() { u.conn.Close() })
	defer stop()
	defer u.conn.Close()

	buf := make([]byte, u.bufSize)
	for {
		n, addr, err := u.conn.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				log.Info().Str("addr", u.Addr().String()).Msg("UDP listener stopped")
				return nil
			}
			log.Error().Err(err).Msg("读取 UDP 包错误")
			continue
		}

		out := u.handler.Query(ctx, buf[:n], u.maxResponse)
		if out == nil {
			continue
		}
		if _, err := u.conn.WriteToUDP(out, addr); err != nil {
			log.Warn().Err(err).Str("peer", addr.String()).Msg("UDP reply failed")
		}
	}
}
