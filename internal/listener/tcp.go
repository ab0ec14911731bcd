package listener

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/commandus/lorawan-storage-sub000/internal/dispatch"
	"github.com/commandus/lorawan-storage-sub000/internal/metrics"
)

// TCP serves length-prefixed request frames, one goroutine per connection.
// A request without a response writes nothing back.
type TCP struct {
	ln          net.Listener
	handler     dispatch.Handler
	maxResponse int
	readTimeout time.Duration

	mu    sync.Mutex
	conns map[string]net.Conn
	wg    sync.WaitGroup
}

// NewTCP binds addr. A zero readTimeout never expires idle connections.
func NewTCP(addr string, h dispatch.Handler, maxResponse int, readTimeout time.Duration) (*TCP, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	if maxResponse <= 0 || maxResponse > MaxFrameSize {
		maxResponse = MaxFrameSize
	}
	return &TCP{
		ln:          ln,
		handler:     h,
		maxResponse: maxResponse,
		readTimeout: readTimeout,
		conns:       make(map[string]net.Conn),
	}, nil
}

// Addr returns the bound address
func (t *TCP) Addr() net.Addr { return t.ln.Addr() }

// Serve accepts connections until ctx is done, then closes them all
func (t *TCP) Serve(ctx context.Context) error {
	log.Info().Str("addr", t.Addr().String()).Str("service", t.handler.Entity().String()).Msg("TCP listener started")

	stop := context.AfterFunc(ctx, func() {
		t.ln.Close()
		t.mu.Lock()
		for _, c := range t.conns {
			c.Close()
		}
		t.mu.Unlock()
	})
	defer stop()

	for {
		conn, err := t.ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				t.wg.Wait()
				log.Info().Str("addr", t.Addr().String()).Msg("TCP listener stopped")
				return nil
			}
			log.Error().Err(err).Msg("TCP accept failed")
			continue
		}

		id := uuid.New().String()
		if !t.track(ctx, id, conn) {
			continue
		}

		t.wg.Add(1)
		go func() {
			defer t.wg.Done()
			t.serveConn(ctx, id, conn)
		}()
	}
}

// track registers conn for shutdown. A connection accepted after ctx is done
// is closed right away, the shutdown loop has already run.
func (t *TCP) track(ctx context.Context, id string, conn net.Conn) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if ctx.Err() != nil {
		conn.Close()
		return false
	}
	t.conns[id] = conn
	return true
}

func (t *TCP) serveConn(ctx context.Context, id string, conn net.Conn) {
	transport := "tcp"
	metrics.ConnectionsActive.WithLabelValues(transport).Inc()
	logger := log.With().Str("session", id).Str("peer", conn.RemoteAddr().String()).Logger()
	logger.Debug().Msg("Connection opened")

	defer func() {
		conn.Close()
		t.mu.Lock()
		delete(t.conns, id)
		t.mu.Unlock()
		metrics.ConnectionsActive.WithLabelValues(transport).Dec()
		logger.Debug().Msg("Connection closed")
	}()

	for {
		if t.readTimeout > 0 {
			conn.SetReadDeadline(time.Now().Add(t.readTimeout))
		}
		req, err := ReadFrame(conn)
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) && ctx.Err() == nil {
				logger.Debug().Err(err).Msg("Read failed")
			}
			return
		}

		out := t.handler.Query(ctx, req, t.maxResponse)
		if out == nil {
			continue
		}
		if err := WriteFrame(conn, out); err != nil {
			logger.Warn().Err(err).Msg("Write failed")
			return
		}
	}
}
