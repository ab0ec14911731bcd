package dispatch

import (
	"context"

	"github.com/commandus/lorawan-storage-sub000/internal/protocol"
	"github.com/commandus/lorawan-storage-sub000/internal/storage"
	"github.com/commandus/lorawan-storage-sub000/pkg/lorawan"
)

// GatewayDispatcher serves the gateway protocol over a GatewayService
type GatewayDispatcher struct {
	dispatcher
	store storage.GatewayService
}

// NewGatewayDispatcher creates a dispatcher answering gateway requests
func NewGatewayDispatcher(store storage.GatewayService, cfg Config) *GatewayDispatcher {
	d := &GatewayDispatcher{store: store}
	d.dispatcher = newDispatcher(protocol.EntityGateway, cfg, d.execute)
	return d
}

// WithCodec returns a dispatcher over the same store using codec c
func (d *GatewayDispatcher) WithCodec(c protocol.Codec) Handler {
	cfg := d.cfg
	cfg.Codec = c
	return NewGatewayDispatcher(d.store, cfg)
}

func (d *GatewayDispatcher) get(env protocol.Envelope, g lorawan.GatewayIdentity, err error) *protocol.GatewayGetResponse {
	if err != nil {
		return &protocol.GatewayGetResponse{Envelope: env, Status: StatusFromError(err)}
	}
	return &protocol.GatewayGetResponse{Envelope: env, Identity: g}
}

func (d *GatewayDispatcher) execute(ctx context.Context, req protocol.Message) protocol.Message {
	switch r := req.(type) {
	case *protocol.GatewayRequest:
		switch r.Tag {
		case protocol.TagGatewayGetID:
			// 网关ID为0时按地址反查
			if r.Identity.ID.IsZero() {
				g, err := d.store.GetByAddress(ctx, r.Identity.Addr)
				return d.get(r.Envelope, g, err)
			}
			g, err := d.store.Get(ctx, r.Identity.ID)
			return d.get(r.Envelope, g, err)
		case protocol.TagGatewayGetAddr:
			g, err := d.store.GetByAddress(ctx, r.Identity.Addr)
			return d.get(r.Envelope, g, err)
		case protocol.TagGatewayAssign:
			return result(r.Envelope, d.store.Put(ctx, r.Identity))
		case protocol.TagGatewayRemove:
			return result(r.Envelope, d.store.Remove(ctx, r.Identity))
		}
	case *protocol.OperationRequest:
		switch r.Tag {
		case protocol.TagGatewayList:
			list, err := d.store.List(ctx, r.Offset, r.Count)
			resp := protocol.NewGatewayListResponse(r, list)
			if err != nil {
				resp.Gateways = nil
				resp.Response = int32(StatusFromError(err))
			}
			return resp
		case protocol.TagGatewayCount:
			n, err := d.store.Size(ctx)
			return operation(r, n, err)
		case protocol.TagGatewayForceSave:
			return operation(r, 0, d.store.Flush(ctx))
		case protocol.TagGatewayCloseResources:
			return operation(r, 0, d.store.Close())
		}
	}
	return protocol.NewOperationResponse(*req.Header(), int32(protocol.StatusInvalidParam))
}
