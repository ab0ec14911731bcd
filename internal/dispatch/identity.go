package dispatch

import (
	"context"

	"github.com/commandus/lorawan-storage-sub000/internal/protocol"
	"github.com/commandus/lorawan-storage-sub000/internal/storage"
	"github.com/commandus/lorawan-storage-sub000/pkg/lorawan"
)

// IdentityDispatcher serves the identity protocol over an IdentityService
type IdentityDispatcher struct {
	dispatcher
	store storage.IdentityService
}

// NewIdentityDispatcher creates a dispatcher answering identity requests
func NewIdentityDispatcher(store storage.IdentityService, cfg Config) *IdentityDispatcher {
	d := &IdentityDispatcher{store: store}
	d.dispatcher = newDispatcher(protocol.EntityIdentity, cfg, d.execute)
	return d
}

// WithCodec returns a dispatcher over the same store using codec c
func (d *IdentityDispatcher) WithCodec(c protocol.Codec) Handler {
	cfg := d.cfg
	cfg.Codec = c
	return NewIdentityDispatcher(d.store, cfg)
}

func (d *IdentityDispatcher) get(env protocol.Envelope, n lorawan.NetworkIdentity, err error) *protocol.IdentityGetResponse {
	if err != nil {
		return &protocol.IdentityGetResponse{Envelope: env, Status: StatusFromError(err)}
	}
	return &protocol.IdentityGetResponse{Envelope: env, Identity: n}
}

func (d *IdentityDispatcher) execute(ctx context.Context, req protocol.Message) protocol.Message {
	switch r := req.(type) {
	case *protocol.AddrRequest:
		n, err := d.store.Get(ctx, r.Addr)
		return d.get(r.Envelope, n, err)
	case *protocol.EUIRequest:
		n, err := d.store.GetNetworkIdentity(ctx, r.EUI)
		return d.get(r.Envelope, n, err)
	case *protocol.AssignRequest:
		return result(r.Envelope, d.store.Put(ctx, r.Identity))
	case *protocol.RemoveRequest:
		return result(r.Envelope, d.store.Remove(ctx, r.Target()))
	case *protocol.OperationRequest:
		switch r.Tag {
		case protocol.TagList:
			list, err := d.store.List(ctx, r.Offset, r.Count)
			resp := protocol.NewIdentityListResponse(r, list)
			if err != nil {
				resp.Identities = nil
				resp.Response = int32(StatusFromError(err))
			}
			return resp
		case protocol.TagCount:
			n, err := d.store.Size(ctx)
			return operation(r, n, err)
		case protocol.TagForceSave:
			return operation(r, 0, d.store.Flush(ctx))
		case protocol.TagCloseResources:
			return operation(r, 0, d.store.Close())
		}
	}
	return protocol.NewOperationResponse(*req.Header(), int32(protocol.StatusInvalidParam))
}
