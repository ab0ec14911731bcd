package client

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"testing"
	"time"

	"github.com/commandus/lorawan-storage-sub000/internal/api"
	"github.com/commandus/lorawan-storage-sub000/internal/config"
	"github.com/commandus/lorawan-storage-sub000/internal/dispatch"
	"github.com/commandus/lorawan-storage-sub000/internal/listener"
	"github.com/commandus/lorawan-storage-sub000/internal/protocol"
	"github.com/commandus/lorawan-storage-sub000/internal/storage"
	"github.com/commandus/lorawan-storage-sub000/pkg/lorawan"
)

var creds = protocol.Envelope{Code: 42, AccessCode: 42}

func env(tag byte) protocol.Envelope {
	e := creds
	e.Tag = tag
	return e
}

func startUDP(t *testing.T, h dispatch.Handler) string {
	t.Helper()
	u, err := listener.NewUDP("127.0.0.1:0", h, 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	go u.Serve(ctx)
	t.Cleanup(cancel)
	return u.Addr().String()
}

func startTCP(t *testing.T, h dispatch.Handler) string {
	t.Helper()
	l, err := listener.NewTCP("127.0.0.1:0", h, 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	go l.Serve(ctx)
	t.Cleanup(cancel)
	return l.Addr().String()
}

func TestIdentityRoundTrip(t *testing.T) {
	mem, _ := storage.NewMemoryIdentityService("")
	h := dispatch.NewIdentityDispatcher(mem, dispatch.Config{Code: 42, AccessCode: 42})

	for _, network := range []string{"udp", "tcp"} {
		t.Run(network, func(t *testing.T) {
			var addr string
			if network == "tcp" {
				addr = startTCP(t, h)
			} else {
				addr = startUDP(t, h)
			}
			c, err := Dial(context.Background(), network, addr, protocol.EntityIdentity, 2*time.Second)
			if err != nil {
				t.Fatal(err)
			}
			defer c.Close()
			ctx := context.Background()

			n := lorawan.NetworkIdentity{DevAddr: lorawan.DevAddr{0x26, 0, 0, 7}}
			n.DevEUI = lorawan.EUI64{0xaa, 0, 0, 0, 0, 0, 0, 7}
			n.AppKey = lorawan.AES128Key{1}
			resp, err := c.Do(ctx, &protocol.AssignRequest{Envelope: env(protocol.TagAssign), Identity: n})
			if err != nil {
				t.Fatal(err)
			}
			if s := resp.(*protocol.OperationResponse).Status(); s != protocol.StatusOK {
				t.Fatalf("assign = %v", s)
			}

			resp, err = c.Do(ctx, &protocol.EUIRequest{Envelope: env(protocol.TagGetEUI), EUI: n.DevEUI})
			if err != nil {
				t.Fatal(err)
			}
			if got := resp.(*protocol.IdentityGetResponse).Identity; got != n {
				t.Fatalf("get = %+v", got)
			}

			resp, err = c.Do(ctx, &protocol.RemoveRequest{Envelope: env(protocol.TagRemove), EUI: n.DevEUI})
			if err != nil {
				t.Fatal(err)
			}
			if s := resp.(*protocol.OperationResponse).Status(); s != protocol.StatusOK {
				t.Fatalf("remove = %v", s)
			}
		})
	}
}

func TestGatewayOverTCP(t *testing.T) {
	mem, _ := storage.NewMemoryGatewayService("")
	addr := startTCP(t, dispatch.NewGatewayDispatcher(mem, dispatch.Config{Code: 42, AccessCode: 42}))
	c, err := Dial(context.Background(), "tcp", addr, protocol.EntityGateway, 2*time.Second)
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()
	ctx := context.Background()

	gw := lorawan.GatewayIdentity{ID: lorawan.EUI64{0, 0, 0, 0, 0, 0, 0, 1}, Addr: netip.MustParseAddrPort("[2001:db8::1]:1700")}
	if _, err := c.Do(ctx, &protocol.GatewayRequest{Envelope: env(protocol.TagGatewayAssign), Identity: gw}); err != nil {
		t.Fatal(err)
	}
	resp, err := c.Do(ctx, &protocol.OperationRequest{Envelope: env(protocol.TagGatewayList), Count: 10})
	if err != nil {
		t.Fatal(err)
	}
	list := resp.(*protocol.GatewayListResponse)
	if len(list.Gateways) != 1 || list.Gateways[0] != gw {
		t.Fatalf("list = %+v", list.Gateways)
	}
}

func TestNoResponse(t *testing.T) {
	mem, _ := storage.NewMemoryIdentityService("")
	addr := startUDP(t, dispatch.NewIdentityDispatcher(mem, dispatch.Config{}))
	c, err := Dial(context.Background(), "udp", addr, protocol.EntityIdentity, 200*time.Millisecond)
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()
	if _, err := c.Exchange(context.Background(), []byte("garbage")); !errors.Is(err, ErrNoResponse) {
		t.Fatalf("err = %v, want ErrNoResponse", err)
	}
}

func TestReplySize(t *testing.T) {
	identity := &Client{entity: protocol.EntityIdentity}
	gateway := &Client{entity: protocol.EntityGateway}
	tests := []struct {
		name string
		c    *Client
		req  []byte
		want int
	}{
		{"get by addr", identity, protocol.Marshal(&protocol.AddrRequest{Envelope: env(protocol.TagGetAddr)}), protocol.IdentityGetResponseSize},
		{"list of 3", identity, protocol.Marshal(&protocol.OperationRequest{Envelope: env(protocol.TagList), Count: 3}), protocol.OperationResponseSize + 3*lorawan.NetworkIdentitySize},
		{"count", identity, protocol.Marshal(&protocol.OperationRequest{Envelope: env(protocol.TagCount)}), protocol.OperationResponseSize},
		{"gateway get", gateway, protocol.Marshal(&protocol.GatewayRequest{Envelope: env(protocol.TagGatewayGetID), Identity: lorawan.GatewayIdentity{ID: lorawan.EUI64{1}}}), protocol.GatewayGetResponseMaxSize},
		{"garbage", identity, []byte("garbage"), listener.MaxUDPPayload},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.c.ReplySize(tt.req); got != tt.want {
				t.Fatalf("ReplySize = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestHTTPSendsMax(t *testing.T) {
	mem, _ := storage.NewMemoryIdentityService("")
	for i := uint32(1); i <= 5; i++ {
		n := lorawan.NetworkIdentity{DevAddr: lorawan.DevAddrFromUint32(i)}
		n.DevEUI = lorawan.EUI64FromUint64(uint64(i))
		if err := mem.Put(context.Background(), n); err != nil {
			t.Fatal(err)
		}
	}
	h := dispatch.NewIdentityDispatcher(mem, dispatch.Config{Code: 42, AccessCode: 42})
	rest := api.NewRESTServer(config.Default(), h)

	var max string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		max = r.URL.Query().Get("max")
		rest.Handler().ServeHTTP(w, r)
	}))
	defer srv.Close()

	c, err := Dial(context.Background(), "http", srv.URL, protocol.EntityIdentity, 2*time.Second)
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	resp, err := c.Do(context.Background(), &protocol.OperationRequest{Envelope: env(protocol.TagList), Count: 2})
	if err != nil {
		t.Fatal(err)
	}
	if max != "222" {
		t.Fatalf("max = %q, want 222", max)
	}
	if list := resp.(*protocol.IdentityListResponse); len(list.Identities) != 2 || list.Identities[0].DevAddr.Uint32() != 1 {
		t.Fatalf("list = %+v", list.Identities)
	}

	if _, err := c.Exchange(context.Background(), []byte("garbage")); !errors.Is(err, ErrNoResponse) {
		t.Fatalf("garbage over http: err = %v, want ErrNoResponse", err)
	}
}

func TestDialUnsupported(t *testing.T) {
	if _, err := Dial(context.Background(), "unix", "/tmp/x", protocol.EntityIdentity, 0); err == nil {
		t.Fatal("expected an error")
	}
}
