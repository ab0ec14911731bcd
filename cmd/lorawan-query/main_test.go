package main

import (
	"bytes"
	"errors"
	"net/netip"
	"strings"
	"testing"
	"time"

	"github.com/commandus/lorawan-storage-sub000/internal/protocol"
	"github.com/commandus/lorawan-storage-sub000/pkg/lorawan"
)

func TestBuild(t *testing.T) {
	tests := []struct {
		name  string
		q     query
		check func(t *testing.T, m protocol.Message)
	}{
		{"get by addr", query{service: "identity", tag: "a", code: 42, accessCode: 42, addr: "01020304"}, func(t *testing.T, m protocol.Message) {
			r := m.(*protocol.AddrRequest)
			if r.Addr != (lorawan.DevAddr{1, 2, 3, 4}) || r.Code != 42 || r.AccessCode != 42 {
				t.Fatalf("%+v", r)
			}
		}},
		{"get by eui", query{service: "identity", tag: "i", eui: "0102030405060708"}, func(t *testing.T, m protocol.Message) {
			if r := m.(*protocol.EUIRequest); r.EUI != (lorawan.EUI64{1, 2, 3, 4, 5, 6, 7, 8}) {
				t.Fatalf("%+v", r)
			}
		}},
		{"assign", query{service: "identity", tag: "p", addr: "00000001", identity: `{"devEUI":"00000000000000aa","class":"C"}`}, func(t *testing.T, m protocol.Message) {
			r := m.(*protocol.AssignRequest)
			if r.Identity.DevAddr.Uint32() != 1 || r.Identity.DevEUI.Uint64() != 0xaa || r.Identity.Class != lorawan.ClassC {
				t.Fatalf("%+v", r.Identity)
			}
		}},
		{"remove by eui", query{service: "identity", tag: "r", eui: "00000000000000aa"}, func(t *testing.T, m protocol.Message) {
			r := m.(*protocol.RemoveRequest)
			if r.EUI.Uint64() != 0xaa || !r.Addr.IsZero() {
				t.Fatalf("%+v", r)
			}
		}},
		{"list", query{service: "identity", tag: "l", offset: 5, size: 20}, func(t *testing.T, m protocol.Message) {
			if r := m.(*protocol.OperationRequest); r.Offset != 5 || r.Count != 20 {
				t.Fatalf("%+v", r)
			}
		}},
		{"gateway by address", query{service: "gateway", tag: "A", gwAddr: "10.0.0.1:1700"}, func(t *testing.T, m protocol.Message) {
			r := m.(*protocol.GatewayRequest)
			if r.Identity.Addr != netip.MustParseAddrPort("10.0.0.1:1700") || !r.Identity.ID.IsZero() {
				t.Fatalf("%+v", r)
			}
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, m, err := tt.q.build()
			if err != nil {
				t.Fatal(err)
			}
			if m.Header().Tag != tt.q.tag[0] {
				t.Fatalf("tag = %c", m.Header().Tag)
			}
			tt.check(t, m)
		})
	}
}

func TestBuildErrors(t *testing.T) {
	tests := map[string]query{
		"unknown service": {service: "device-profile", tag: "a"},
		"long tag":        {service: "identity", tag: "ab"},
		"unknown tag":     {service: "identity", tag: "z"},
		"bad addr":        {service: "identity", tag: "a", addr: "xyz"},
		"bad identity":    {service: "identity", tag: "p", identity: "{"},
		"bad gw address":  {service: "gateway", tag: "p", gwAddr: "nowhere"},
		"size too large":  {service: "identity", tag: "l", size: 256},
	}
	for name, q := range tests {
		t.Run(name, func(t *testing.T) {
			if _, _, err := q.build(); err == nil {
				t.Fatal("expected an error")
			}
		})
	}
}

func TestPrintResponse(t *testing.T) {
	var buf bytes.Buffer
	resp := protocol.NewOperationResponse(protocol.Envelope{Tag: 'c'}, int32(protocol.StatusNotFound))
	if err := printResponse(&buf, protocol.EntityIdentity, resp, false); err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(buf.String(), "error -1:") {
		t.Fatalf("text = %q", buf.String())
	}

	buf.Reset()
	if err := printResponse(&buf, protocol.EntityIdentity, protocol.NewOperationResponse(protocol.Envelope{Tag: 'c'}, 3), true); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), `"result":3`) {
		t.Fatalf("json = %q", buf.String())
	}
}

func TestLatency(t *testing.T) {
	l := newLatency()
	for i := 1; i <= 100; i++ {
		l.record(time.Duration(i)*time.Millisecond, nil)
	}
	l.record(time.Second, errors.New("timeout"))

	var buf bytes.Buffer
	l.print(&buf)
	out := buf.String()
	if !strings.Contains(out, "100 ok, 1 failed") || !strings.Contains(out, "p50") {
		t.Fatalf("summary = %q", out)
	}
	if p50 := time.Duration(l.hist.ValueAtQuantile(50)); p50 < 49*time.Millisecond || p50 > 51*time.Millisecond {
		t.Fatalf("p50 = %s", p50)
	}
}
