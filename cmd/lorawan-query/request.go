package main

import (
	"encoding/json"
	"fmt"
	"net/netip"

	"github.com/commandus/lorawan-storage-sub000/internal/protocol"
	"github.com/commandus/lorawan-storage-sub000/pkg/lorawan"
)

// query holds the request fields given on the command line
type query struct {
	service    string
	tag        string
	code       int32
	accessCode uint64
	addr       string
	eui        string
	identity   string
	gwID       string
	gwAddr     string
	offset     uint
	size       uint
}

// build creates the request message described by q
func (q *query) build() (protocol.Entity, protocol.Message, error) {
	e, err := protocol.ParseEntity(q.service)
	if err != nil {
		return 0, nil, err
	}
	if len(q.tag) != 1 {
		return 0, nil, fmt.Errorf("tag must be one character, got %q", q.tag)
	}
	m, err := protocol.NewRequest(e, q.tag[0])
	if err != nil {
		return 0, nil, err
	}
	env := protocol.Envelope{Tag: q.tag[0], Code: q.code, AccessCode: q.accessCode}

	switch r := m.(type) {
	case *protocol.AddrRequest:
		r.Envelope = env
		r.Addr, err = lorawan.ParseDevAddr(q.addr)
	case *protocol.EUIRequest:
		r.Envelope = env
		r.EUI, err = lorawan.ParseEUI64(q.eui)
	case *protocol.AssignRequest:
		r.Envelope = env
		r.Identity, err = q.networkIdentity()
	case *protocol.RemoveRequest:
		r.Envelope = env
		if q.addr != "" {
			r.Addr, err = lorawan.ParseDevAddr(q.addr)
		}
		if err == nil && q.eui != "" {
			r.EUI, err = lorawan.ParseEUI64(q.eui)
		}
	case *protocol.GatewayRequest:
		r.Envelope = env
		r.Identity, err = q.gateway()
	case *protocol.OperationRequest:
		r.Envelope = env
		if q.size > 255 {
			return 0, nil, fmt.Errorf("size %d exceeds 255", q.size)
		}
		r.Offset = uint32(q.offset)
		r.Count = uint8(q.size)
	}
	if err != nil {
		return 0, nil, err
	}
	return e, m, nil
}

// networkIdentity reads -identity JSON, then -addr and -eui on top of it
func (q *query) networkIdentity() (lorawan.NetworkIdentity, error) {
	var n lorawan.NetworkIdentity
	if q.identity != "" {
		if err := json.Unmarshal([]byte(q.identity), &n); err != nil {
			return n, fmt.Errorf("identity: %w", err)
		}
	}
	var err error
	if q.addr != "" {
		if n.DevAddr, err = lorawan.ParseDevAddr(q.addr); err != nil {
			return n, err
		}
	}
	if q.eui != "" {
		if n.DevEUI, err = lorawan.ParseEUI64(q.eui); err != nil {
			return n, err
		}
	}
	return n, nil
}

func (q *query) gateway() (lorawan.GatewayIdentity, error) {
	var (
		g   lorawan.GatewayIdentity
		err error
	)
	if q.gwID != "" {
		if g.ID, err = lorawan.ParseEUI64(q.gwID); err != nil {
			return g, err
		}
	}
	if q.gwAddr != "" {
		if g.Addr, err = netip.ParseAddrPort(q.gwAddr); err != nil {
			return g, fmt.Errorf("gateway address: %w", err)
		}
	}
	return g, nil
}
