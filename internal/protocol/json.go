package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/commandus/lorawan-storage-sub000/pkg/lorawan"
)

// JSON renders the same messages as JSON objects. Get responses become the
// entity object, list responses an array, everything else a result object.
var JSON Codec = jsonCodec{}

type jsonCodec struct{}

type jsonEnvelope struct {
	Tag        string `json:"tag"`
	Code       int32  `json:"code"`
	AccessCode uint64 `json:"accessCode"`
}

func (j jsonEnvelope) envelope() (Envelope, error) {
	if len(j.Tag) != 1 {
		return Envelope{}, fmt.Errorf("%w: tag %q", ErrMalformed, j.Tag)
	}
	return Envelope{Tag: j.Tag[0], Code: j.Code, AccessCode: j.AccessCode}, nil
}

func toJSONEnvelope(e *Envelope) jsonEnvelope {
	return jsonEnvelope{Tag: string(rune(e.Tag)), Code: e.Code, AccessCode: e.AccessCode}
}

type jsonIdentityRequest struct {
	jsonEnvelope
	Offset uint32         `json:"offset,omitempty"`
	Size   uint8          `json:"size,omitempty"`
	EUI    *lorawan.EUI64 `json:"eui,omitempty"`
	lorawan.NetworkIdentity
}

// devEUI prefers "eui" over the identity's "devEUI"
func (r *jsonIdentityRequest) devEUI() lorawan.EUI64 {
	if r.EUI != nil {
		return *r.EUI
	}
	return r.DevEUI
}

type jsonGatewayRequest struct {
	jsonEnvelope
	Offset uint32 `json:"offset,omitempty"`
	Size   uint8  `json:"size,omitempty"`
	lorawan.GatewayIdentity
}

type jsonResult struct {
	jsonEnvelope
	Result int32  `json:"result"`
	Error  string `json:"error,omitempty"`
}

func (jsonCodec) Name() string { return "json" }

func (jsonCodec) DecodeRequest(e Entity, in []byte) (Message, error) {
	var env jsonEnvelope
	if err := json.Unmarshal(in, &env); err != nil {
		return nil, &ProtocolError{Entity: e, Len: len(in), Err: fmt.Errorf("%w: %v", ErrMalformed, err)}
	}
	hdr, err := env.envelope()
	if err != nil {
		return nil, &ProtocolError{Entity: e, Len: len(in), Err: err}
	}
	m, err := NewRequest(e, hdr.Tag)
	if err != nil {
		return nil, &ProtocolError{Entity: e, Tag: hdr.Tag, Len: len(in), Err: err}
	}

	if e == EntityGateway {
		var r jsonGatewayRequest
		if err := json.Unmarshal(in, &r); err != nil {
			return nil, &ProtocolError{Entity: e, Tag: hdr.Tag, Len: len(in), Err: fmt.Errorf("%w: %v", ErrMalformed, err)}
		}
		switch t := m.(type) {
		case *GatewayRequest:
			t.Envelope = hdr
			t.Identity = r.GatewayIdentity
		case *OperationRequest:
			t.Envelope = hdr
			t.Offset = r.Offset
			t.Count = r.Size
		}
		return m, nil
	}

	var r jsonIdentityRequest
	if err := json.Unmarshal(in, &r); err != nil {
		return nil, &ProtocolError{Entity: e, Tag: hdr.Tag, Len: len(in), Err: fmt.Errorf("%w: %v", ErrMalformed, err)}
	}
	switch t := m.(type) {
	case *AddrRequest:
		t.Envelope = hdr
		t.Addr = r.DevAddr
	case *EUIRequest:
		t.Envelope = hdr
		t.EUI = r.devEUI()
	case *AssignRequest:
		t.Envelope = hdr
		t.Identity = r.NetworkIdentity
		t.Identity.DevEUI = r.devEUI()
	case *RemoveRequest:
		t.Envelope = hdr
		t.EUI = r.devEUI()
		t.Addr = r.DevAddr
	case *OperationRequest:
		t.Envelope = hdr
		t.Offset = r.Offset
		t.Count = r.Size
	}
	return m, nil
}

func (jsonCodec) EncodeRequest(e Entity, m Message) ([]byte, error) {
	env := toJSONEnvelope(m.Header())
	switch t := m.(type) {
	case *AddrRequest:
		r := jsonIdentityRequest{jsonEnvelope: env}
		r.DevAddr = t.Addr
		return json.Marshal(r)
	case *EUIRequest:
		eui := t.EUI
		return json.Marshal(jsonIdentityRequest{jsonEnvelope: env, EUI: &eui})
	case *AssignRequest:
		return json.Marshal(jsonIdentityRequest{jsonEnvelope: env, NetworkIdentity: t.Identity})
	case *RemoveRequest:
		r := jsonIdentityRequest{jsonEnvelope: env}
		r.DevAddr = t.Addr
		if !t.EUI.IsZero() {
			eui := t.EUI
			r.EUI = &eui
		}
		return json.Marshal(r)
	case *GatewayRequest:
		return json.Marshal(jsonGatewayRequest{jsonEnvelope: env, GatewayIdentity: t.Identity})
	case *OperationRequest:
		if e == EntityGateway {
			return json.Marshal(jsonGatewayRequest{jsonEnvelope: env, Offset: t.Offset, Size: t.Count})
		}
		return json.Marshal(jsonIdentityRequest{jsonEnvelope: env, Offset: t.Offset, Size: t.Count})
	}
	return nil, ErrUnknownType
}

func resultJSON(env *Envelope, result int32) ([]byte, error) {
	r := jsonResult{jsonEnvelope: toJSONEnvelope(env), Result: result}
	if result < 0 {
		r.Error = Status(result).String()
	}
	return json.Marshal(r)
}

func (c jsonCodec) EncodeResponse(e Entity, m Message, max int) ([]byte, error) {
	var (
		out []byte
		err error
	)
	switch t := m.(type) {
	case *OperationResponse:
		out, err = resultJSON(&t.Envelope, t.Response)
	case *IdentityGetResponse:
		if t.Status != StatusOK {
			out, err = resultJSON(&t.Envelope, int32(t.Status))
		} else {
			out, err = json.Marshal(t.Identity)
		}
	case *GatewayGetResponse:
		if t.Status != StatusOK {
			out, err = resultJSON(&t.Envelope, int32(t.Status))
		} else {
			out, err = json.Marshal(t.Identity)
		}
	case *IdentityListResponse:
		if t.Response < 0 {
			out, err = resultJSON(&t.Envelope, t.Response)
			break
		}
		out, err = fitArray(len(t.Identities), max, func(i int) ([]byte, error) {
			return json.Marshal(t.Identities[i])
		})
	case *GatewayListResponse:
		if t.Response < 0 {
			out, err = resultJSON(&t.Envelope, t.Response)
			break
		}
		out, err = fitArray(len(t.Gateways), max, func(i int) ([]byte, error) {
			return json.Marshal(t.Gateways[i])
		})
	default:
		return nil, ErrUnknownType
	}
	if err != nil {
		return nil, err
	}
	if len(out) > max {
		return nil, ErrTooLarge
	}
	return out, nil
}

// fitArray builds a JSON array of the leading entries whose total fits max
func fitArray(n, max int, entry func(i int) ([]byte, error)) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('[')
	for i := 0; i < n; i++ {
		b, err := entry(i)
		if err != nil {
			return nil, err
		}
		extra := len(b) + 1
		if i > 0 {
			extra++
		}
		if buf.Len()+extra > max {
			break
		}
		if i > 0 {
			buf.WriteByte(',')
		}
		buf.Write(b)
	}
	buf.WriteByte(']')
	return buf.Bytes(), nil
}

func (jsonCodec) DecodeResponse(e Entity, tag byte, in []byte) (Message, error) {
	env := Envelope{Tag: tag}
	in = bytes.TrimSpace(in)
	if len(in) == 0 {
		return nil, &ProtocolError{Entity: e, Tag: tag, Err: ErrTruncated}
	}
	if in[0] == '[' {
		req := &OperationRequest{Envelope: env}
		if e == EntityGateway {
			var list []lorawan.GatewayIdentity
			if err := json.Unmarshal(in, &list); err != nil {
				return nil, err
			}
			return NewGatewayListResponse(req, list), nil
		}
		var list []lorawan.NetworkIdentity
		if err := json.Unmarshal(in, &list); err != nil {
			return nil, err
		}
		return NewIdentityListResponse(req, list), nil
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(in, &fields); err != nil {
		return nil, err
	}
	if _, ok := fields["result"]; ok {
		var r jsonResult
		if err := json.Unmarshal(in, &r); err != nil {
			return nil, err
		}
		if hdr, err := r.envelope(); err == nil {
			env = hdr
		}
		return NewOperationResponse(env, r.Result), nil
	}
	if e == EntityGateway {
		r := &GatewayGetResponse{Envelope: env}
		return r, json.Unmarshal(in, &r.Identity)
	}
	r := &IdentityGetResponse{Envelope: env}
	return r, json.Unmarshal(in, &r.Identity)
}
