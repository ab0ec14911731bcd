package protocol

import (
	"github.com/commandus/lorawan-storage-sub000/pkg/lorawan"
)

// Gateway service tags
const (
	TagGatewayGetID          byte = 'a'
	TagGatewayGetAddr        byte = 'A'
	TagGatewayAssign         byte = 'p'
	TagGatewayRemove         byte = 'r'
	TagGatewayList           byte = 'L'
	TagGatewayCount          byte = 'c'
	TagGatewayForceSave      byte = 'f'
	TagGatewayCloseResources byte = 'd'
)

const (
	gatewayRequestMinSize     = EnvelopeSize + lorawan.GatewayIdentityMinSize
	gatewayAddrRequestMinSize = gatewayRequestMinSize + 7
	GatewayGetResponseMinSize = getResponseHeaderSize + lorawan.GatewayIdentityMinSize
	GatewayGetResponseMaxSize = getResponseHeaderSize + lorawan.GatewayIdentityMaxSize
	gatewayListEntryMaxSize   = lorawan.GatewayIdentityMaxSize
)

// GatewayRequest carries a gateway identity; used by get, get by address,
// assign and remove.
type GatewayRequest struct {
	Envelope
	Identity lorawan.GatewayIdentity
}

func (r *GatewayRequest) Size() int { return EnvelopeSize + r.Identity.Size() }

func (r *GatewayRequest) Encode(b []byte) int {
	if len(b) < r.Size() {
		return 0
	}
	r.encode(b)
	return EnvelopeSize + r.Identity.Encode(b[EnvelopeSize:])
}

func (r *GatewayRequest) Decode(b []byte) int {
	*r = GatewayRequest{}
	if len(b) < gatewayRequestMinSize {
		return 0
	}
	r.decode(b)
	n := r.Identity.Decode(b[EnvelopeSize:])
	// 按地址查询和分配必须带有效地址
	if (r.Tag == TagGatewayGetAddr || r.Tag == TagGatewayAssign) && !r.Identity.Addr.IsValid() {
		*r = GatewayRequest{}
		return 0
	}
	return EnvelopeSize + n
}

// GatewayGetResponse carries a status and, on success, the gateway
type GatewayGetResponse struct {
	Envelope
	Status   Status
	Identity lorawan.GatewayIdentity
}

func (r *GatewayGetResponse) Size() int { return getResponseHeaderSize + r.Identity.Size() }

func (r *GatewayGetResponse) Encode(b []byte) int {
	if len(b) < r.Size() {
		return 0
	}
	r.encode(b)
	byteOrder.PutUint32(b[13:17], uint32(r.Status))
	return getResponseHeaderSize + r.Identity.Encode(b[getResponseHeaderSize:])
}

func (r *GatewayGetResponse) Decode(b []byte) int {
	*r = GatewayGetResponse{}
	if len(b) < GatewayGetResponseMinSize {
		return 0
	}
	r.decode(b)
	r.Status = Status(int32(byteOrder.Uint32(b[13:17])))
	return getResponseHeaderSize + r.Identity.Decode(b[getResponseHeaderSize:])
}

// GatewayListResponse is an operation response followed by Response gateways
type GatewayListResponse struct {
	OperationResponse
	Gateways []lorawan.GatewayIdentity
}

// NewGatewayListResponse echoes req and sets the count to len(list)
func NewGatewayListResponse(req *OperationRequest, list []lorawan.GatewayIdentity) *GatewayListResponse {
	r := &GatewayListResponse{Gateways: list}
	r.OperationRequest = *req
	r.Response = int32(len(list))
	return r
}

func (r *GatewayListResponse) Size() int {
	size := OperationResponseSize
	for i := range r.Gateways {
		size += r.Gateways[i].Size()
	}
	return size
}

func (r *GatewayListResponse) Encode(b []byte) int {
	if len(b) < r.Size() {
		return 0
	}
	off := r.OperationResponse.Encode(b)
	for i := range r.Gateways {
		off += r.Gateways[i].Encode(b[off:])
	}
	return off
}

// Decode reads at most Response entries, stopping early when the buffer runs out
func (r *GatewayListResponse) Decode(b []byte) int {
	*r = GatewayListResponse{}
	off := r.OperationResponse.Decode(b)
	if off == 0 {
		return 0
	}
	for i := int32(0); i < r.Response; i++ {
		var g lorawan.GatewayIdentity
		c := g.Decode(b[off:])
		if c == 0 {
			break
		}
		r.Gateways = append(r.Gateways, g)
		off += c
	}
	return off
}

// Fit drops trailing entries until the encoded size is at most max.
// It reports false when not even the empty list fits.
func (r *GatewayListResponse) Fit(max int) bool {
	if max < OperationResponseSize {
		return false
	}
	size := OperationResponseSize
	for i := range r.Gateways {
		size += r.Gateways[i].Size()
		if size > max {
			r.Gateways = r.Gateways[:i]
			break
		}
	}
	if r.Response >= 0 {
		r.Response = int32(len(r.Gateways))
	}
	return true
}
