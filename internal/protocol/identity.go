package protocol

import (
	"github.com/commandus/lorawan-storage-sub000/pkg/lorawan"
)

// Identity service tags
const (
	TagGetAddr        byte = 'a'
	TagGetEUI         byte = 'i'
	TagAssign         byte = 'p'
	TagRemove         byte = 'r'
	TagList           byte = 'l'
	TagCount          byte = 'c'
	TagForceSave      byte = 's'
	TagCloseResources byte = 'e'
)

const (
	identityTailSize        = lorawan.DeviceIdentitySize - lorawan.EUI64Size
	addrRequestSize         = EnvelopeSize + lorawan.DevAddrSize
	euiRequestSize          = EnvelopeSize + lorawan.EUI64Size
	assignRequestMinSize    = EnvelopeSize + lorawan.EUI64Size + lorawan.DevAddrSize
	assignRequestSize       = assignRequestMinSize + identityTailSize
	IdentityGetResponseSize = getResponseHeaderSize + lorawan.NetworkIdentitySize
)

// AddrRequest asks for the identity bound to an address
type AddrRequest struct {
	Envelope
	Addr lorawan.DevAddr
}

func (r *AddrRequest) Size() int { return addrRequestSize }

func (r *AddrRequest) Encode(b []byte) int {
	if len(b) < addrRequestSize {
		return 0
	}
	r.encode(b)
	copy(b[13:17], r.Addr[:])
	return addrRequestSize
}

func (r *AddrRequest) Decode(b []byte) int {
	*r = AddrRequest{}
	if len(b) < addrRequestSize {
		return 0
	}
	r.decode(b)
	copy(r.Addr[:], b[13:17])
	return addrRequestSize
}

// EUIRequest asks for the identity of a device EUI
type EUIRequest struct {
	Envelope
	EUI lorawan.EUI64
}

func (r *EUIRequest) Size() int { return euiRequestSize }

func (r *EUIRequest) Encode(b []byte) int {
	if len(b) < euiRequestSize {
		return 0
	}
	r.encode(b)
	copy(b[13:21], r.EUI[:])
	return euiRequestSize
}

func (r *EUIRequest) Decode(b []byte) int {
	*r = EUIRequest{}
	if len(b) < euiRequestSize {
		return 0
	}
	r.decode(b)
	copy(r.EUI[:], b[13:21])
	return euiRequestSize
}

// AssignRequest binds an identity to an address. The short form carries
// only the EUI and the address.
type AssignRequest struct {
	Envelope
	Identity lorawan.NetworkIdentity
}

func (r *AssignRequest) hasTail() bool {
	tail := r.Identity.DeviceIdentity
	tail.DevEUI = lorawan.EUI64{}
	return tail != lorawan.DeviceIdentity{}
}

func (r *AssignRequest) Size() int {
	if r.hasTail() {
		return assignRequestSize
	}
	return assignRequestMinSize
}

func (r *AssignRequest) Encode(b []byte) int {
	size := r.Size()
	if len(b) < size {
		return 0
	}
	r.encode(b)
	copy(b[13:21], r.Identity.DevEUI[:])
	copy(b[21:25], r.Identity.DevAddr[:])
	if size == assignRequestSize {
		var d [lorawan.DeviceIdentitySize]byte
		r.Identity.DeviceIdentity.Encode(d[:])
		copy(b[25:], d[lorawan.EUI64Size:])
	}
	return size
}

func (r *AssignRequest) Decode(b []byte) int {
	*r = AssignRequest{}
	if len(b) < assignRequestMinSize {
		return 0
	}
	r.decode(b)
	if len(b) >= assignRequestSize {
		var d [lorawan.DeviceIdentitySize]byte
		copy(d[lorawan.EUI64Size:], b[25:assignRequestSize])
		r.Identity.DeviceIdentity.Decode(d[:])
	}
	copy(r.Identity.DevEUI[:], b[13:21])
	copy(r.Identity.DevAddr[:], b[21:25])
	if len(b) >= assignRequestSize {
		return assignRequestSize
	}
	return assignRequestMinSize
}

// RemoveRequest removes by address, or by EUI when the address is zero
type RemoveRequest struct {
	Envelope
	EUI  lorawan.EUI64
	Addr lorawan.DevAddr
}

func (r *RemoveRequest) Size() int {
	if r.EUI.IsZero() {
		return addrRequestSize
	}
	return assignRequestMinSize
}

func (r *RemoveRequest) Encode(b []byte) int {
	size := r.Size()
	if len(b) < size {
		return 0
	}
	r.encode(b)
	if size == addrRequestSize {
		copy(b[13:17], r.Addr[:])
		return size
	}
	copy(b[13:21], r.EUI[:])
	copy(b[21:25], r.Addr[:])
	return size
}

func (r *RemoveRequest) Decode(b []byte) int {
	*r = RemoveRequest{}
	switch {
	case len(b) >= assignRequestMinSize:
		r.decode(b)
		copy(r.EUI[:], b[13:21])
		copy(r.Addr[:], b[21:25])
		return assignRequestMinSize
	case len(b) >= addrRequestSize:
		r.decode(b)
		copy(r.Addr[:], b[13:17])
		return addrRequestSize
	}
	return 0
}

// Target returns the identity to pass to the storage layer
func (r *RemoveRequest) Target() lorawan.NetworkIdentity {
	var n lorawan.NetworkIdentity
	n.DevAddr = r.Addr
	n.DevEUI = r.EUI
	return n
}

// IdentityGetResponse carries a status and, on success, the identity
type IdentityGetResponse struct {
	Envelope
	Status   Status
	Identity lorawan.NetworkIdentity
}

func (r *IdentityGetResponse) Size() int { return IdentityGetResponseSize }

func (r *IdentityGetResponse) Encode(b []byte) int {
	if len(b) < IdentityGetResponseSize {
		return 0
	}
	r.encode(b)
	byteOrder.PutUint32(b[13:17], uint32(r.Status))
	r.Identity.Encode(b[17:])
	return IdentityGetResponseSize
}

func (r *IdentityGetResponse) Decode(b []byte) int {
	*r = IdentityGetResponse{}
	if len(b) < IdentityGetResponseSize {
		return 0
	}
	r.decode(b)
	r.Status = Status(int32(byteOrder.Uint32(b[13:17])))
	r.Identity.Decode(b[17:])
	return IdentityGetResponseSize
}

// IdentityListResponse is an operation response followed by Response identities
type IdentityListResponse struct {
	OperationResponse
	Identities []lorawan.NetworkIdentity
}

// NewIdentityListResponse echoes req and sets the count to len(list)
func NewIdentityListResponse(req *OperationRequest, list []lorawan.NetworkIdentity) *IdentityListResponse {
	r := &IdentityListResponse{Identities: list}
	r.OperationRequest = *req
	r.Response = int32(len(list))
	return r
}

func (r *IdentityListResponse) Size() int {
	return OperationResponseSize + len(r.Identities)*lorawan.NetworkIdentitySize
}

func (r *IdentityListResponse) Encode(b []byte) int {
	if len(b) < r.Size() {
		return 0
	}
	off := r.OperationResponse.Encode(b)
	for i := range r.Identities {
		off += r.Identities[i].Encode(b[off:])
	}
	return off
}

// Decode reads at most Response entries, stopping early when the buffer runs out
func (r *IdentityListResponse) Decode(b []byte) int {
	*r = IdentityListResponse{}
	off := r.OperationResponse.Decode(b)
	if off == 0 {
		return 0
	}
	for i := int32(0); i < r.Response; i++ {
		var n lorawan.NetworkIdentity
		c := n.Decode(b[off:])
		if c == 0 {
			break
		}
		r.Identities = append(r.Identities, n)
		off += c
	}
	return off
}

// Fit drops trailing entries until the encoded size is at most max.
// It reports false when not even the empty list fits.
func (r *IdentityListResponse) Fit(max int) bool {
	if max < OperationResponseSize {
		return false
	}
	if n := (max - OperationResponseSize) / lorawan.NetworkIdentitySize; n < len(r.Identities) {
		r.Identities = r.Identities[:n]
	}
	if r.Response >= 0 {
		r.Response = int32(len(r.Identities))
	}
	return true
}
