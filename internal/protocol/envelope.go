package protocol

import (
	"errors"
	"fmt"
	"strings"

	"github.com/commandus/lorawan-storage-sub000/pkg/lorawan"
)

var byteOrder = lorawan.ByteOrder

const (
	EnvelopeSize          = 13
	OperationRequestSize  = EnvelopeSize + 4 + 1
	OperationResponseSize = OperationRequestSize + 4
	getResponseHeaderSize = EnvelopeSize + 4
)

var (
	ErrTruncated   = errors.New("message truncated")
	ErrUnknownTag  = errors.New("unknown tag")
	ErrTooLarge    = errors.New("response does not fit")
	ErrMalformed   = errors.New("malformed message")
	ErrUnknownType = errors.New("unknown message type")
)

// ProtocolError describes why an incoming buffer was rejected
type ProtocolError struct {
	Entity Entity
	Tag    byte
	Len    int
	Err    error
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("%s request %q (%d bytes): %v", e.Entity, e.Tag, e.Len, e.Err)
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// Entity selects the identity or the gateway service
type Entity byte

const (
	EntityIdentity Entity = iota
	EntityGateway
)

func (e Entity) String() string {
	switch e {
	case EntityIdentity:
		return "identity"
	case EntityGateway:
		return "gateway"
	}
	return fmt.Sprintf("entity(%d)", byte(e))
}

// ParseEntity accepts "identity" or "gateway"
func ParseEntity(s string) (Entity, error) {
	switch strings.ToLower(s) {
	case "identity", "device", "":
		return EntityIdentity, nil
	case "gateway":
		return EntityGateway, nil
	}
	return 0, fmt.Errorf("unknown service %q", s)
}

// Envelope is the common message header
type Envelope struct {
	Tag        byte
	Code       int32
	AccessCode uint64
}

// Header gives access to the envelope of any message embedding it
func (e *Envelope) Header() *Envelope { return e }

func (e *Envelope) encode(b []byte) int {
	if len(b) < EnvelopeSize {
		return 0
	}
	b[0] = e.Tag
	byteOrder.PutUint32(b[1:5], uint32(e.Code))
	byteOrder.PutUint64(b[5:13], e.AccessCode)
	return EnvelopeSize
}

func (e *Envelope) decode(b []byte) int {
	*e = Envelope{}
	if len(b) < EnvelopeSize {
		return 0
	}
	e.Tag = b[0]
	e.Code = int32(byteOrder.Uint32(b[1:5]))
	e.AccessCode = byteOrder.Uint64(b[5:13])
	return EnvelopeSize
}

// Size returns the encoded envelope size
func (e *Envelope) Size() int { return EnvelopeSize }

// Encode writes the envelope alone
func (e *Envelope) Encode(b []byte) int { return e.encode(b) }

// Decode reads the envelope alone
func (e *Envelope) Decode(b []byte) int { return e.decode(b) }

// Message is implemented by every request and response
type Message interface {
	Header() *Envelope
	Size() int
	Encode(b []byte) int
	Decode(b []byte) int
}

// Marshal encodes m into a new buffer
func Marshal(m Message) []byte {
	b := make([]byte, m.Size())
	n := m.Encode(b)
	return b[:n]
}

// OperationRequest carries a paging window; list uses both fields,
// count, force save and close send them as zero.
type OperationRequest struct {
	Envelope
	Offset uint32
	Count  uint8
}

func (r *OperationRequest) Size() int { return OperationRequestSize }

func (r *OperationRequest) Encode(b []byte) int {
	if len(b) < OperationRequestSize {
		return 0
	}
	r.encode(b)
	byteOrder.PutUint32(b[13:17], r.Offset)
	b[17] = r.Count
	return OperationRequestSize
}

func (r *OperationRequest) Decode(b []byte) int {
	*r = OperationRequest{}
	if len(b) < OperationRequestSize {
		return 0
	}
	r.decode(b)
	r.Offset = byteOrder.Uint32(b[13:17])
	r.Count = b[17]
	return OperationRequestSize
}

// OperationResponse echoes the request and adds a result or a negative status
type OperationResponse struct {
	OperationRequest
	Response int32
}

// NewOperationResponse builds a response echoing the request envelope
func NewOperationResponse(env Envelope, response int32) *OperationResponse {
	return &OperationResponse{OperationRequest: OperationRequest{Envelope: env}, Response: response}
}

func (r *OperationResponse) Size() int { return OperationResponseSize }

func (r *OperationResponse) Encode(b []byte) int {
	if len(b) < OperationResponseSize {
		return 0
	}
	r.OperationRequest.Encode(b)
	byteOrder.PutUint32(b[18:22], uint32(r.Response))
	return OperationResponseSize
}

func (r *OperationResponse) Decode(b []byte) int {
	*r = OperationResponse{}
	if len(b) < OperationResponseSize {
		return 0
	}
	r.OperationRequest.Decode(b)
	r.Response = int32(byteOrder.Uint32(b[18:22]))
	return OperationResponseSize
}

// Status returns the response as a status, StatusOK for non-negative results
func (r *OperationResponse) Status() Status {
	if r.Response >= 0 {
		return StatusOK
	}
	return Status(r.Response)
}
