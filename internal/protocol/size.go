package protocol

import (
	"github.com/commandus/lorawan-storage-sub000/pkg/lorawan"
)

var identityMinSize = map[byte]int{
	TagGetAddr:        addrRequestSize,
	TagGetEUI:         euiRequestSize,
	TagAssign:         assignRequestMinSize,
	TagRemove:         addrRequestSize,
	TagList:           OperationRequestSize,
	TagCount:          OperationRequestSize,
	TagForceSave:      OperationRequestSize,
	TagCloseResources: OperationRequestSize,
}

var gatewayMinSize = map[byte]int{
	TagGatewayGetID:          gatewayRequestMinSize,
	TagGatewayGetAddr:        gatewayAddrRequestMinSize,
	TagGatewayAssign:         gatewayAddrRequestMinSize,
	TagGatewayRemove:         gatewayRequestMinSize,
	TagGatewayList:           OperationRequestSize,
	TagGatewayCount:          OperationRequestSize,
	TagGatewayForceSave:      OperationRequestSize,
	TagGatewayCloseResources: OperationRequestSize,
}

// RequestMinSize returns the smallest valid request for tag, 0 for unknown tags
func RequestMinSize(e Entity, tag byte) int {
	switch e {
	case EntityIdentity:
		return identityMinSize[tag]
	case EntityGateway:
		return gatewayMinSize[tag]
	}
	return 0
}

// IsGetTag reports whether tag answers with a get response
func IsGetTag(e Entity, tag byte) bool {
	if e == EntityGateway {
		return tag == TagGatewayGetID || tag == TagGatewayGetAddr
	}
	return tag == TagGetAddr || tag == TagGetEUI
}

// IsListTag reports whether tag answers with a list response
func IsListTag(e Entity, tag byte) bool {
	if e == EntityGateway {
		return tag == TagGatewayList
	}
	return tag == TagList
}

// MaxResponseSize returns the largest response a request may produce.
// count is the requested list size and is ignored for other tags.
func MaxResponseSize(e Entity, tag byte, count uint8) int {
	if RequestMinSize(e, tag) == 0 {
		return 0
	}
	switch {
	case IsGetTag(e, tag):
		if e == EntityGateway {
			return GatewayGetResponseMaxSize
		}
		return IdentityGetResponseSize
	case IsListTag(e, tag):
		if e == EntityGateway {
			return OperationResponseSize + int(count)*gatewayListEntryMaxSize
		}
		return OperationResponseSize + int(count)*lorawan.NetworkIdentitySize
	}
	return OperationResponseSize
}

// NewRequest returns an empty request of the type carried by tag
func NewRequest(e Entity, tag byte) (Message, error) {
	if e == EntityGateway {
		switch tag {
		case TagGatewayGetID, TagGatewayGetAddr, TagGatewayAssign, TagGatewayRemove:
			return &GatewayRequest{}, nil
		case TagGatewayList, TagGatewayCount, TagGatewayForceSave, TagGatewayCloseResources:
			return &OperationRequest{}, nil
		}
		return nil, ErrUnknownTag
	}
	switch tag {
	case TagGetAddr:
		return &AddrRequest{}, nil
	case TagGetEUI:
		return &EUIRequest{}, nil
	case TagAssign:
		return &AssignRequest{}, nil
	case TagRemove:
		return &RemoveRequest{}, nil
	case TagList, TagCount, TagForceSave, TagCloseResources:
		return &OperationRequest{}, nil
	}
	return nil, ErrUnknownTag
}

// NewResponse returns an empty response matching a request tag and the
// received length. A get answered with an operation-sized buffer is an error
// response.
func NewResponse(e Entity, tag byte, n int) (Message, error) {
	if RequestMinSize(e, tag) == 0 {
		return nil, ErrUnknownTag
	}
	switch {
	case IsGetTag(e, tag):
		if n <= OperationResponseSize {
			return &OperationResponse{}, nil
		}
		if e == EntityGateway {
			return &GatewayGetResponse{}, nil
		}
		return &IdentityGetResponse{}, nil
	case IsListTag(e, tag):
		if e == EntityGateway {
			return &GatewayListResponse{}, nil
		}
		return &IdentityListResponse{}, nil
	}
	return &OperationResponse{}, nil
}
