package protocol

// Codec turns buffers into messages and back. Binary is the native wire
// format; JSON is a text rendition sharing the same dispatch.
type Codec interface {
	Name() string
	DecodeRequest(e Entity, in []byte) (Message, error)
	// EncodeResponse returns ErrTooLarge when m does not fit max bytes.
	// List responses are truncated from the tail instead.
	EncodeResponse(e Entity, m Message, max int) ([]byte, error)
	EncodeRequest(e Entity, m Message) ([]byte, error)
	DecodeResponse(e Entity, tag byte, in []byte) (Message, error)
}

// Fitter is implemented by list responses
type Fitter interface {
	Fit(max int) bool
}

// Binary is the length-prefixed binary codec
var Binary Codec = binaryCodec{}

type binaryCodec struct{}

func (binaryCodec) Name() string { return "binary" }

func (binaryCodec) DecodeRequest(e Entity, in []byte) (Message, error) {
	if len(in) < EnvelopeSize {
		return nil, &ProtocolError{Entity: e, Len: len(in), Err: ErrTruncated}
	}
	tag := in[0]
	min := RequestMinSize(e, tag)
	if min == 0 {
		return nil, &ProtocolError{Entity: e, Tag: tag, Len: len(in), Err: ErrUnknownTag}
	}
	if len(in) < min {
		return nil, &ProtocolError{Entity: e, Tag: tag, Len: len(in), Err: ErrTruncated}
	}
	m, err := NewRequest(e, tag)
	if err != nil {
		return nil, &ProtocolError{Entity: e, Tag: tag, Len: len(in), Err: err}
	}
	if m.Decode(in) == 0 {
		return nil, &ProtocolError{Entity: e, Tag: tag, Len: len(in), Err: ErrMalformed}
	}
	return m, nil
}

func (binaryCodec) EncodeResponse(e Entity, m Message, max int) ([]byte, error) {
	if f, ok := m.(Fitter); ok && !f.Fit(max) {
		return nil, ErrTooLarge
	}
	if m.Size() > max {
		return nil, ErrTooLarge
	}
	return Marshal(m), nil
}

func (binaryCodec) EncodeRequest(e Entity, m Message) ([]byte, error) {
	return Marshal(m), nil
}

func (binaryCodec) DecodeResponse(e Entity, tag byte, in []byte) (Message, error) {
	m, err := NewResponse(e, tag, len(in))
	if err != nil {
		return nil, err
	}
	if m.Decode(in) == 0 {
		return nil, &ProtocolError{Entity: e, Tag: tag, Len: len(in), Err: ErrTruncated}
	}
	return m, nil
}
