package server

import (
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// ErrWorkerStopped is returned for requests made after the server stopped.
var ErrWorkerStopped = errors.New("heap worker stopped")

// CodecName is the codec's content subtype: Connect requests use
// application/cbor, gRPC requests application/grpc+cbor.
const CodecName = "cbor"

var wireEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("server: failed to create CBOR enc mode: %v", err))
	}
	wireEncMode = em
}

// Codec encodes messages as canonical CBOR. It serves as both a Connect
// codec and a gRPC codec, so the services need no generated code.
type Codec struct{}

// Name returns the content subtype.
func (Codec) Name() string { return CodecName }

// Marshal encodes v.
func (Codec) Marshal(v any) ([]byte, error) {
	return wireEncMode.Marshal(v)
}

// Unmarshal decodes data into v. Empty data leaves v at its zero value.
func (Codec) Unmarshal(data []byte, v any) error {
	if len(data) == 0 {
		return nil
	}
	return cbor.Unmarshal(data, v)
}
