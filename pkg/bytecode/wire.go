package bytecode

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// wireMagic identifies serialized Kurt programs.
const wireMagic = "KRTB"

// MaxProtoNesting is the deepest prototype nesting the decoder accepts. It
// matches the compiler's function nesting limit.
const MaxProtoNesting = 64

// Each nested prototype costs three CBOR levels (constant array, constant,
// proto) and the innermost line table four more.
const maxNestedLevels = 3*MaxProtoNesting + 32

// cborEncMode uses canonical options for deterministic encoding, so equal
// programs always serialize to equal bytes.
var cborEncMode cbor.EncMode

var cborDecMode cbor.DecMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("bytecode: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em

	dm, err := cbor.DecOptions{MaxNestedLevels: maxNestedLevels}.DecMode()
	if err != nil {
		panic(fmt.Sprintf("bytecode: failed to create CBOR dec mode: %v", err))
	}
	cborDecMode = dm
}

type envelope struct {
	Magic   string   `cbor:"1,keyasint"`
	Version uint16   `cbor:"2,keyasint"`
	Program *Program `cbor:"3,keyasint"`
}

// Marshal serializes a Program to CBOR bytes.
func Marshal(prog *Program) ([]byte, error) {
	data, err := cborEncMode.Marshal(envelope{Magic: wireMagic, Version: FormatVersion, Program: prog})
	if err != nil {
		return nil, fmt.Errorf("bytecode: marshal program: %w", err)
	}
	return data, nil
}

// Unmarshal deserializes and validates a Program from CBOR bytes.
func Unmarshal(data []byte) (*Program, error) {
	var env envelope
	if err := cborDecMode.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("bytecode: unmarshal program: %w", err)
	}
	if env.Magic != wireMagic {
		return nil, fmt.Errorf("bytecode: not a compiled program (magic %q)", env.Magic)
	}
	if env.Version != FormatVersion {
		return nil, fmt.Errorf("bytecode: unsupported format version %d (want %d)", env.Version, FormatVersion)
	}
	if err := env.Program.Validate(); err != nil {
		return nil, err
	}
	return env.Program, nil
}
