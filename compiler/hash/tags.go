package hash

// ---------------------------------------------------------------------------
// Frozen tag bytes for the program hashing format.
//
// IMPORTANT: These tags are FROZEN. Once assigned, a tag byte must never
// change meaning. Adding new tags is fine; changing existing ones breaks
// every stored content hash.
// ---------------------------------------------------------------------------

// HashVersion is the version prefix for the serialization format.
// Bumping this invalidates all existing content hashes.
const HashVersion byte = 1

const (
	TagReservedZero byte = 0x00 // version prefix / reserved

	// Prototypes
	TagProto   byte = 0x01
	TagUpvalue byte = 0x02
	TagCode    byte = 0x03

	// Constant pool entries
	TagNumber byte = 0x10
	TagString byte = 0x11
	TagSymbol byte = 0x12
	TagNested byte = 0x13

	// Reserved 0xFE-0xFF
)

// allTags lists every defined tag for uniqueness verification in tests.
var allTags = []byte{
	TagReservedZero,
	TagProto, TagUpvalue, TagCode,
	TagNumber, TagString, TagSymbol, TagNested,
}
