package hash

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math/big"
)

const (
	// M is the size of the identifier space in bits (2^160)
	M = 160

	// IDLength is the number of bytes in an ID.
	IDLength = M / 8
)

var (
	// ringSize is 2^M, the size of the Chord ring
	ringSize = new(big.Int).Exp(big.NewInt(2), big.NewInt(M), nil)

	one = big.NewInt(1)
)

// ID is a 160-bit identifier on the Chord ring, stored big-endian.
// IDs are values: copying one never aliases another.
type ID [IDLength]byte

// Zero is the smallest ID on the ring.
var Zero ID

// HashKey hashes arbitrary data to a 160-bit identifier using SHA-256.
// The hash is truncated to the first 20 bytes (160 bits).
func HashKey(data []byte) ID {
	sum := sha256.Sum256(data)
	var id ID
	copy(id[:], sum[:IDLength])
	return id
}

// HashString hashes a string to a 160-bit identifier.
func HashString(s string) ID {
	return HashKey([]byte(s))
}

// HashAddress hashes a network address (host:port) to a 160-bit identifier.
// This is used to compute node IDs from their network addresses.
func HashAddress(host string, port int) ID {
	return HashString(fmt.Sprintf("%s:%d", host, port))
}

// FromBigInt converts x mod 2^M into an ID.
func FromBigInt(x *big.Int) ID {
	var id ID
	if x == nil {
		return id
	}
	mod(x).FillBytes(id[:])
	return id
}

// FromUint64 is a convenience for tests and small rings.
func FromUint64(v uint64) ID {
	return FromBigInt(new(big.Int).SetUint64(v))
}

// ParseID decodes a hex string of at most 40 characters. Shorter strings are
// treated as numbers and left-padded.
func ParseID(s string) (ID, error) {
	var id ID
	if len(s) == 0 || len(s) > 2*IDLength {
		return id, fmt.Errorf("invalid id length %d", len(s))
	}
	if len(s)%2 == 1 {
		s = "0" + s
	}
	raw, err := hex.DecodeString(s)
	if err != nil {
		return id, fmt.Errorf("invalid id %q: %w", s, err)
	}
	copy(id[IDLength-len(raw):], raw)
	return id, nil
}

// BigInt returns the ID as a non-negative integer.
func (id ID) BigInt() *big.Int {
	return new(big.Int).SetBytes(id[:])
}

// String returns the full 40 character hex form.
func (id ID) String() string {
	return hex.EncodeToString(id[:])
}

// Short returns the leading 8 hex characters, enough to tell nodes apart in logs.
func (id ID) Short() string {
	return id.String()[:8]
}

// MarshalText implements encoding.TextMarshaler.
func (id ID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (id *ID) UnmarshalText(text []byte) error {
	parsed, err := ParseID(string(text))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// Equals reports whether both IDs denote the same ring position.
func (id ID) Equals(other ID) bool {
	return id == other
}

// Compare orders IDs by their flat integer value, ignoring the ring.
// It returns -1, 0 or +1.
func (id ID) Compare(other ID) int {
	return bytes.Compare(id[:], other[:])
}

// IsInInterval reports whether id lies in (low, high] walking clockwise.
// When low == high the interval is the entire ring, so every ID is inside.
//
// Examples:
//   - 5.IsInInterval(3, 7) = true
//   - 3.IsInInterval(3, 7) = false  (exclusive low)
//   - 7.IsInInterval(3, 7) = true   (inclusive high)
//   - 1.IsInInterval(8, 3) = true   (wraparound)
//   - 3.IsInInterval(3, 3) = true   (full ring)
func (id ID) IsInInterval(low, high ID) bool {
	switch low.Compare(high) {
	case 0:
		return true
	case -1:
		return id.Compare(low) > 0 && id.Compare(high) <= 0
	default:
		return id.Compare(low) > 0 || id.Compare(high) <= 0
	}
}

// Between checks if id is in the range (start, end) on the Chord ring (exclusive on both ends).
// When start == end the range is the entire ring except start.
func Between(id, start, end ID) bool {
	switch start.Compare(end) {
	case 0:
		return id != start
	case -1:
		return id.Compare(start) > 0 && id.Compare(end) < 0
	default:
		return id.Compare(start) > 0 || id.Compare(end) < 0
	}
}

// Distance computes the clockwise distance from start to end on the Chord ring.
// Returns (end - start) mod 2^M.
func Distance(start, end ID) *big.Int {
	return mod(new(big.Int).Sub(end.BigInt(), start.BigInt()))
}

// AddPowerOfTwo computes (id + 2^exponent) mod 2^M.
// This is used to calculate finger table start values.
func (id ID) AddPowerOfTwo(exponent int) ID {
	if exponent < 0 {
		return id
	}
	offset := new(big.Int).Lsh(one, uint(exponent))
	return FromBigInt(new(big.Int).Add(id.BigInt(), offset))
}

// mod returns x mod 2^M, ensuring the result is in [0, 2^M).
func mod(x *big.Int) *big.Int {
	// big.Int.Mod is Euclidean, so the result is never negative
	return new(big.Int).Mod(x, ringSize)
}

// RingSize returns 2^M, the size of the Chord ring.
func RingSize() *big.Int {
	return new(big.Int).Set(ringSize)
}

// MaxID returns the maximum valid ID on the ring (2^M - 1).
func MaxID() ID {
	return FromBigInt(new(big.Int).Sub(ringSize, one))
}
