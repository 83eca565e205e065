package hash

import (
	"encoding/json"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashKey(t *testing.T) {
	tests := []struct {
		name  string
		data  []byte
		check func(*testing.T, ID)
	}{
		{
			name: "deterministic",
			data: []byte("test"),
			check: func(t *testing.T, id ID) {
				assert.Equal(t, id, HashKey([]byte("test")), "same input should produce same hash")
			},
		},
		{
			name: "different inputs produce different hashes",
			data: []byte("test1"),
			check: func(t *testing.T, id ID) {
				assert.NotEqual(t, id, HashKey([]byte("test2")))
			},
		},
		{
			name: "fits the ring",
			data: []byte("test"),
			check: func(t *testing.T, id ID) {
				assert.True(t, id.BigInt().Cmp(RingSize()) < 0)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.check(t, HashKey(tt.data))
		})
	}
}

func TestHashStringAndAddress(t *testing.T) {
	assert.Equal(t, HashKey([]byte("hello")), HashString("hello"))
	assert.Equal(t, HashString("127.0.0.1:8440"), HashAddress("127.0.0.1", 8440))
	assert.NotEqual(t, HashAddress("127.0.0.1", 8440), HashAddress("127.0.0.1", 8441))
}

func TestParseID(t *testing.T) {
	t.Run("round trip", func(t *testing.T) {
		id := HashString("round-trip")
		parsed, err := ParseID(id.String())
		require.NoError(t, err)
		assert.Equal(t, id, parsed)
	})

	t.Run("short value is left padded", func(t *testing.T) {
		id, err := ParseID("ff")
		require.NoError(t, err)
		assert.Equal(t, FromUint64(255), id)

		id, err = ParseID("abc")
		require.NoError(t, err)
		assert.Equal(t, FromUint64(0xabc), id)
	})

	t.Run("invalid", func(t *testing.T) {
		_, err := ParseID("")
		assert.Error(t, err)
		_, err = ParseID("zz")
		assert.Error(t, err)
		_, err = ParseID(HashString("x").String() + "00")
		assert.Error(t, err)
	})
}

func TestID_JSON(t *testing.T) {
	type wrapper struct {
		ID ID `json:"id"`
	}
	in := wrapper{ID: HashString("json")}
	data, err := json.Marshal(in)
	require.NoError(t, err)
	assert.Contains(t, string(data), in.ID.String())

	var out wrapper
	require.NoError(t, json.Unmarshal(data, &out))
	assert.Equal(t, in, out)
}

func TestID_Compare(t *testing.T) {
	assert.Equal(t, -1, FromUint64(1).Compare(FromUint64(2)))
	assert.Equal(t, 0, FromUint64(2).Compare(FromUint64(2)))
	assert.Equal(t, 1, MaxID().Compare(Zero))
	assert.True(t, FromUint64(7).Equals(FromUint64(7)))
	assert.False(t, FromUint64(7).Equals(FromUint64(8)))
}

func TestIsInInterval(t *testing.T) {
	tests := []struct {
		name     string
		id       uint64
		low      uint64
		high     uint64
		expected bool
	}{
		{name: "id in normal range", id: 5, low: 3, high: 7, expected: true},
		{name: "id equals low (exclusive)", id: 3, low: 3, high: 7, expected: false},
		{name: "id equals high (inclusive)", id: 7, low: 3, high: 7, expected: true},
		{name: "id outside range", id: 10, low: 3, high: 7, expected: false},
		{name: "wraparound - id after low", id: 9, low: 8, high: 3, expected: true},
		{name: "wraparound - id before high", id: 1, low: 8, high: 3, expected: true},
		{name: "wraparound - id at high", id: 3, low: 8, high: 3, expected: true},
		{name: "wraparound - id at low", id: 8, low: 8, high: 3, expected: false},
		{name: "wraparound - id not in range", id: 5, low: 8, high: 3, expected: false},
		{name: "low equals high - other id", id: 5, low: 3, high: 3, expected: true},
		{name: "low equals high - same id", id: 3, low: 3, high: 3, expected: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := FromUint64(tt.id).IsInInterval(FromUint64(tt.low), FromUint64(tt.high))
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestIsInInterval_WholeRingAndMaxID(t *testing.T) {
	for _, x := range []ID{Zero, MaxID(), HashString("a"), HashString("b")} {
		for _, a := range []ID{Zero, MaxID(), HashString("c")} {
			assert.True(t, x.IsInInterval(a, a), "every id is inside (a, a]")
		}
	}

	// (max, 0] contains only 0
	assert.True(t, Zero.IsInInterval(MaxID(), Zero))
	assert.False(t, MaxID().IsInInterval(MaxID(), Zero))
	assert.False(t, FromUint64(1).IsInInterval(MaxID(), Zero))
}

func TestIsInInterval_AgreesWithDistance(t *testing.T) {
	// x in (a, b] iff 0 < d(a, x) <= d(a, b)
	ids := []ID{Zero, FromUint64(1), FromUint64(42), HashString("p"), HashString("q"), HashString("r"), MaxID()}
	for _, a := range ids {
		for _, b := range ids {
			if a == b {
				continue
			}
			for _, x := range ids {
				dx := Distance(a, x)
				db := Distance(a, b)
				want := dx.Sign() > 0 && dx.Cmp(db) <= 0
				assert.Equal(t, want, x.IsInInterval(a, b), "x=%s a=%s b=%s", x.Short(), a.Short(), b.Short())
			}
		}
	}
}

func TestBetween(t *testing.T) {
	tests := []struct {
		name     string
		id       uint64
		start    uint64
		end      uint64
		expected bool
	}{
		{name: "inside", id: 5, start: 3, end: 7, expected: true},
		{name: "at start", id: 3, start: 3, end: 7, expected: false},
		{name: "at end", id: 7, start: 3, end: 7, expected: false},
		{name: "wraparound", id: 1, start: 8, end: 3, expected: true},
		{name: "wraparound at end", id: 3, start: 8, end: 3, expected: false},
		{name: "start equals end", id: 5, start: 3, end: 3, expected: true},
		{name: "start equals end at start", id: 3, start: 3, end: 3, expected: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Between(FromUint64(tt.id), FromUint64(tt.start), FromUint64(tt.end)))
		})
	}
}

func TestDistance(t *testing.T) {
	assert.Equal(t, big.NewInt(4), Distance(FromUint64(3), FromUint64(7)))
	assert.Equal(t, int64(0), Distance(FromUint64(3), FromUint64(3)).Int64())

	// wrapping: from max to 1 is two steps
	assert.Equal(t, big.NewInt(2), Distance(MaxID(), FromUint64(1)))
}

func TestAddPowerOfTwo(t *testing.T) {
	assert.Equal(t, FromUint64(9), FromUint64(8).AddPowerOfTwo(0))
	assert.Equal(t, FromUint64(8+1024), FromUint64(8).AddPowerOfTwo(10))
	assert.Equal(t, Zero, MaxID().AddPowerOfTwo(0), "wraps around the ring")
	assert.Equal(t, FromUint64(5), FromUint64(5).AddPowerOfTwo(M), "2^M is a full turn")
}

func TestFromBigInt(t *testing.T) {
	assert.Equal(t, Zero, FromBigInt(nil))
	assert.Equal(t, FromUint64(1), FromBigInt(new(big.Int).Add(RingSize(), big.NewInt(1))))
	assert.Equal(t, MaxID(), FromBigInt(big.NewInt(-1)))
}
