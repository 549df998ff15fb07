package codec

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHexToBytes(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    []byte
		wantErr error
	}{
		{name: "plain", in: "00ff10", want: []byte{0x00, 0xff, 0x10}},
		{name: "prefixed", in: "0xABcd", want: []byte{0xab, 0xcd}},
		{name: "empty", in: "", want: []byte{}},
		{name: "odd length", in: "abc", wantErr: ErrMalformedHex},
		{name: "non hex", in: "zz", wantErr: ErrMalformedHex},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := HexToBytes(tc.in)
			if tc.wantErr != nil {
				assert.ErrorIs(t, err, tc.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestBytesToHexRoundTrip(t *testing.T) {
	in := []byte{0xde, 0xad, 0xbe, 0xef}
	out, err := HexToBytes(BytesToHex(in))
	require.NoError(t, err)
	assert.Equal(t, in, out)
	assert.Equal(t, "deadbeef", BytesToHex(in))
}

func TestHash32FromHex(t *testing.T) {
	_, err := Hash32FromHex("00")
	assert.ErrorIs(t, err, ErrLengthMismatch)

	h, err := Hash32FromHex("0x" + "11" + "00000000000000000000000000000000000000000000000000000000000000")
	require.NoError(t, err)
	assert.Equal(t, byte(0x11), h[0])
}

func TestBytesToUint128BE(t *testing.T) {
	b := make([]byte, 16)
	b[15] = 0x01
	b[14] = 0x02
	v, err := BytesToUint128BE(b)
	require.NoError(t, err)
	assert.Equal(t, int64(0x0201), v.Int64())

	all := make([]byte, 16)
	for i := range all {
		all[i] = 0xff
	}
	v, err = BytesToUint128BE(all)
	require.NoError(t, err)
	assert.Equal(t, 0, v.Cmp(MaxUint128))

	_, err = BytesToUint128BE(make([]byte, 15))
	assert.ErrorIs(t, err, ErrLengthMismatch)
	_, err = BytesToUint128BE(make([]byte, 17))
	assert.ErrorIs(t, err, ErrLengthMismatch)
}

func TestUint128ToBytesBE(t *testing.T) {
	v := big.NewInt(1000)
	b, err := Uint128ToBytesBE(v)
	require.NoError(t, err)
	back, err := BytesToUint128BE(b[:])
	require.NoError(t, err)
	assert.Equal(t, 0, back.Cmp(v))

	_, err = Uint128ToBytesBE(new(big.Int).Add(MaxUint128, big.NewInt(1)))
	assert.ErrorIs(t, err, ErrOverflow)
	_, err = Uint128ToBytesBE(big.NewInt(-1))
	assert.ErrorIs(t, err, ErrOverflow)
	_, err = Uint128ToBytesBE(nil)
	assert.ErrorIs(t, err, ErrMalformedInteger)
}

func TestParseUint128(t *testing.T) {
	v, err := ParseUint128("340282366920938463463374607431768211455")
	require.NoError(t, err)
	assert.Equal(t, 0, v.Cmp(MaxUint128))

	v, err = ParseUint128(" 42 ")
	require.NoError(t, err)
	assert.Equal(t, int64(42), v.Int64())

	_, err = ParseUint128("340282366920938463463374607431768211456")
	assert.ErrorIs(t, err, ErrOverflow)

	for _, bad := range []string{"", "-1", "+1", "1.5", "1e18", "0x10", "12 34"} {
		_, err := ParseUint128(bad)
		assert.ErrorIs(t, err, ErrMalformedInteger, "input %q", bad)
	}
}

func TestConcatBytes(t *testing.T) {
	out := ConcatBytes([]byte{0x00}, []byte("ab"), nil, []byte{0x01})
	assert.Equal(t, []byte{0x00, 'a', 'b', 0x01}, out)
	assert.Empty(t, ConcatBytes())
}
