package packet

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	cases := []Packet{
		{Kind: KindData, Seq: 1, Ack: 0, Payload: []byte("hello")},
		{Kind: KindACK, Seq: 0, Ack: 7, Payload: nil},
		{Kind: KindSYN, Seq: 12345, Ack: 0, Payload: []byte{}},
		{Kind: KindFINACK, Seq: 0xFFFFFFFF, Ack: 0xFFFFFFFF, Payload: []byte{0x00}},
	}

	for _, want := range cases {
		frame := Encode(want)
		got, err := Decode(frame)
		require.NoError(t, err)
		assert.Equal(t, want.Kind, got.Kind)
		assert.Equal(t, want.Seq, got.Seq)
		assert.Equal(t, want.Ack, got.Ack)
		assert.Equal(t, len(want.Payload), len(got.Payload))
		// The wire cannot tell a nil payload from an empty one, so the
		// bytes are compared rather than the slice headers.
		assert.Equal(t, string(want.Payload), string(got.Payload))
	}
}

func TestDecodeDetectsBitFlip(t *testing.T) {
	frame := Encode(Packet{Kind: KindData, Seq: 42, Ack: 1, Payload: []byte("m0")})

	for byteIdx := range frame {
		for bit := 0; bit < 8; bit++ {
			corrupted := make([]byte, len(frame))
			copy(corrupted, frame)
			corrupted[byteIdx] ^= 1 << bit

			_, err := Decode(corrupted)
			assert.Error(t, err, "byte %d bit %d should be detected as corruption", byteIdx, bit)
		}
	}
}

func TestDecodeRejectsShortFrame(t *testing.T) {
	_, err := Decode([]byte{0x00, 0x01, 0x02})
	require.Error(t, err)
}

func TestDecodeRejectsPayloadLengthMismatch(t *testing.T) {
	frame := Encode(Packet{Kind: KindData, Seq: 1, Payload: []byte("abc")})
	// Truncate the payload without updating payload_len: checksum will
	// also now fail, but length mismatch must be caught regardless.
	truncated := frame[:len(frame)-1]
	_, err := Decode(truncated)
	require.Error(t, err)
}

func TestHasFlag(t *testing.T) {
	p := Packet{Flags: FlagDup}
	assert.True(t, p.HasFlag(FlagDup))
	assert.False(t, Packet{}.HasFlag(FlagDup))
}
