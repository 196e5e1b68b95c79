package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestUintRoundTrip(t *testing.T) {
	assert.Equal(t, uint64(0xDEADBEEFCAFE), BytesToUint64(Uint64ToBytes(0xDEADBEEFCAFE)))
	assert.Equal(t, uint32(65536), BytesToUint32(Uint32ToBytes(65536)))
	assert.Equal(t, []byte{0, 0, 1, 0}, Uint32ToBytes(256))
}

func TestCeilDiv(t *testing.T) {
	const bs = 64 * 1024
	cases := map[int64]int64{
		0:          0,
		1:          1,
		bs - 1:     1,
		bs:         1,
		bs + 1:     2,
		3 * bs:     3,
		3*bs + 100: 4,
	}
	for n, want := range cases {
		assert.Equal(t, want, CeilDiv(n, bs), "n=%d", n)
	}
}

func TestRandString(t *testing.T) {
	assert.Len(t, []rune(RandString(17)), 17)
	assert.Len(t, RandBytes(33), 33)
}
