package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDecodeLossyUTF8(t *testing.T) {
	assert.Equal(t, "plain text", decodeLossyUTF8([]byte("plain text")))
	assert.Equal(t, "héllo", decodeLossyUTF8([]byte("héllo")))

	// Invalid byte sequences are dropped rather than failing
	mixed := append([]byte("ok"), 0xff, 0xfe)
	mixed = append(mixed, []byte("done")...)
	assert.Equal(t, "okdone", decodeLossyUTF8(mixed))
}
