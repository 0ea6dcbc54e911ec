package utils

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGenerateQRCodeIsUnique(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 1000; i++ {
		code := GenerateQRCode("ord-1", "tt-1", 1)
		assert.False(t, seen[code], "duplicate QR code %s", code)
		seen[code] = true
	}
}

func TestGenerateQRCodeFormat(t *testing.T) {
	code := GenerateQRCode("ord-1", "tt-vip", 3)
	assert.True(t, strings.HasPrefix(code, "TKT-ord-1-tt-vip-3-"))
}

func TestGeneratePaymentRef(t *testing.T) {
	ref := GeneratePaymentRef()
	assert.True(t, strings.HasPrefix(ref, "PAY-"))
	assert.NotEqual(t, ref, GeneratePaymentRef())
}
