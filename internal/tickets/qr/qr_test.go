package qr

import (
	"bytes"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderPNG(t *testing.T) {
	data, err := RenderPNG("TKT-ord-1-tt-1-1-1700000000-ABCDEF", 0)
	require.NoError(t, err)

	img, err := png.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, DefaultSize, img.Bounds().Dx())
	assert.Equal(t, DefaultSize, img.Bounds().Dy())
}

func TestRenderPNGCustomSize(t *testing.T) {
	data, err := RenderPNG("TKT-test", 512)
	require.NoError(t, err)

	img, err := png.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, 512, img.Bounds().Dx())
}

func TestRenderPNGRejectsEmptyPayload(t *testing.T) {
	_, err := RenderPNG("", 0)
	assert.Error(t, err)
}
