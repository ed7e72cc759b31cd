package qrimage

import (
	"bytes"
	"encoding/base64"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBase64PNGDecodesToImage(t *testing.T) {
	encoded, err := New().Base64PNG("dG9rZW4tdmFsdWUtZm9yLXRlc3RpbmctcXItaW1hZ2Vz")
	require.NoError(t, err)

	raw, err := base64.StdEncoding.DecodeString(encoded)
	require.NoError(t, err)
	img, err := png.Decode(bytes.NewReader(raw))
	require.NoError(t, err)
	assert.Equal(t, defaultSize, img.Bounds().Dx())
}

func TestEmptyContentRejected(t *testing.T) {
	_, err := New().PNG("  ")
	assert.ErrorIs(t, err, ErrEmptyContent)
}
