package masking

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMaskSecret(t *testing.T) {
	assert.Equal(t, "", MaskSecret("  "))
	assert.Equal(t, "****", MaskSecret("short"))
	assert.Equal(t, "****wxyz", MaskSecret("abcdefghijklmnopqrstuvwxyz"))
}

func TestMaskMetadataOnlySensitiveKeys(t *testing.T) {
	masked := MaskMetadata(map[string]any{
		"mode":  "redemption",
		"token": "Zm9vYmFyYmF6cXV4cXV1eGNvcmdlZ3JhdWx0Z2FycGx5",
		"nested": map[string]any{
			"qr_token": 12345,
			"points":   6,
		},
		" ": "dropped",
	})

	assert.Equal(t, "redemption", masked["mode"])
	assert.Equal(t, "****cGx5", masked["token"])
	nested := masked["nested"].(map[string]any)
	assert.Equal(t, "****", nested["qr_token"])
	assert.Equal(t, 6, nested["points"])
	assert.NotContains(t, masked, " ")
	assert.Nil(t, MaskMetadata(nil))
}
