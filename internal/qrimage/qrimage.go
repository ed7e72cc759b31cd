package qrimage

import (
	"encoding/base64"
	"errors"
	"strings"

	qrcode "github.com/skip2/go-qrcode"
	"go.uber.org/fx"
)

const defaultSize = 256

var Module = fx.Module("qrimage",
	fx.Provide(New),
)

var ErrEmptyContent = errors.New("qr_content_empty")

// Renderer draws scan-session tokens as PNG QR codes.
type Renderer struct {
	size  int
	level qrcode.RecoveryLevel
}

func New() *Renderer {
	return &Renderer{size: defaultSize, level: qrcode.Medium}
}

func (r *Renderer) PNG(content string) ([]byte, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, ErrEmptyContent
	}
	return qrcode.Encode(content, r.level, r.size)
}

// Base64PNG returns the PNG standard-base64 encoded for JSON payloads.
func (r *Renderer) Base64PNG(content string) (string, error) {
	png, err := r.PNG(content)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(png), nil
}
