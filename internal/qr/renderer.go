package qr

import (
	"github.com/pkg/errors"
	"github.com/skip2/go-qrcode"
)

// DefaultSize is the edge length in pixels of rendered codes
const DefaultSize = 250

// Renderer encodes reservation tokens as PNG QR codes
type Renderer struct {
	size  int
	level qrcode.RecoveryLevel
}

func NewRenderer(size int) *Renderer {
	if size <= 0 {
		size = DefaultSize
	}
	return &Renderer{size: size, level: qrcode.Medium}
}

// Render returns the PNG bytes of a QR code holding token
func (r *Renderer) Render(token string) ([]byte, error) {
	if token == "" {
		return nil, errors.New("empty token")
	}
	png, err := qrcode.Encode(token, r.level, r.size)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to encode QR code for %s", token)
	}
	return png, nil
}
