package qr

import (
	"encoding/base64"
	"fmt"
	"image/color"

	qrcode "github.com/skip2/go-qrcode"
)

// Renderer draws a transport string as a PNG QR code.
type Renderer struct {
	Level      qrcode.RecoveryLevel
	Size       int
	Foreground color.Color
	Background color.Color
	NoBorder   bool
}

// DefaultRenderer matches the printed labels: medium error correction,
// 256 px, dark green modules on white.
func DefaultRenderer() *Renderer {
	return &Renderer{
		Level:      qrcode.Medium,
		Size:       256,
		Foreground: color.RGBA{R: 0x2d, G: 0x50, B: 0x16, A: 0xff},
		Background: color.White,
	}
}

// PNG encodes content as a PNG image.
func (r *Renderer) PNG(content string) ([]byte, error) {
	code, err := qrcode.New(content, r.Level)
	if err != nil {
		return nil, fmt.Errorf("failed to build qr code: %w", err)
	}
	if r.Foreground != nil {
		code.ForegroundColor = r.Foreground
	}
	if r.Background != nil {
		code.BackgroundColor = r.Background
	}
	code.DisableBorder = r.NoBorder

	png, err := code.PNG(r.Size)
	if err != nil {
		return nil, fmt.Errorf("failed to render qr code: %w", err)
	}
	return png, nil
}

// DataURL wraps PNG bytes in a data: URL.
func DataURL(png []byte) string {
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(png)
}
