package delivery

import (
	"fmt"

	qrcode "github.com/skip2/go-qrcode"
)

// CodeSize is the edge length in pixels of a rendered entry code.
const CodeSize = 512

// RenderCode encodes a token as a PNG QR code.
func RenderCode(token string) ([]byte, error) {
	if token == "" {
		return nil, fmt.Errorf("render code: empty token")
	}
	png, err := qrcode.Encode(token, qrcode.Medium, CodeSize)
	if err != nil {
		return nil, fmt.Errorf("render code: %w", err)
	}
	return png, nil
}
