// Package qrcode renders payload strings as PNG images.
package qrcode

import (
	"bytes"
	"errors"
	"fmt"
	"image/png"
	"io"

	"github.com/boombuler/barcode"
	"github.com/boombuler/barcode/qr"
)

const (
	DefaultSize = 512
	MinSize     = 64
	MaxSize     = 2048
)

var ErrEmptyContent = errors.New("qr content is empty")

// ClampSize maps a requested edge length onto [MinSize, MaxSize]. Zero or
// negative means DefaultSize.
func ClampSize(size int) int {
	switch {
	case size <= 0:
		return DefaultSize
	case size < MinSize:
		return MinSize
	case size > MaxSize:
		return MaxSize
	default:
		return size
	}
}

// Encode writes content as a square PNG of size pixels using error
// correction level M.
func Encode(w io.Writer, content string, size int) error {
	if content == "" {
		return ErrEmptyContent
	}
	code, err := qr.Encode(content, qr.M, qr.Auto)
	if err != nil {
		return fmt.Errorf("encode qr: %w", err)
	}
	size = ClampSize(size)
	if size < code.Bounds().Dx() {
		size = code.Bounds().Dx()
	}
	scaled, err := barcode.Scale(code, size, size)
	if err != nil {
		return fmt.Errorf("scale qr: %w", err)
	}
	if err := png.Encode(w, scaled); err != nil {
		return fmt.Errorf("write png: %w", err)
	}
	return nil
}

func PNG(content string, size int) ([]byte, error) {
	var buf bytes.Buffer
	if err := Encode(&buf, content, size); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
