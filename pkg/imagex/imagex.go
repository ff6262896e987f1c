// Package imagex provides small image-payload utilities used across the project.
package imagex

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"golang.org/x/image/webp"
)

// Supported formats (short names).
const (
	FormatJPEG = "jpeg"
	FormatPNG  = "png"
	FormatWebP = "webp"
)

// Dimension bounds accepted by the recognition pipeline.
const (
	MinDim = 10
	MaxDim = 4096
)

// Info describes a validated image payload.
type Info struct {
	Format string
	Width  int
	Height int
}

var (
	ErrEmpty             = errors.New("image data is empty")
	ErrBadBase64         = errors.New("invalid base64 encoding")
	ErrUnsupportedFormat = errors.New("image is not JPEG, PNG, or WebP")
)

// DecodeBase64 strips an optional data-URL prefix ("data:image/...;base64,")
// and strictly decodes the payload.
func DecodeBase64(s string) ([]byte, error) {
	if s == "" {
		return nil, ErrEmpty
	}
	if i := strings.IndexByte(s, ','); i >= 0 {
		s = s[i+1:]
	}
	data, err := base64.StdEncoding.Strict().DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadBase64, err)
	}
	if len(data) == 0 {
		return nil, ErrEmpty
	}
	return data, nil
}

// Sniff identifies the payload by magic bytes and returns its short format
// name. Anything outside the supported set is rejected.
func Sniff(data []byte) (string, error) {
	mt := mimetype.Detect(data)
	switch {
	case mt.Is("image/jpeg"):
		return FormatJPEG, nil
	case mt.Is("image/png"):
		return FormatPNG, nil
	case mt.Is("image/webp"):
		return FormatWebP, nil
	default:
		return "", ErrUnsupportedFormat
	}
}

// Dimensions reads the image header and returns width and height without
// decoding pixel data. The stdlib registry covers JPEG and PNG; WebP needs
// its own config decoder.
func Dimensions(data []byte, format string) (int, int, error) {
	if format == FormatWebP {
		cfg, err := webp.DecodeConfig(bytes.NewReader(data))
		if err != nil {
			return 0, 0, fmt.Errorf("decode webp header: %w", err)
		}
		return cfg.Width, cfg.Height, nil
	}
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return 0, 0, fmt.Errorf("decode %s header: %w", format, err)
	}
	return cfg.Width, cfg.Height, nil
}

// Inspect sniffs raw bytes and reads their header dimensions.
func Inspect(data []byte) (Info, error) {
	format, err := Sniff(data)
	if err != nil {
		return Info{}, err
	}
	w, h, err := Dimensions(data, format)
	if err != nil {
		return Info{}, err
	}
	return Info{Format: format, Width: w, Height: h}, nil
}

// Validate runs the full payload pipeline: base64 decode, magic-byte sniff,
// header decode, dimension range check. It returns the raw bytes and the
// image info on success.
func Validate(b64 string) ([]byte, Info, error) {
	data, err := DecodeBase64(b64)
	if err != nil {
		return nil, Info{}, err
	}
	format, err := Sniff(data)
	if err != nil {
		return nil, Info{}, err
	}
	w, h, err := Dimensions(data, format)
	if err != nil {
		return nil, Info{}, err
	}
	if w < MinDim || h < MinDim {
		return nil, Info{}, fmt.Errorf("image dimensions too small (minimum %dx%d pixels)", MinDim, MinDim)
	}
	if w > MaxDim || h > MaxDim {
		return nil, Info{}, fmt.Errorf("image dimensions too large (maximum %dx%d pixels)", MaxDim, MaxDim)
	}
	return data, Info{Format: format, Width: w, Height: h}, nil
}
