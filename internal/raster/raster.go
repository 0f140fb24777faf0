package raster

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/gif"  // Register GIF decoder
	_ "image/jpeg" // Register JPEG decoder
	"image/png"
	"strings"

	"github.com/gen2brain/go-fitz"
	"github.com/gen2brain/heic"
)

// ErrEmpty is returned when there are no raster bytes to decode
var ErrEmpty = errors.New("empty raster")

var pngMagic = []byte("\x89PNG\r\n\x1a\n")

// encoder uses fixed settings so identical images encode to identical bytes
var encoder = png.Encoder{CompressionLevel: png.DefaultCompression}

// Decode turns raster bytes into an image. PNG, JPEG, GIF, HEIC/HEIF and the
// first page of a PDF are understood.
func Decode(data []byte, mimeType string) (image.Image, error) {
	if len(data) == 0 {
		return nil, ErrEmpty
	}
	mimeType = strings.ToLower(strings.TrimSpace(mimeType))

	switch {
	case isPDF(data) || mimeType == "application/pdf":
		return decodePDF(data)
	case isHEICFormat(data) || isHEICMimeType(mimeType):
		img, err := heic.Decode(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("decoding HEIC/HEIF image: %w", err)
		}
		return img, nil
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		if errors.Is(err, image.ErrFormat) {
			return nil, fmt.Errorf("unsupported image format. Supported formats: JPEG, PNG, GIF, HEIC, HEIF, PDF. Error: %w", err)
		}
		return nil, fmt.Errorf("decoding image: %w", err)
	}
	return img, nil
}

// EncodePNG encodes img as PNG
func EncodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := encoder.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encoding PNG: %w", err)
	}
	return buf.Bytes(), nil
}

// Normalize returns data as PNG along with its pixel size. PNG input that
// decodes cleanly is returned unchanged.
func Normalize(data []byte, mimeType string) ([]byte, image.Point, error) {
	if IsPNG(data) {
		cfg, err := png.DecodeConfig(bytes.NewReader(data))
		if err != nil {
			return nil, image.Point{}, fmt.Errorf("reading PNG header: %w", err)
		}
		return data, image.Pt(cfg.Width, cfg.Height), nil
	}

	img, err := Decode(data, mimeType)
	if err != nil {
		return nil, image.Point{}, err
	}
	out, err := EncodePNG(img)
	if err != nil {
		return nil, image.Point{}, err
	}
	return out, img.Bounds().Size(), nil
}

// IsPNG checks for the PNG signature
func IsPNG(data []byte) bool {
	return bytes.HasPrefix(data, pngMagic)
}

func isPDF(data []byte) bool {
	return bytes.HasPrefix(data, []byte("%PDF-"))
}

// decodePDF renders the first page
func decodePDF(data []byte) (image.Image, error) {
	doc, err := fitz.NewFromMemory(data)
	if err != nil {
		return nil, fmt.Errorf("opening PDF: %w", err)
	}
	defer doc.Close()

	img, err := doc.Image(0)
	if err != nil {
		return nil, fmt.Errorf("rendering PDF page: %w", err)
	}
	return img, nil
}

// isHEICFormat looks for an ftyp box with a HEIC-family brand
func isHEICFormat(data []byte) bool {
	if len(data) < 12 || string(data[4:8]) != "ftyp" {
		return false
	}
	switch string(data[8:12]) {
	case "heic", "heix", "heif", "mif1", "msf1":
		return true
	}
	return false
}

func isHEICMimeType(mimeType string) bool {
	return strings.Contains(mimeType, "heic") || strings.Contains(mimeType, "heif")
}
