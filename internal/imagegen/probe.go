package imagegen

import (
	"bytes"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"github.com/kolesa-team/go-webp/decoder"
	"github.com/kolesa-team/go-webp/webp"
)

const smallPayloadThreshold = 1024

// Image format names as returned by SniffFormat.
const (
	FormatJPEG = "jpeg"
	FormatPNG  = "png"
	FormatGIF  = "gif"
	FormatWEBP = "webp"
)

var jpegMagic = []byte{0xFF, 0xD8, 0xFF}
var pngMagic = []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A}

// SniffFormat identifies an image payload by its magic bytes. It returns ""
// for unrecognized payloads.
func SniffFormat(data []byte) string {
	switch {
	case bytes.HasPrefix(data, jpegMagic):
		return FormatJPEG
	case bytes.HasPrefix(data, pngMagic):
		return FormatPNG
	case bytes.HasPrefix(data, []byte("GIF87a")), bytes.HasPrefix(data, []byte("GIF89a")):
		return FormatGIF
	case bytes.HasPrefix(data, []byte("RIFF")) && len(data) >= 12 && bytes.Equal(data[8:12], []byte("WEBP")):
		return FormatWEBP
	}
	return ""
}

// ContentTypeFor maps a sniffed format to its MIME type. Unknown payloads
// fall back to JPEG, matching how results are stored.
func ContentTypeFor(format string) string {
	switch format {
	case FormatPNG:
		return "image/png"
	case FormatGIF:
		return "image/gif"
	case FormatWEBP:
		return "image/webp"
	default:
		return "image/jpeg"
	}
}

// ExtensionFor maps a sniffed format to a file extension.
func ExtensionFor(format string) string {
	switch format {
	case FormatPNG:
		return ".png"
	case FormatGIF:
		return ".gif"
	case FormatWEBP:
		return ".webp"
	default:
		return ".jpg"
	}
}

// DecodeProbe reports whether the payload decodes as an image.
func DecodeProbe(data []byte) bool {
	if len(data) == 0 {
		return false
	}
	if SniffFormat(data) == FormatWEBP {
		_, err := webp.Decode(bytes.NewReader(data), &decoder.Options{})
		return err == nil
	}
	_, _, err := image.Decode(bytes.NewReader(data))
	return err == nil
}

// ValidImage reports whether a candidate result payload may be persisted.
// Payloads under 1 KB are suspicious (usually a truncated download or an
// error body) and must pass the decode probe; larger payloads pass on a
// recognized signature or a successful decode.
func ValidImage(data []byte) bool {
	if len(data) == 0 {
		return false
	}
	if len(data) < smallPayloadThreshold {
		return DecodeProbe(data)
	}
	if SniffFormat(data) != "" {
		return true
	}
	return DecodeProbe(data)
}
