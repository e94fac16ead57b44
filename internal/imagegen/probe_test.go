package imagegen

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"testing"
)

// pngBytes encodes a solid-color PNG of the given size for test fixtures.
func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: 200, G: 30, B: 30, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

func jpegBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 85}); err != nil {
		t.Fatalf("encode jpeg: %v", err)
	}
	return buf.Bytes()
}

func TestSniffFormat(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		want string
	}{
		{"jpeg", []byte{0xFF, 0xD8, 0xFF, 0xE0, 0x00}, FormatJPEG},
		{"png", append([]byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A}, 0x00), FormatPNG},
		{"gif87a", []byte("GIF87a...."), FormatGIF},
		{"gif89a", []byte("GIF89a...."), FormatGIF},
		{"webp", []byte("RIFF\x00\x00\x00\x00WEBPVP8 "), FormatWEBP},
		{"riff but not webp", []byte("RIFF\x00\x00\x00\x00WAVEfmt "), ""},
		{"junk", []byte("hello world"), ""},
		{"empty", nil, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SniffFormat(tt.data); got != tt.want {
				t.Fatalf("SniffFormat = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestValidImageSmallPayloadMustDecode(t *testing.T) {
	// A small payload that decodes is accepted.
	small := pngBytes(t, 2, 2)
	if len(small) >= smallPayloadThreshold {
		t.Fatalf("fixture too large: %d bytes", len(small))
	}
	if !ValidImage(small) {
		t.Fatal("small decodable png rejected")
	}

	// A small payload with a forged signature but no decodable body is not.
	junk := append([]byte{0xFF, 0xD8, 0xFF}, bytes.Repeat([]byte{0x01}, 400)...)
	if ValidImage(junk) {
		t.Fatal("small junk with jpeg magic accepted")
	}
}

func TestValidImageLargePayloadPassesOnSignature(t *testing.T) {
	data := append([]byte{0xFF, 0xD8, 0xFF}, bytes.Repeat([]byte{0x02}, 4096)...)
	if !ValidImage(data) {
		t.Fatal("large payload with jpeg signature rejected")
	}
}

func TestValidImageRejectsJunk(t *testing.T) {
	if ValidImage(bytes.Repeat([]byte("x"), 500)) {
		t.Fatal("500-byte junk accepted")
	}
	if ValidImage(bytes.Repeat([]byte("x"), 5000)) {
		t.Fatal("large junk accepted")
	}
	if ValidImage(nil) {
		t.Fatal("empty payload accepted")
	}
}
