package imagegen

import (
	"bytes"
	"image"
	"testing"
)

func TestOptimizeReferenceKeepsSmallImage(t *testing.T) {
	src := jpegBytes(t, 100, 50)
	got := OptimizeReference(src)
	if !bytes.Equal(got, src) {
		t.Fatal("small in-limit image should pass through unchanged")
	}
}

func TestOptimizeReferenceDownscalesOversized(t *testing.T) {
	src := pngBytes(t, 3000, 600)
	got := OptimizeReference(src)

	img, _, err := image.Decode(bytes.NewReader(got))
	if err != nil {
		t.Fatalf("decode optimized image: %v", err)
	}
	w, h := img.Bounds().Dx(), img.Bounds().Dy()
	if w != maxRefDimension {
		t.Fatalf("width = %d, want %d", w, maxRefDimension)
	}
	// 3000x600 scaled to 2048 wide keeps the 5:1 ratio.
	if h < 405 || h > 415 {
		t.Fatalf("height = %d, aspect ratio not preserved", h)
	}
}

func TestOptimizeReferenceTallImage(t *testing.T) {
	src := pngBytes(t, 500, 2500)
	got := OptimizeReference(src)

	img, _, err := image.Decode(bytes.NewReader(got))
	if err != nil {
		t.Fatalf("decode optimized image: %v", err)
	}
	if img.Bounds().Dy() != maxRefDimension {
		t.Fatalf("height = %d, want %d", img.Bounds().Dy(), maxRefDimension)
	}
}

func TestOptimizeReferenceCorruptDataPassesThrough(t *testing.T) {
	src := []byte("definitely not an image")
	if got := OptimizeReference(src); !bytes.Equal(got, src) {
		t.Fatal("corrupt input should return the original bytes")
	}
}
