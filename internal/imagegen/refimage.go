package imagegen

import (
	"bytes"
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"
	"image/png"

	"github.com/kolesa-team/go-webp/decoder"
	"github.com/kolesa-team/go-webp/encoder"
	"github.com/kolesa-team/go-webp/webp"
	xdraw "golang.org/x/image/draw"
)

// Provider limits for reference images.
const (
	maxRefDimension = 2048
	maxRefBytes     = 5 * 1024 * 1024

	qualityStart = 85
	qualityStep  = 5
	qualityFloor = 50
)

// OptimizeReference downsizes and recompresses a reference image to fit the
// provider's limits. The original is stored elsewhere untouched; only the
// copy sent to the provider is optimized. Any optimization failure returns
// the original bytes unchanged.
func OptimizeReference(data []byte) []byte {
	out, err := optimizeReference(data)
	if err != nil {
		return data
	}
	return out
}

func optimizeReference(data []byte) ([]byte, error) {
	format := SniffFormat(data)
	img, err := decodeImage(data, format)
	if err != nil {
		return nil, err
	}

	bounds := img.Bounds()
	needsResize := bounds.Dx() > maxRefDimension || bounds.Dy() > maxRefDimension
	if !needsResize && len(data) <= maxRefBytes {
		return data, nil
	}
	if needsResize {
		img = downscale(img, maxRefDimension)
	}

	switch format {
	case FormatPNG:
		var buf bytes.Buffer
		if err := png.Encode(&buf, img); err != nil {
			return nil, err
		}
		if buf.Len() <= maxRefBytes {
			return buf.Bytes(), nil
		}
		// Oversized PNG: flatten any transparency onto white and fall back
		// to JPEG.
		return encodeJPEGUnder(flattenOnWhite(img), maxRefBytes)
	case FormatWEBP:
		return encodeWEBPUnder(img, maxRefBytes)
	default:
		return encodeJPEGUnder(flattenOnWhite(img), maxRefBytes)
	}
}

func decodeImage(data []byte, format string) (image.Image, error) {
	if format == FormatWEBP {
		return webp.Decode(bytes.NewReader(data), &decoder.Options{})
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	return img, err
}

// downscale scales img so its longer side equals maxDim, preserving aspect
// ratio.
func downscale(img image.Image, maxDim int) image.Image {
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	var newW, newH int
	if w > h {
		newW = maxDim
		newH = h * maxDim / w
	} else {
		newH = maxDim
		newW = w * maxDim / h
	}
	if newW < 1 {
		newW = 1
	}
	if newH < 1 {
		newH = 1
	}
	dst := image.NewRGBA(image.Rect(0, 0, newW, newH))
	xdraw.CatmullRom.Scale(dst, dst.Bounds(), img, bounds, xdraw.Over, nil)
	return dst
}

func flattenOnWhite(img image.Image) image.Image {
	bounds := img.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
	draw.Draw(dst, dst.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)
	draw.Draw(dst, dst.Bounds(), img, bounds.Min, draw.Over)
	return dst
}

func encodeJPEGUnder(img image.Image, maxBytes int) ([]byte, error) {
	for quality := qualityStart; ; quality -= qualityStep {
		var buf bytes.Buffer
		if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
			return nil, err
		}
		if buf.Len() <= maxBytes || quality-qualityStep < qualityFloor {
			return buf.Bytes(), nil
		}
	}
}

func encodeWEBPUnder(img image.Image, maxBytes int) ([]byte, error) {
	for quality := qualityStart; ; quality -= qualityStep {
		opts, err := encoder.NewLossyEncoderOptions(encoder.PresetDefault, float32(quality))
		if err != nil {
			return nil, err
		}
		var buf bytes.Buffer
		if err := webp.Encode(&buf, img, opts); err != nil {
			return nil, err
		}
		if buf.Len() <= maxBytes || quality-qualityStep < qualityFloor {
			return buf.Bytes(), nil
		}
	}
}
