// Package media normalizes catalog images to a fixed frame.
package media

import (
	"bytes"
	"fmt"
	"image"
	"image/color"

	"github.com/disintegration/imaging"
)

// An image is portrait, and cropped to fill its frame, when its
// height/width ratio exceeds portraitNum/portraitDen (1.15).
const (
	portraitNum = 115
	portraitDen = 100
)

const jpegQuality = 82

// Fit is how an image is placed into its frame
type Fit string

const (
	Cover   Fit = "cover"
	Contain Fit = "contain"
)

// FitFor picks cover for portrait images and contain for everything else.
// The ratio is compared in integers so exactly 1.15 stays contain.
func FitFor(width, height int) Fit {
	if width > 0 && portraitDen*height > portraitNum*width {
		return Cover
	}
	return Contain
}

// Background fills the letterbox bars of contained images
var Background = color.NRGBA{R: 0x1c, G: 0x1c, B: 0x1e, A: 0xff}

// Normalize places src into a w×h frame. Portrait images are cropped around
// the center; others are scaled to fit and letterboxed.
func Normalize(src image.Image, w, h int) image.Image {
	b := src.Bounds()
	if FitFor(b.Dx(), b.Dy()) == Cover {
		return imaging.Fill(src, w, h, imaging.Center, imaging.Lanczos)
	}
	fitted := imaging.Fit(src, w, h, imaging.Lanczos)
	return imaging.PasteCenter(imaging.New(w, h, Background), fitted)
}

// Transform decodes data, normalizes it and re-encodes it as JPEG
func Transform(data []byte, w, h int) ([]byte, error) {
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, Normalize(img, w, h), imaging.JPEG, imaging.JPEGQuality(jpegQuality)); err != nil {
		return nil, fmt.Errorf("failed to encode image: %w", err)
	}
	return buf.Bytes(), nil
}
