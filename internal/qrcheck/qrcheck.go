// Package qrcheck decides whether fetched QR bytes are a real raster image.
// The file signature decides: an error page can be served with an image
// content type, and a real PNG can arrive with a generic one.
package qrcheck

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"mime"
	"strings"
)

// MinDimension is the smallest acceptable width and height in pixels
const MinDimension = 200

var (
	ErrNotImage     = errors.New("content type is not an image")
	ErrBadSignature = errors.New("bytes are not a PNG or JPEG file")
	ErrUndersized   = errors.New("image is smaller than the minimum QR size")
)

var (
	pngSignature  = []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A}
	jpegSignature = []byte{0xFF, 0xD8, 0xFF}
)

// Format is the raster format detected from the leading bytes
type Format string

const (
	FormatPNG  Format = "png"
	FormatJPEG Format = "jpeg"
)

// Image is a validated QR image
type Image struct {
	Data        []byte
	ContentType string
	Format      Format
	Width       int
	Height      int
}

// Sniff reports the raster format from the file signature alone
func Sniff(data []byte) (Format, bool) {
	switch {
	case bytes.HasPrefix(data, pngSignature):
		return FormatPNG, true
	case bytes.HasPrefix(data, jpegSignature):
		return FormatJPEG, true
	}
	return "", false
}

// IsImageType reports whether a Content-Type header names an image type
func IsImageType(contentType string) bool {
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return strings.HasPrefix(mt, "image/")
}

// Validate accepts data with a PNG or JPEG signature whatever its declared
// content type, then applies the dimension guard. Data without a signature
// is rejected even when the content type claims an image. minDim <= 0 uses
// MinDimension.
func Validate(data []byte, contentType string, minDim int) (*Image, error) {
	if minDim <= 0 {
		minDim = MinDimension
	}
	format, ok := Sniff(data)
	if !ok {
		if !IsImageType(contentType) {
			return nil, fmt.Errorf("%w: %q", ErrNotImage, contentType)
		}
		return nil, ErrBadSignature
	}
	if !IsImageType(contentType) {
		// served to the page, so name the type the bytes actually are
		contentType = "image/" + string(format)
	}

	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadSignature, err)
	}
	if err := CheckDimensions(cfg.Width, cfg.Height, minDim); err != nil {
		return nil, err
	}

	return &Image{
		Data:        data,
		ContentType: contentType,
		Format:      format,
		Width:       cfg.Width,
		Height:      cfg.Height,
	}, nil
}

// CheckDimensions guards against placeholder images smaller than minDim
// in either axis.
func CheckDimensions(width, height, minDim int) error {
	if minDim <= 0 {
		minDim = MinDimension
	}
	if width < minDim || height < minDim {
		return fmt.Errorf("%w: %dx%d < %dx%d", ErrUndersized, width, height, minDim, minDim)
	}
	return nil
}
