// Package imageprep readies a photo for upload: it checks the format,
// reads EXIF capture metadata, downscales oversized images and re-encodes
// anything that would otherwise leak GPS coordinates.
package imageprep

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/evanoberholster/imagemeta"
	"github.com/rs/zerolog/log"
	"golang.org/x/image/draw"
)

// DefaultMaxDimension is the longest edge, in pixels, sent to the backend.
const DefaultMaxDimension = 1600

// MaxFileSize rejects files that are clearly not phone photos.
const MaxFileSize = 25 * 1024 * 1024

const jpegQuality = 85

// SupportedExtensions lists the accepted image extensions.
var SupportedExtensions = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
}

// Image is a prepared upload.
type Image struct {
	Filename    string
	ContentType string
	Data        []byte

	Width, Height         int
	OrigWidth, OrigHeight int
	Resized               bool
	// Reencoded is true when Data is not the original file bytes.
	Reencoded bool

	// Capture metadata read before re-encoding. Never uploaded.
	CapturedAt  time.Time
	HasGPS      bool
	CameraModel string
}

// IsSupported reports whether the path has an accepted image extension.
func IsSupported(path string) bool {
	_, ok := SupportedExtensions[strings.ToLower(filepath.Ext(path))]
	return ok
}

// Prepare reads the image at path and returns upload-ready bytes.
// maxDim <= 0 uses DefaultMaxDimension.
func Prepare(path string, maxDim int) (*Image, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to access image: %w", err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%s is a directory", path)
	}
	if info.Size() > MaxFileSize {
		return nil, fmt.Errorf("image is too large (%d bytes, max %d)", info.Size(), MaxFileSize)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read image: %w", err)
	}
	return PrepareBytes(filepath.Base(path), data, maxDim)
}

// PrepareBytes is Prepare for an image already in memory.
func PrepareBytes(filename string, data []byte, maxDim int) (*Image, error) {
	if maxDim <= 0 {
		maxDim = DefaultMaxDimension
	}
	ext := strings.ToLower(filepath.Ext(filename))
	contentType, ok := SupportedExtensions[ext]
	if !ok {
		return nil, fmt.Errorf("unsupported image format %q (use JPEG or PNG)", ext)
	}

	out := &Image{Filename: filename, ContentType: contentType, Data: data}
	readMetadata(out, data)

	var img image.Image
	var err error
	switch contentType {
	case "image/jpeg":
		img, err = jpeg.Decode(bytes.NewReader(data))
	default:
		img, err = png.Decode(bytes.NewReader(data))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}

	bounds := img.Bounds()
	out.OrigWidth, out.OrigHeight = bounds.Dx(), bounds.Dy()
	out.Width, out.Height = scaledDimensions(out.OrigWidth, out.OrigHeight, maxDim)
	out.Resized = out.Width != out.OrigWidth || out.Height != out.OrigHeight

	if !out.Resized && !out.HasGPS {
		log.Debug().
			Str("file", filename).
			Int("width", out.Width).
			Int("height", out.Height).
			Msg("Image within limits, uploading original")
		return out, nil
	}

	src := img
	if out.Resized {
		dst := image.NewRGBA(image.Rect(0, 0, out.Width, out.Height))
		draw.CatmullRom.Scale(dst, dst.Bounds(), img, bounds, draw.Over, nil)
		src = dst
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, src, &jpeg.Options{Quality: jpegQuality}); err != nil {
		return nil, fmt.Errorf("failed to encode image: %w", err)
	}
	out.Data = buf.Bytes()
	out.ContentType = "image/jpeg"
	out.Filename = strings.TrimSuffix(filename, filepath.Ext(filename)) + ".jpg"
	out.Reencoded = true

	log.Debug().
		Str("file", filename).
		Int("orig_width", out.OrigWidth).
		Int("orig_height", out.OrigHeight).
		Int("new_width", out.Width).
		Int("new_height", out.Height).
		Bool("stripped_gps", out.HasGPS).
		Int("output_size", buf.Len()).
		Msg("Image prepared for upload")

	return out, nil
}

// readMetadata fills capture fields from EXIF. Missing or unreadable EXIF
// is normal for screenshots and PNGs and is not an error.
func readMetadata(out *Image, data []byte) {
	exifData, err := imagemeta.Decode(bytes.NewReader(data))
	if err != nil {
		log.Debug().Err(err).Str("file", out.Filename).Msg("No EXIF metadata")
		return
	}

	gps := exifData.GPS
	out.HasGPS = gps.Latitude() != 0 || gps.Longitude() != 0

	// DateTimeOriginal > CreateDate > ModifyDate
	switch {
	case !exifData.DateTimeOriginal().IsZero():
		out.CapturedAt = exifData.DateTimeOriginal()
	case !exifData.CreateDate().IsZero():
		out.CapturedAt = exifData.CreateDate()
	case !exifData.ModifyDate().IsZero():
		out.CapturedAt = exifData.ModifyDate()
	}
	out.CameraModel = strings.TrimSpace(strings.TrimSpace(exifData.Make) + " " + strings.TrimSpace(exifData.Model))
}

// scaledDimensions fits width x height within maxDim, keeping aspect ratio.
func scaledDimensions(width, height, maxDim int) (int, int) {
	if width <= maxDim && height <= maxDim {
		return width, height
	}
	if width > height {
		h := int(float64(height) * float64(maxDim) / float64(width))
		return maxDim, max(h, 1)
	}
	w := int(float64(width) * float64(maxDim) / float64(height))
	return max(w, 1), maxDim
}
