// Package image sanitizes submitted photos. Proposal images arrive from
// arbitrary phones; before they are stored or shown they are re-encoded,
// stripped of EXIF (submitters' GPS tracks especially), and resized into the
// tile and portrait derivatives the map and detail views use.
package image

import (
	"bytes"
	"fmt"
	"io"

	"github.com/h2non/bimg"
)

// Derivative size limits in pixels.
const (
	TileMaxWidth     = 1024
	PortraitMaxWidth = 512
)

// ProcessorConfig holds configuration for image processing.
type ProcessorConfig struct {
	// Quality for JPEG/WebP encoding (1-100, default: 85)
	Quality int
	// OutputFormat specifies the output format (jpeg, webp, png)
	OutputFormat string
	// StripMetadata removes all EXIF/metadata (default: true)
	StripMetadata bool
	// MaxWidth limits image width (0 = no limit)
	MaxWidth int
	// MaxHeight limits image height (0 = no limit)
	MaxHeight int
}

// DefaultConfig returns the settings used for stored proposal photos.
func DefaultConfig() ProcessorConfig {
	return ProcessorConfig{
		Quality:       85,
		OutputFormat:  "jpeg",
		StripMetadata: true,
		MaxWidth:      0,
		MaxHeight:     0,
	}
}

// TileConfig returns the settings for the map tile derivative.
func TileConfig() ProcessorConfig {
	cfg := DefaultConfig()
	cfg.MaxWidth = TileMaxWidth
	return cfg
}

// PortraitConfig returns the settings for the detail-view portrait
// derivative.
func PortraitConfig() ProcessorConfig {
	cfg := DefaultConfig()
	cfg.MaxWidth = PortraitMaxWidth
	return cfg
}

// Process sanitizes an image with the default settings: metadata stripped,
// orientation corrected, re-encoded as JPEG.
func Process(r io.Reader) ([]byte, error) {
	return ProcessWithConfig(r, DefaultConfig())
}

// ProcessBytes is a convenience wrapper for processing image bytes directly.
func ProcessBytes(inputBytes []byte) ([]byte, error) {
	return ProcessWithConfig(bytes.NewReader(inputBytes), DefaultConfig())
}

// ProcessWithConfig processes an image with custom configuration.
func ProcessWithConfig(r io.Reader, config ProcessorConfig) ([]byte, error) {
	inputBytes, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read input image: %w", err)
	}

	// Validate that we have a valid image
	img := bimg.NewImage(inputBytes)
	metadata, err := img.Metadata()
	if err != nil {
		return nil, fmt.Errorf("failed to read image metadata: %w", err)
	}

	options := bimg.Options{
		Quality:       config.Quality,
		StripMetadata: config.StripMetadata,
		// Auto-orient from the EXIF orientation tag before stripping, so
		// images display correctly after EXIF removal.
		Rotate: bimg.Angle(0),
	}

	switch config.OutputFormat {
	case "jpeg", "jpg":
		options.Type = bimg.JPEG
	case "webp":
		options.Type = bimg.WEBP
	case "png":
		options.Type = bimg.PNG
	default:
		// Keep original format if not specified
		options.Type = determineImageType(metadata.Type)
	}

	// Apply size constraints while maintaining aspect ratio.
	if config.MaxWidth > 0 && metadata.Size.Width > config.MaxWidth {
		options.Width = config.MaxWidth
	}
	if config.MaxHeight > 0 && metadata.Size.Height > config.MaxHeight {
		options.Height = config.MaxHeight
	}

	outputBytes, err := img.Process(options)
	if err != nil {
		return nil, fmt.Errorf("failed to process image: %w", err)
	}

	return outputBytes, nil
}

// determineImageType maps bimg's string type to bimg.ImageType constant.
func determineImageType(typeStr string) bimg.ImageType {
	switch typeStr {
	case "jpeg":
		return bimg.JPEG
	case "png":
		return bimg.PNG
	case "webp":
		return bimg.WEBP
	case "gif":
		return bimg.GIF
	case "svg":
		return bimg.SVG
	default:
		// Default to JPEG for unknown types
		return bimg.JPEG
	}
}

// VerifyNoEXIF reports whether the image carries no identifying EXIF fields.
func VerifyNoEXIF(imageBytes []byte) (bool, error) {
	img := bimg.NewImage(imageBytes)
	metadata, err := img.Metadata()
	if err != nil {
		return false, fmt.Errorf("failed to read image metadata: %w", err)
	}

	exif := metadata.EXIF
	hasEXIF := exif.Make != "" || exif.Model != "" ||
		exif.GPSLatitude != "" || exif.GPSLongitude != "" ||
		exif.DateTimeOriginal != "" || exif.Software != ""

	return !hasEXIF, nil
}
