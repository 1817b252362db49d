package image

import (
	"bytes"
	"encoding/base64"
	"os"
	"testing"
)

func TestProcessStripsEXIF(t *testing.T) {
	processedBytes, err := ProcessBytes(testJPEGWithEXIF(t))
	if err != nil {
		t.Fatalf("ProcessBytes failed: %v", err)
	}
	if len(processedBytes) == 0 {
		t.Fatal("processed image is empty")
	}

	noEXIF, err := VerifyNoEXIF(processedBytes)
	if err != nil {
		t.Fatalf("VerifyNoEXIF failed: %v", err)
	}
	if !noEXIF {
		t.Error("EXIF metadata still present after processing")
	}
}

func TestProcessWithConfigQuality(t *testing.T) {
	input := testJPEGWithEXIF(t)

	tests := []struct {
		name    string
		quality int
	}{
		{"high_quality", 95},
		{"default_quality", 85},
		{"low_quality", 60},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := DefaultConfig()
			config.Quality = tt.quality

			processedBytes, err := ProcessWithConfig(bytes.NewReader(input), config)
			if err != nil {
				t.Fatalf("ProcessWithConfig failed: %v", err)
			}
			if len(processedBytes) == 0 {
				t.Error("processed image is empty")
			}

			noEXIF, err := VerifyNoEXIF(processedBytes)
			if err != nil {
				t.Fatalf("VerifyNoEXIF failed: %v", err)
			}
			if !noEXIF {
				t.Errorf("EXIF metadata still present with quality=%d", tt.quality)
			}
		})
	}
}

func TestProcessWithConfigFormat(t *testing.T) {
	input := testJPEGWithEXIF(t)

	for _, format := range []string{"jpeg", "webp", "png"} {
		t.Run(format, func(t *testing.T) {
			config := DefaultConfig()
			config.OutputFormat = format

			processedBytes, err := ProcessWithConfig(bytes.NewReader(input), config)
			if err != nil {
				t.Fatalf("ProcessWithConfig failed for format %s: %v", format, err)
			}
			if len(processedBytes) == 0 {
				t.Error("processed image is empty")
			}
		})
	}
}

func TestProcessInvalidImage(t *testing.T) {
	if _, err := ProcessBytes([]byte("not an image")); err == nil {
		t.Error("expected error for invalid image data, got nil")
	}
}

func TestDerivativeConfigs(t *testing.T) {
	tile := TileConfig()
	if tile.MaxWidth != TileMaxWidth {
		t.Errorf("tile MaxWidth = %d, want %d", tile.MaxWidth, TileMaxWidth)
	}
	if !tile.StripMetadata {
		t.Error("tile config must strip metadata")
	}

	portrait := PortraitConfig()
	if portrait.MaxWidth != PortraitMaxWidth {
		t.Errorf("portrait MaxWidth = %d, want %d", portrait.MaxWidth, PortraitMaxWidth)
	}
	if portrait.OutputFormat != "jpeg" {
		t.Errorf("portrait format = %q, want jpeg", portrait.OutputFormat)
	}
}

func TestProcessWithConfigResize(t *testing.T) {
	input := testJPEGWithEXIF(t)

	processedBytes, err := ProcessWithConfig(bytes.NewReader(input), TileConfig())
	if err != nil {
		t.Fatalf("ProcessWithConfig failed: %v", err)
	}
	if len(processedBytes) == 0 {
		t.Error("processed image is empty")
	}

	noEXIF, err := VerifyNoEXIF(processedBytes)
	if err != nil {
		t.Fatalf("VerifyNoEXIF failed: %v", err)
	}
	if !noEXIF {
		t.Error("EXIF metadata still present after resize")
	}
}

// testJPEGWithEXIF returns a JPEG image with EXIF metadata for testing.
func testJPEGWithEXIF(t *testing.T) []byte {
	t.Helper()

	// Try to read from testdata directory first
	if data, err := os.ReadFile("testdata/sample_exif.jpg"); err == nil {
		return data
	}

	// Fallback: a 1x1 pixel JPEG. The base64 decoder ignores the newlines.
	base64JPEG := `
/9j/4AAQSkZJRgABAQEASABIAAD/2wBDAAgGBgcGBQgHBwcJCQgKDBQNDAsLDBkSEw8UHRofHh0a
HBwgJC4nICIsIxwcKDcpLDAxNDQ0Hyc5PTgyPC4zNDL/2wBDAQkJCQwLDBgNDRgyIRwhMjIyMjIy
MjIyMjIyMjIyMjIyMjIyMjIyMjIyMjIyMjIyMjIyMjIyMjIyMjIyMjIyMjL/wAARCAABAAEDASIA
AhEBAxEB/8QAFQABAQAAAAAAAAAAAAAAAAAAAAv/xAAUEAEAAAAAAAAAAAAAAAAAAAAA/8QAFQEB
AQAAAAAAAAAAAAAAAAAAAAX/xAAUEQEAAAAAAAAAAAAAAAAAAAAA/9oADAMBAAIRAxEAPwCwAB//2Q==
`

	decoded, err := base64.StdEncoding.DecodeString(string(bytes.TrimSpace([]byte(base64JPEG))))
	if err != nil {
		t.Fatalf("Failed to decode test image: %v", err)
	}
	return decoded
}
