// Package assets stores marker media: portrait and tile images, audio clips,
// AR target files, and compiled target bundles.
package assets

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/google/uuid"
)

// Allowed MIME types for marker media.
const (
	MIMEImageJPEG   = "image/jpeg"
	MIMEImagePNG    = "image/png"
	MIMEAudioMPEG   = "audio/mpeg"
	MIMEAudioWAV    = "audio/wav"
	MIMEOctetStream = "application/octet-stream"
)

// MindTargetExt is the required extension for AR target files.
const MindTargetExt = ".mind"

// Validation errors
var (
	ErrUnsupportedType = errors.New("unsupported content type")
	ErrFileTooLarge    = errors.New("file size exceeds maximum allowed")
	ErrInvalidKey      = errors.New("invalid asset key")
	ErrNotFound        = errors.New("asset not found")
)

// AllowedMIMETypes maps allowed MIME types to their file extensions. AR
// target and bundle files travel as octet streams.
var AllowedMIMETypes = map[string]string{
	MIMEImageJPEG:   ".jpg",
	MIMEImagePNG:    ".png",
	MIMEAudioMPEG:   ".mp3",
	MIMEAudioWAV:    ".wav",
	MIMEOctetStream: MindTargetExt,
}

// Store persists asset bytes under hierarchical keys like
// "targets/BALD-0042.mind" or "images/BALD-0042.jpg".
type Store interface {
	// Put writes an asset. The write is atomic: a partially written object
	// is never visible under the key.
	Put(ctx context.Context, key, contentType string, data []byte) error

	// Get reads an asset. Returns ErrNotFound when the key does not exist.
	Get(ctx context.Context, key string) ([]byte, error)

	// Exists reports whether the key holds an asset.
	Exists(ctx context.Context, key string) (bool, error)

	// Delete removes an asset. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
}

// ValidateContentType checks if the content type is allowed.
func ValidateContentType(contentType string) error {
	if _, ok := AllowedMIMETypes[contentType]; !ok {
		return ErrUnsupportedType
	}
	return nil
}

// TargetKey builds the canonical key for a marker's AR target file.
func TargetKey(markerCode string) string {
	return "targets/" + sanitizePathComponent(markerCode) + MindTargetExt
}

// ImageKey builds the canonical key for a marker's tile image.
func ImageKey(markerCode, ext string) string {
	return "images/" + sanitizePathComponent(markerCode) + ext
}

// PortraitKey builds the canonical key for a marker's portrait image.
func PortraitKey(markerCode, ext string) string {
	return "portraits/" + sanitizePathComponent(markerCode) + ext
}

// AudioKey builds the canonical key for a marker's audio clip.
func AudioKey(markerCode, ext string) string {
	return "audio/" + sanitizePathComponent(markerCode) + ext
}

// BundleKey builds the canonical key for a cluster's compiled target bundle.
func BundleKey(clusterID string, version int64) string {
	return fmt.Sprintf("bundles/%s-v%d.bundle", sanitizePathComponent(clusterID), version)
}

// ProposalImageKey builds a unique staging key for a proposal's submitted
// photo. Pattern: proposals/{proposalID or temp}/uuid.ext
func ProposalImageKey(contentType string, proposalID *string) (string, error) {
	ext, ok := AllowedMIMETypes[contentType]
	if !ok {
		return "", ErrUnsupportedType
	}

	objectUUID := uuid.New().String()

	prefix := "temp"
	if proposalID != nil && *proposalID != "" {
		sanitized := sanitizePathComponent(*proposalID)
		if sanitized == "" {
			return "", ErrInvalidKey
		}
		prefix = sanitized
	}

	return fmt.Sprintf("proposals/%s/%s%s", prefix, objectUUID, ext), nil
}

// ValidTargetFilename reports whether an uploaded AR target filename carries
// the required extension.
func ValidTargetFilename(name string) bool {
	return strings.EqualFold(path.Ext(name), MindTargetExt)
}

// sanitizePathComponent removes potentially dangerous characters from path components.
func sanitizePathComponent(s string) string {
	// Only allow alphanumeric, hyphens, and underscores
	var result strings.Builder
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '-' || r == '_' {
			result.WriteRune(r)
		}
	}
	return result.String()
}

// validateKey rejects keys that could escape the store root.
func validateKey(key string) error {
	if key == "" || strings.HasPrefix(key, "/") || strings.Contains(key, "..") {
		return ErrInvalidKey
	}
	if path.Clean(key) != key {
		return ErrInvalidKey
	}
	return nil
}
