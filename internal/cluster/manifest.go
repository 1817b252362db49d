package cluster

import (
	"errors"
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"
)

// Manifest decode errors.
var (
	ErrInvalidManifest = errors.New("invalid bundle manifest")
	ErrEmptyManifest   = errors.New("bundle manifest has no members")
)

// Manifest describes one compiled AR target bundle: which marker codes it
// indexes and at which cluster version it was compiled. It is written next
// to the compiled file so the recompilation job can tell whether a bundle is
// behind its cluster.
type Manifest struct {
	ClusterID   string    `cbor:"cluster_id"`
	Version     int64     `cbor:"version"`
	MemberCodes []string  `cbor:"member_codes"`
	CompiledAt  time.Time `cbor:"compiled_at"`
}

// EncodeManifest serializes a manifest to CBOR.
func EncodeManifest(m Manifest) ([]byte, error) {
	if len(m.MemberCodes) == 0 {
		return nil, ErrEmptyManifest
	}
	data, err := cbor.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to encode bundle manifest: %w", err)
	}
	return data, nil
}

// DecodeManifest parses a CBOR manifest, validating required fields.
func DecodeManifest(data []byte) (*Manifest, error) {
	var m Manifest
	if err := cbor.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidManifest, err)
	}
	if m.ClusterID == "" {
		return nil, fmt.Errorf("%w: missing cluster id", ErrInvalidManifest)
	}
	if len(m.MemberCodes) == 0 {
		return nil, ErrEmptyManifest
	}
	return &m, nil
}
