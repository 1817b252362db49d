// Package moderation turns approved proposals into live markers. Conversion
// is the one write path that creates markers, and it validates everything
// before touching storage so a rejected conversion leaves no partial state.
package moderation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/lamemoria/baldosas/internal/assets"
	"github.com/lamemoria/baldosas/internal/geo"
	"github.com/lamemoria/baldosas/internal/image"
	"github.com/lamemoria/baldosas/internal/marker"
	"github.com/lamemoria/baldosas/internal/proposal"
)

// Input length floors, counted on trimmed text.
const (
	MinCodeLength      = 4
	MinARMessageLength = 5
)

// PlaceholderImageRef is served when a proposal's photo cannot be processed.
// The marker still goes live; the photo can be re-uploaded later.
const PlaceholderImageRef = "images/placeholder.jpg"

// Conversion errors.
var (
	ErrNotApproved      = errors.New("proposal is not approved")
	ErrAlreadyConverted = errors.New("proposal was already converted")
	ErrInvalidCode      = errors.New("marker code too short")
	ErrInvalidARMessage = errors.New("ar message too short")
	ErrInvalidAsset     = errors.New("invalid ar target asset")
)

// ClusterFlagger marks AR target clusters containing a point as needing
// recompilation. Satisfied by cluster.Repository.
type ClusterFlagger interface {
	MarkStaleContaining(ctx context.Context, p geo.Point) ([]string, error)
}

// ConvertInput is the moderator's conversion form. ExtendedInfo is optional
// and falls back to the proposal's description when blank.
type ConvertInput struct {
	Code           string
	Category       string
	ARMessage      string
	ExtendedInfo   string
	Address        string
	Neighborhood   string
	TargetFilename string
	TargetData     []byte
}

// Service runs the conversion pipeline.
type Service struct {
	proposals proposal.Repository
	markers   marker.Repository
	clusters  ClusterFlagger
	store     assets.Store
	logger    *slog.Logger

	// processImage is swappable so tests do not need libvips.
	processImage func([]byte) ([]byte, error)
}

// NewService creates a moderation service. clusters may be nil when no
// cluster compilation pipeline is configured.
func NewService(proposals proposal.Repository, markers marker.Repository, clusters ClusterFlagger, store assets.Store, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		proposals:    proposals,
		markers:      markers,
		clusters:     clusters,
		store:        store,
		logger:       logger,
		processImage: image.ProcessBytes,
	}
}

// Convert validates the input against the proposal, places the AR target,
// persists the photo, and creates the marker. The proposal keeps its
// approved status and gains a link to the new marker.
//
// Failure severity is graded: validation problems and target placement
// failures abort with no marker created; photo processing failures fall back
// to a placeholder; the proposal annotation and cluster flagging are logged
// but never roll the marker back.
func (s *Service) Convert(ctx context.Context, proposalID string, in ConvertInput) (*marker.Marker, error) {
	p, err := s.proposals.GetByID(ctx, proposalID)
	if err != nil {
		return nil, err
	}

	if p.Status != proposal.StatusApproved {
		return nil, ErrNotApproved
	}
	if p.ConvertedMarkerID != nil {
		return nil, ErrAlreadyConverted
	}

	code := strings.TrimSpace(in.Code)
	if len(code) < MinCodeLength {
		return nil, ErrInvalidCode
	}
	arMessage := strings.TrimSpace(in.ARMessage)
	if len(arMessage) < MinARMessageLength {
		return nil, ErrInvalidARMessage
	}
	if !marker.ValidCategory(in.Category) {
		return nil, marker.ErrInvalidCategory
	}
	if len(in.TargetData) == 0 || !assets.ValidTargetFilename(in.TargetFilename) {
		return nil, ErrInvalidAsset
	}

	// Code uniqueness spans deactivated markers: a retired code is never
	// reissued.
	exists, err := s.markers.CodeExists(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("checking code uniqueness: %w", err)
	}
	if exists {
		return nil, marker.ErrDuplicateCode
	}

	// The AR target is what the camera recognizes on the street. Without it
	// the marker is dead weight, so placement failure aborts the conversion.
	targetKey := assets.TargetKey(code)
	if err := s.store.Put(ctx, targetKey, assets.MIMEOctetStream, in.TargetData); err != nil {
		return nil, fmt.Errorf("placing ar target: %w", err)
	}

	imageRef := s.persistImage(ctx, code, p)

	m := &marker.Marker{
		Code:         code,
		Name:         p.HonoreeName,
		Category:     in.Category,
		Description:  p.Description,
		ExtendedInfo: firstNonEmpty(in.ExtendedInfo, p.Description),
		ARMessage:    arMessage,
		Address:      firstNonEmpty(in.Address, p.Address),
		Neighborhood: in.Neighborhood,
		Point:        p.Point, // coordinates carry over exactly as submitted
		ImageRef:     imageRef,
		ARTargetRef:  targetKey,
		Active:       true,
	}
	if err := s.markers.Create(ctx, m); err != nil {
		// Orphaned target files are cleaned up out of band.
		return nil, fmt.Errorf("creating marker: %w", err)
	}

	note := "converted to " + code
	if err := s.proposals.MarkConverted(ctx, proposalID, m.ID, note); err != nil {
		s.logger.Error("marker created but proposal annotation failed",
			"proposal_id", proposalID,
			"marker_id", m.ID,
			"error", err,
		)
	}

	s.flagClusters(ctx, m)
	return m, nil
}

// persistImage sanitizes and stores the proposal photo, falling back to the
// placeholder on any failure.
func (s *Service) persistImage(ctx context.Context, code string, p *proposal.Proposal) string {
	if len(p.ImagePayload) == 0 {
		return PlaceholderImageRef
	}

	processed, err := s.processImage(p.ImagePayload)
	if err != nil {
		s.logger.Warn("proposal photo processing failed, using placeholder",
			"proposal_id", p.ID,
			"error", err,
		)
		return PlaceholderImageRef
	}

	key := assets.ImageKey(code, ".jpg")
	if err := s.store.Put(ctx, key, assets.MIMEImageJPEG, processed); err != nil {
		s.logger.Warn("proposal photo upload failed, using placeholder",
			"proposal_id", p.ID,
			"error", err,
		)
		return PlaceholderImageRef
	}
	return key
}

// flagClusters marks clusters covering the new marker for recompilation.
func (s *Service) flagClusters(ctx context.Context, m *marker.Marker) {
	if s.clusters == nil {
		return
	}
	flagged, err := s.clusters.MarkStaleContaining(ctx, m.Point)
	if err != nil {
		s.logger.Warn("cluster stale flagging failed",
			"marker_id", m.ID,
			"error", err,
		)
		return
	}
	if len(flagged) > 0 {
		s.logger.Info("clusters flagged for recompilation",
			"marker_id", m.ID,
			"clusters", flagged,
		)
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
