// Package proposal provides models and repositories for public marker
// proposals awaiting moderation.
package proposal

import (
	"errors"
	"slices"
	"time"

	"github.com/lamemoria/baldosas/internal/geo"
)

// Proposal statuses. A simple three-value flag: moderation PATCHes any
// allowed value, no transition table is enforced.
const (
	StatusPending  = "pending"
	StatusApproved = "approved"
	StatusRejected = "rejected"
)

// Statuses is the exhaustive list of valid proposal statuses.
var Statuses = []string{StatusPending, StatusApproved, StatusRejected}

// Submission constraints.
const (
	MinNameLength        = 2
	MinDescriptionLength = 10
	MaxImageBytes        = 5 * 1024 * 1024
)

// Common errors for proposal operations.
var (
	ErrProposalNotFound = errors.New("proposal not found")
	ErrInvalidStatus    = errors.New("invalid proposal status")
)

// ValidStatus reports whether status is one of the allowed values.
func ValidStatus(status string) bool {
	return slices.Contains(Statuses, status)
}

// Proposal is a pending, unmoderated marker submission.
// ConvertedMarkerID is set once by the moderation pipeline when the proposal
// is consumed; the status is deliberately left "approved" afterwards.
type Proposal struct {
	ID          string    `json:"id"`
	HonoreeName string    `json:"honoree_name"`
	Description string    `json:"description"`
	Point       geo.Point `json:"point"`
	Address     string    `json:"address,omitempty"`

	// ImagePayload holds the submitter's base64-decoded image bytes until
	// moderation; it is never served directly.
	ImagePayload []byte `json:"-"`
	ContactEmail string `json:"contact_email,omitempty"`

	Status            string  `json:"status"`
	ModerationNotes   string  `json:"moderation_notes,omitempty"`
	ConvertedMarkerID *string `json:"converted_marker_id,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
