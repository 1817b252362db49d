package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/lamemoria/baldosas/internal/assets"
	"github.com/lamemoria/baldosas/internal/middleware"
)

// Presigner generates pre-signed upload URLs. Satisfied by assets.R2Store.
type Presigner interface {
	PresignPut(ctx context.Context, key, contentType string, sizeBytes int64) (*assets.SignedURLResponse, error)
}

// SignUploadRequest represents the request body for POST /uploads/sign.
type SignUploadRequest struct {
	ContentType string  `json:"content_type"`
	SizeBytes   int64   `json:"size_bytes"`
	ProposalID  *string `json:"proposal_id,omitempty"`
}

// SignUploadResponse represents the response for POST /uploads/sign.
type SignUploadResponse struct {
	URL       string `json:"url"`
	Key       string `json:"key"`
	ExpiresAt string `json:"expires_at"` // ISO 8601 format
}

// UploadHandlers holds dependencies for upload HTTP handlers.
type UploadHandlers struct {
	presigner Presigner
}

// NewUploadHandlers creates a new UploadHandlers instance.
func NewUploadHandlers(presigner Presigner) *UploadHandlers {
	return &UploadHandlers{presigner: presigner}
}

// SignUpload handles POST /uploads/sign - generates a pre-signed PUT URL so
// proposal photos upload directly to object storage.
func (h *UploadHandlers) SignUpload(w http.ResponseWriter, r *http.Request) {
	var req SignUploadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeBadRequest, "Invalid JSON in request body")
		return
	}

	if req.ContentType == "" {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeValidation)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeValidation, "content_type is required")
		return
	}
	if req.SizeBytes <= 0 {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeValidation)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeValidation, "size_bytes must be positive")
		return
	}

	key, err := assets.ProposalImageKey(req.ContentType, req.ProposalID)
	if err != nil {
		switch {
		case errors.Is(err, assets.ErrUnsupportedType):
			ctx := middleware.SetErrorCode(r.Context(), ErrCodeUnsupportedType)
			WriteError(w, ctx, http.StatusUnsupportedMediaType, ErrCodeUnsupportedType,
				"Unsupported content type. Allowed types: image/jpeg, image/png, audio/mpeg, audio/wav")
		case errors.Is(err, assets.ErrInvalidKey):
			ctx := middleware.SetErrorCode(r.Context(), ErrCodeValidation)
			WriteError(w, ctx, http.StatusBadRequest, ErrCodeValidation, "Invalid proposal ID")
		default:
			ctx := middleware.SetErrorCode(r.Context(), ErrCodeInternal)
			WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, "Failed to build upload key")
		}
		return
	}

	signed, err := h.presigner.PresignPut(r.Context(), key, req.ContentType, req.SizeBytes)
	if err != nil {
		switch {
		case errors.Is(err, assets.ErrUnsupportedType):
			ctx := middleware.SetErrorCode(r.Context(), ErrCodeUnsupportedType)
			WriteError(w, ctx, http.StatusUnsupportedMediaType, ErrCodeUnsupportedType, "Unsupported content type")
		case errors.Is(err, assets.ErrFileTooLarge):
			ctx := middleware.SetErrorCode(r.Context(), ErrCodeFileTooLarge)
			WriteError(w, ctx, http.StatusRequestEntityTooLarge, ErrCodeFileTooLarge, "File size exceeds maximum allowed")
		default:
			slog.ErrorContext(r.Context(), "failed to generate signed URL", "error", err)
			ctx := middleware.SetErrorCode(r.Context(), ErrCodeInternal)
			WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, "Failed to generate signed URL")
		}
		return
	}

	writeJSON(w, r.Context(), http.StatusOK, SignUploadResponse{
		URL:       signed.URL,
		Key:       signed.Key,
		ExpiresAt: signed.ExpiresAt.Format(time.RFC3339),
	})
}
