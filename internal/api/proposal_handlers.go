package api

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/lamemoria/baldosas/internal/geo"
	"github.com/lamemoria/baldosas/internal/marker"
	"github.com/lamemoria/baldosas/internal/middleware"
	"github.com/lamemoria/baldosas/internal/moderation"
	"github.com/lamemoria/baldosas/internal/proposal"
)

// convertFormMaxBytes caps the parsed multipart conversion form. The .mind
// target files are small; anything larger is rejected outright.
const convertFormMaxBytes = 32 << 20

// CreateProposalRequest represents the request body for submitting a proposal.
type CreateProposalRequest struct {
	HonoreeName  string   `json:"honoree_name"`
	Description  string   `json:"description"`
	Lat          *float64 `json:"lat"`
	Lng          *float64 `json:"lng"`
	Address      string   `json:"address,omitempty"`
	ImageBase64  string   `json:"image_base64,omitempty"`
	ContactEmail string   `json:"contact_email,omitempty"`
}

// ModerateProposalRequest represents the request body for the moderation PATCH.
type ModerateProposalRequest struct {
	Status string `json:"status"`
	Notes  string `json:"notes,omitempty"`
}

// ProposalListResponse is the response body for GET /proposals.
type ProposalListResponse struct {
	Proposals []*proposal.Proposal `json:"proposals"`
	Total     int                  `json:"total"`
}

// ProposalHandlers holds dependencies for proposal HTTP handlers.
type ProposalHandlers struct {
	repo      proposal.Repository
	converter *moderation.Service
}

// NewProposalHandlers creates a new ProposalHandlers instance.
func NewProposalHandlers(repo proposal.Repository, converter *moderation.Service) *ProposalHandlers {
	return &ProposalHandlers{repo: repo, converter: converter}
}

// CreateProposal handles POST /proposals - public marker submission.
func (h *ProposalHandlers) CreateProposal(w http.ResponseWriter, r *http.Request) {
	var req CreateProposalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeBadRequest, "Invalid JSON in request body")
		return
	}

	name := strings.TrimSpace(req.HonoreeName)
	if len(name) < proposal.MinNameLength {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeValidation)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeValidation, "honoree_name must be at least 2 characters")
		return
	}
	description := strings.TrimSpace(req.Description)
	if len(description) < proposal.MinDescriptionLength {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeValidation)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeValidation, "description must be at least 10 characters")
		return
	}
	if req.Lat == nil || req.Lng == nil {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeValidation)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeValidation, "lat and lng are required")
		return
	}
	point := geo.Point{Lat: *req.Lat, Lng: *req.Lng}
	if !point.Valid() {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeInvalidCoordinates)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeInvalidCoordinates, "Coordinates are out of range")
		return
	}

	var imagePayload []byte
	if req.ImageBase64 != "" {
		decoded, err := base64.StdEncoding.DecodeString(req.ImageBase64)
		if err != nil {
			ctx := middleware.SetErrorCode(r.Context(), ErrCodeValidation)
			WriteError(w, ctx, http.StatusBadRequest, ErrCodeValidation, "image_base64 is not valid base64")
			return
		}
		if len(decoded) > proposal.MaxImageBytes {
			ctx := middleware.SetErrorCode(r.Context(), ErrCodeFileTooLarge)
			WriteError(w, ctx, http.StatusRequestEntityTooLarge, ErrCodeFileTooLarge, "image exceeds the 5 MB limit")
			return
		}
		imagePayload = decoded
	}

	p := &proposal.Proposal{
		HonoreeName:  name,
		Description:  description,
		Point:        point,
		Address:      strings.TrimSpace(req.Address),
		ImagePayload: imagePayload,
		ContactEmail: strings.TrimSpace(req.ContactEmail),
	}
	if err := h.repo.Create(r.Context(), p); err != nil {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeInternal)
		WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, "Failed to create proposal")
		return
	}

	writeJSON(w, r.Context(), http.StatusCreated, p)
}

// ListProposals handles GET /proposals - moderation queue listing.
// An empty status filter returns all proposals, newest first.
func (h *ProposalHandlers) ListProposals(w http.ResponseWriter, r *http.Request) {
	status := r.URL.Query().Get("status")
	if status != "" && !proposal.ValidStatus(status) {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeValidation)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeValidation, "status must be 'pending', 'approved', or 'rejected'")
		return
	}

	proposals, err := h.repo.ListByStatus(r.Context(), status)
	if err != nil {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeInternal)
		WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, "Failed to list proposals")
		return
	}

	writeJSON(w, r.Context(), http.StatusOK, ProposalListResponse{Proposals: proposals, Total: len(proposals)})
}

// GetProposal handles GET /proposals/{id}.
func (h *ProposalHandlers) GetProposal(w http.ResponseWriter, r *http.Request) {
	id, _ := proposalPathParts(r)
	if id == "" {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeBadRequest, "Proposal ID is required")
		return
	}

	p, err := h.repo.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, proposal.ErrProposalNotFound) {
			ctx := middleware.SetErrorCode(r.Context(), ErrCodeNotFound)
			WriteError(w, ctx, http.StatusNotFound, ErrCodeNotFound, "Proposal not found")
			return
		}
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeInternal)
		WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, "Failed to retrieve proposal")
		return
	}

	writeJSON(w, r.Context(), http.StatusOK, p)
}

// ModerateProposal handles PATCH /proposals/{id} - sets status and notes.
func (h *ProposalHandlers) ModerateProposal(w http.ResponseWriter, r *http.Request) {
	id, _ := proposalPathParts(r)
	if id == "" {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeBadRequest, "Proposal ID is required")
		return
	}

	var req ModerateProposalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeBadRequest, "Invalid JSON in request body")
		return
	}
	if !proposal.ValidStatus(req.Status) {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeValidation)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeValidation, "status must be 'pending', 'approved', or 'rejected'")
		return
	}

	if err := h.repo.UpdateModeration(r.Context(), id, req.Status, req.Notes); err != nil {
		if errors.Is(err, proposal.ErrProposalNotFound) {
			ctx := middleware.SetErrorCode(r.Context(), ErrCodeNotFound)
			WriteError(w, ctx, http.StatusNotFound, ErrCodeNotFound, "Proposal not found")
			return
		}
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeInternal)
		WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, "Failed to moderate proposal")
		return
	}

	p, err := h.repo.GetByID(r.Context(), id)
	if err != nil {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeInternal)
		WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, "Failed to retrieve moderated proposal")
		return
	}

	writeJSON(w, r.Context(), http.StatusOK, p)
}

// DeleteProposal handles DELETE /proposals/{id} - permanent removal.
func (h *ProposalHandlers) DeleteProposal(w http.ResponseWriter, r *http.Request) {
	id, _ := proposalPathParts(r)
	if id == "" {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeBadRequest, "Proposal ID is required")
		return
	}

	if err := h.repo.Delete(r.Context(), id); err != nil {
		if errors.Is(err, proposal.ErrProposalNotFound) {
			ctx := middleware.SetErrorCode(r.Context(), ErrCodeNotFound)
			WriteError(w, ctx, http.StatusNotFound, ErrCodeNotFound, "Proposal not found")
			return
		}
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeInternal)
		WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, "Failed to delete proposal")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// ConvertProposal handles POST /proposals/{id}/convert - turns an approved
// proposal into a live marker. The conversion form is multipart: text fields
// code, category, ar_message, extended_info, address, neighborhood, plus the
// compiled AR target file under "target". extended_info is optional and
// defaults to the proposal's description.
func (h *ProposalHandlers) ConvertProposal(w http.ResponseWriter, r *http.Request) {
	id, action := proposalPathParts(r)
	if id == "" || action != "convert" {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeBadRequest, "Proposal ID is required")
		return
	}
	if h.converter == nil {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeInternal)
		WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, "Conversion pipeline is not configured")
		return
	}

	if err := r.ParseMultipartForm(convertFormMaxBytes); err != nil {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeBadRequest, "Request must be multipart form data")
		return
	}

	in := moderation.ConvertInput{
		Code:         r.FormValue("code"),
		Category:     r.FormValue("category"),
		ARMessage:    r.FormValue("ar_message"),
		ExtendedInfo: r.FormValue("extended_info"),
		Address:      r.FormValue("address"),
		Neighborhood: r.FormValue("neighborhood"),
	}

	file, header, err := r.FormFile("target")
	if err == nil {
		defer file.Close()
		in.TargetFilename = header.Filename
		data, readErr := io.ReadAll(file)
		if readErr != nil {
			ctx := middleware.SetErrorCode(r.Context(), ErrCodeBadRequest)
			WriteError(w, ctx, http.StatusBadRequest, ErrCodeBadRequest, "Failed to read target file")
			return
		}
		in.TargetData = data
	}

	m, err := h.converter.Convert(r.Context(), id, in)
	if err != nil {
		h.writeConvertError(w, r, err)
		return
	}

	writeJSON(w, r.Context(), http.StatusCreated, m)
}

// writeConvertError maps conversion pipeline errors to API error codes.
func (h *ProposalHandlers) writeConvertError(w http.ResponseWriter, r *http.Request, err error) {
	code := ErrCodeInternal
	message := "Failed to convert proposal"

	switch {
	case errors.Is(err, proposal.ErrProposalNotFound):
		code, message = ErrCodeNotFound, "Proposal not found"
	case errors.Is(err, moderation.ErrNotApproved):
		code, message = ErrCodeNotApproved, "Proposal must be approved before conversion"
	case errors.Is(err, moderation.ErrAlreadyConverted):
		code, message = ErrCodeAlreadyConverted, "Proposal was already converted"
	case errors.Is(err, moderation.ErrInvalidCode):
		code, message = ErrCodeValidation, "code must be at least 4 characters"
	case errors.Is(err, moderation.ErrInvalidARMessage):
		code, message = ErrCodeValidation, "ar_message must be at least 5 characters"
	case errors.Is(err, moderation.ErrInvalidAsset):
		code, message = ErrCodeInvalidAsset, "A compiled .mind target file is required"
	case errors.Is(err, marker.ErrInvalidCategory):
		code, message = ErrCodeInvalidCategory, "Unknown marker category"
	case errors.Is(err, marker.ErrDuplicateCode):
		code, message = ErrCodeDuplicateCode, "Marker code is already taken"
	}

	ctx := middleware.SetErrorCode(r.Context(), code)
	WriteError(w, ctx, StatusCodeMapping(code), code, message)
}

// proposalPathParts extracts the id and optional action segment of
// /proposals/{id}[/{action}].
func proposalPathParts(r *http.Request) (id, action string) {
	rest := strings.TrimPrefix(r.URL.Path, "/proposals/")
	parts := strings.Split(rest, "/")
	if len(parts) >= 1 {
		id = strings.TrimSpace(parts[0])
	}
	if len(parts) >= 2 {
		action = parts[1]
	}
	return id, action
}
