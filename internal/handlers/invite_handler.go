package handlers

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/hanyuquiz/backend/internal/services"
)

type InviteHandler struct {
	service   *services.InviteService
	validator *services.ValidationHelper
}

func NewInviteHandler(service *services.InviteService) *InviteHandler {
	return &InviteHandler{
		service:   service,
		validator: services.NewValidationHelper(),
	}
}

// CreateInvite issues a shareable invite for a pending duel
// @Summary Create duel invite
// @Description Generate an invite code and QR image for a duel the caller created
// @Tags duels
// @Produce json
// @Security BearerAuth
// @Param duelID path int true "Duel ID"
// @Success 200 {object} object{code=string,qrImage=string}
// @Failure 404 {object} services.ErrorResponse
// @Router /duels/{duelID}/invite [post]
func (h *InviteHandler) CreateInvite(w http.ResponseWriter, r *http.Request) {
	accountID, ok := services.AccountFromContext(r)
	if !ok {
		services.SendErrorResponse(w, "unauthorized", http.StatusUnauthorized, nil)
		return
	}

	duelID, err := strconv.ParseInt(chi.URLParam(r, "duelID"), 10, 64)
	if err != nil {
		services.SendErrorResponse(w, services.CodeNotFound, http.StatusNotFound, nil)
		return
	}

	code, qrImage, err := h.service.CreateInvite(r.Context(), duelID, accountID)
	if err == services.ErrNotFound {
		services.SendErrorResponse(w, services.CodeNotFound, http.StatusNotFound, nil)
		return
	}
	if err == services.ErrInvitesUnavailable {
		services.SendErrorResponse(w, services.CodeInternal, http.StatusServiceUnavailable, nil)
		return
	}
	if err != nil {
		services.SendErrorResponse(w, services.CodeInternal, http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"success": true,
		"code":    code,
		"qrImage": qrImage,
	})
}

// ResolveInvite looks up the duel behind an invite code
// @Summary Resolve duel invite
// @Tags duels
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body object{code=string} true "Invite code"
// @Success 200 {object} object{duel_id=int64}
// @Failure 404 {object} services.ErrorResponse
// @Router /duels/invites/resolve [post]
func (h *InviteHandler) ResolveInvite(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Code string `json:"code" validate:"required"`
	}

	r.Body = http.MaxBytesReader(w, r.Body, 1_048_576)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(&req); err != nil {
		services.SendErrorResponse(w, services.CodeValidationFailed, http.StatusBadRequest, nil)
		return
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		services.SendErrorResponse(w, services.CodeValidationFailed, http.StatusBadRequest, nil)
		return
	}
	if err := h.validator.ValidateStruct(&req); err != nil {
		services.SendErrorResponse(w, services.CodeValidationFailed, http.StatusBadRequest, err)
		return
	}

	duelID, err := h.service.ResolveInvite(r.Context(), req.Code)
	if err == services.ErrNotFound {
		services.SendErrorResponse(w, services.CodeNotFound, http.StatusNotFound, nil)
		return
	}
	if err != nil {
		services.SendErrorResponse(w, services.CodeInternal, http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"success": true,
		"duel_id": duelID,
	})
}
