package server

import (
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/seminarhq/seminar/internal/discussion/message"
	apperrors "github.com/seminarhq/seminar/internal/platform/errors"
	"github.com/seminarhq/seminar/internal/platform/i18n"
	"github.com/seminarhq/seminar/internal/token"
)

type errorEnvelope struct {
	Error errorBody `json:"error"`
}

type errorBody struct {
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Details map[string]string `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Printf("server: encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, err error) {
	code := apperrors.GetCode(err)
	body := errorBody{
		Code:    string(code),
		Message: err.Error(),
		Details: apperrors.GetMetadata(err),
	}
	if code == apperrors.CodeUnknown {
		// Internal details stay in the logs.
		log.Printf("server: internal error: %v", err)
		body.Message = "internal error"
	}
	writeJSON(w, code.HTTPStatus(), errorEnvelope{Error: body})
}

func decodeBody(w http.ResponseWriter, r *http.Request, target any) bool {
	if err := json.NewDecoder(r.Body).Decode(target); err != nil {
		writeJSON(w, http.StatusBadRequest, errorEnvelope{Error: errorBody{
			Code:    "INVALID_ARGUMENT",
			Message: "request body is not valid JSON",
		}})
		return false
	}
	return true
}

type generateTokenRequest struct {
	DiscussionID       string `json:"discussion_id"`
	Kind               string `json:"kind,omitempty"`
	ExpectsHighVolume  bool   `json:"expects_high_volume,omitempty"`
	RequiresRevocation bool   `json:"requires_revocation,omitempty"`
	IsTemporary        bool   `json:"is_temporary,omitempty"`
	ExpiresInSeconds   int64  `json:"expires_in_seconds,omitempty"`
	RecipientEmail     string `json:"recipient_email,omitempty"`
}

type grantResponse struct {
	Token     string `json:"token"`
	Kind      string `json:"kind"`
	ExpiresAt string `json:"expires_at"`
}

func (h *handler) generateToken(w http.ResponseWriter, r *http.Request) {
	var req generateTokenRequest
	if !decodeBody(w, r, &req) {
		return
	}

	policy := token.Policy{
		ExpectsHighVolume:  req.ExpectsHighVolume,
		RequiresRevocation: req.RequiresRevocation,
		IsTemporary:        req.IsTemporary,
		RecipientEmail:     req.RecipientEmail,
	}
	switch strings.ToUpper(strings.TrimSpace(req.Kind)) {
	case "":
	case "LEDGER":
		policy.KindOverride = token.KindLedger
	case "SIGNED":
		policy.KindOverride = token.KindSigned
	default:
		writeJSON(w, http.StatusBadRequest, errorEnvelope{Error: errorBody{
			Code:    "INVALID_ARGUMENT",
			Message: "kind must be LEDGER or SIGNED",
		}})
		return
	}
	if req.ExpiresInSeconds > 0 {
		policy.ExpiresIn = time.Duration(req.ExpiresInSeconds) * time.Second
	}

	grant, err := h.services.Tokens.Generate(r.Context(), req.DiscussionID, callerUserID(r), policy)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, grantResponse{
		Token:     grant.Token,
		Kind:      token.KindLabel(grant.Kind),
		ExpiresAt: grant.ExpiresAt.UTC().Format(time.RFC3339),
	})
}

type tokenValueRequest struct {
	Token string `json:"token"`
}

type discussionSummaryResponse struct {
	ID              string `json:"id"`
	Title           string `json:"title"`
	MaxParticipants *int   `json:"max_participants,omitempty"`
	ActiveCount     int    `json:"active_count"`
}

type validationResponse struct {
	Kind         string                    `json:"kind"`
	DiscussionID string                    `json:"discussion_id"`
	ExpiresAt    string                    `json:"expires_at"`
	Discussion   discussionSummaryResponse `json:"discussion"`
}

func (h *handler) validateToken(w http.ResponseWriter, r *http.Request) {
	var req tokenValueRequest
	if !decodeBody(w, r, &req) {
		return
	}

	validation, err := h.services.Tokens.Validate(r.Context(), req.Token)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, validationResponse{
		Kind:         token.KindLabel(validation.Kind),
		DiscussionID: validation.DiscussionID,
		ExpiresAt:    validation.ExpiresAt.UTC().Format(time.RFC3339),
		Discussion: discussionSummaryResponse{
			ID:              validation.Discussion.ID,
			Title:           validation.Discussion.Title,
			MaxParticipants: validation.Discussion.MaxParticipants,
			ActiveCount:     validation.Discussion.ActiveCount,
		},
	})
}

func (h *handler) revokeToken(w http.ResponseWriter, r *http.Request) {
	var req tokenValueRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := h.services.Tokens.Revoke(r.Context(), req.Token, callerUserID(r)); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type tokenRecordResponse struct {
	Token          string `json:"token"`
	Status         string `json:"status"`
	RecipientEmail string `json:"recipient_email,omitempty"`
	ExpiresAt      string `json:"expires_at"`
	CreatedAt      string `json:"created_at"`
}

func (h *handler) listTokens(w http.ResponseWriter, r *http.Request) {
	records, err := h.services.Tokens.List(r.Context(), r.PathValue("id"), callerUserID(r))
	if err != nil {
		writeError(w, err)
		return
	}

	response := struct {
		Tokens []tokenRecordResponse `json:"tokens"`
	}{Tokens: make([]tokenRecordResponse, 0, len(records))}
	for _, record := range records {
		response.Tokens = append(response.Tokens, tokenRecordResponse{
			Token:          record.Token,
			Status:         record.Status,
			RecipientEmail: record.RecipientEmail,
			ExpiresAt:      record.ExpiresAt.UTC().Format(time.RFC3339),
			CreatedAt:      record.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	writeJSON(w, http.StatusOK, response)
}

type messageResponse struct {
	ID            string         `json:"id"`
	DiscussionID  string         `json:"discussion_id"`
	Seq           int64          `json:"seq"`
	AuthorUserID  string         `json:"author_user_id,omitempty"`
	ParticipantID string         `json:"participant_id,omitempty"`
	AuthorName    string         `json:"author_name,omitempty"`
	Content       string         `json:"content"`
	Type          string         `json:"type"`
	ParentID      string         `json:"parent_id,omitempty"`
	EditedAt      string         `json:"edited_at,omitempty"`
	CreatedAt     string         `json:"created_at"`
	Reactions     map[string]int `json:"reactions,omitempty"`
}

func messageToResponse(m message.Message) messageResponse {
	response := messageResponse{
		ID:            m.ID,
		DiscussionID:  m.DiscussionID,
		Seq:           m.Seq,
		AuthorUserID:  m.Author.UserID,
		ParticipantID: m.Author.ParticipantID,
		Content:       m.Content,
		Type:          message.TypeLabel(m.Type),
		ParentID:      m.ParentID,
		CreatedAt:     m.CreatedAt.UTC().Format(time.RFC3339),
		Reactions:     m.Reactions,
	}
	if m.EditedAt != nil {
		response.EditedAt = m.EditedAt.UTC().Format(time.RFC3339)
	}
	switch m.Type {
	case message.TypeSystem:
		response.AuthorName = i18n.SystemLabel(i18n.LocaleEnUS)
	case message.TypeAIPrompt, message.TypeAIQuestion:
		response.AuthorName = i18n.FacilitatorLabel(i18n.LocaleEnUS)
	}
	return response
}

func (h *handler) listMessages(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			writeJSON(w, http.StatusBadRequest, errorEnvelope{Error: errorBody{
				Code:    "INVALID_ARGUMENT",
				Message: "limit must be a non-negative integer",
			}})
			return
		}
		limit = parsed
	}

	page, err := h.services.Bus.List(r.Context(), r.PathValue("id"), r.URL.Query().Get("cursor"), limit)
	if err != nil {
		writeError(w, err)
		return
	}

	response := struct {
		Messages   []messageResponse `json:"messages"`
		NextCursor string            `json:"next_cursor,omitempty"`
		HasMore    bool              `json:"has_more"`
	}{
		Messages:   make([]messageResponse, 0, len(page.Messages)),
		NextCursor: page.NextCursor,
		HasMore:    page.HasMore,
	}
	for _, m := range page.Messages {
		response.Messages = append(response.Messages, messageToResponse(m))
	}
	writeJSON(w, http.StatusOK, response)
}

type triggerRequest struct {
	ParticipantID string `json:"participant_id"`
}

func (h *handler) triggerFacilitator(w http.ResponseWriter, r *http.Request) {
	if h.services.Facilitator == nil {
		writeError(w, apperrors.New(apperrors.CodeDisabled, "facilitator is disabled"))
		return
	}
	var req triggerRequest
	if !decodeBody(w, r, &req) {
		return
	}

	appended, err := h.services.Facilitator.Trigger(r.Context(), r.PathValue("id"), req.ParticipantID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, struct {
		Message messageResponse `json:"message"`
	}{Message: messageToResponse(appended)})
}

type facilitatorStatusResponse struct {
	CanTriggerMore     bool   `json:"can_trigger_more"`
	PromptsInWindow    int    `json:"prompts_in_window"`
	NextAllowedTrigger string `json:"next_allowed_trigger,omitempty"`
	LastHumanActivity  string `json:"last_human_activity,omitempty"`
}

func (h *handler) facilitatorStatus(w http.ResponseWriter, r *http.Request) {
	if h.services.Facilitator == nil {
		writeError(w, apperrors.New(apperrors.CodeDisabled, "facilitator is disabled"))
		return
	}

	status, err := h.services.Facilitator.Status(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}

	response := facilitatorStatusResponse{
		CanTriggerMore:  status.CanTriggerMore,
		PromptsInWindow: status.PromptsInWindow,
	}
	if status.NextAllowedTrigger != nil {
		response.NextAllowedTrigger = status.NextAllowedTrigger.UTC().Format(time.RFC3339)
	}
	if status.LastHumanActivity != nil {
		response.LastHumanActivity = status.LastHumanActivity.UTC().Format(time.RFC3339)
	}
	writeJSON(w, http.StatusOK, response)
}
