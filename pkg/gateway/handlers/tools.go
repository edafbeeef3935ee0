package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/ssk3000x/MedLens/pkg/gateway/tools/interactions"
)

// Tool endpoints report call-scoped failures as HTTP 200 with
// status:"error" in the body. Only transport problems (bad method,
// unparseable JSON) use HTTP error codes.

type InteractionChecker interface {
	Check(ctx context.Context, userID, drugName string) (*interactions.Result, error)
}

type EmailDrafter interface {
	CreateDraft(ctx context.Context, recipient, subject, body string) (string, error)
}

type CheckInteractionHandler struct {
	Checker InteractionChecker
	Logger  *slog.Logger
	Budget  time.Duration
}

type checkInteractionRequest struct {
	UserID   string `json:"user_id"`
	DrugName string `json:"drug_name"`
}

type checkInteractionResponse struct {
	Status          string                  `json:"status"`
	Message         string                  `json:"message,omitempty"`
	UserMedications []string                `json:"user_medications,omitempty"`
	Interactions    string                  `json:"interactions,omitempty"`
	Grounding       *interactions.Grounding `json:"grounding,omitempty"`
}

func (h CheckInteractionHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSONError(w, r, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}
	var req checkInteractionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, r, http.StatusBadRequest, "bad_request", "invalid JSON body")
		return
	}

	ctx, cancel := toolContext(r.Context(), h.Budget)
	defer cancel()

	result, err := h.Checker.Check(ctx, req.UserID, req.DrugName)
	if err != nil {
		if h.Logger != nil {
			h.Logger.Warn("check-interaction failed",
				"request_id", requestIDFromContext(r.Context()),
				"drug_name", req.DrugName,
				"error", err)
		}
		writeToolJSON(w, checkInteractionResponse{Status: "error", Message: err.Error()})
		return
	}
	writeToolJSON(w, checkInteractionResponse{
		Status:          "success",
		UserMedications: result.UserMedications,
		Interactions:    result.Interactions,
		Grounding:       &result.Grounding,
	})
}

type DraftEmailHandler struct {
	Drafts EmailDrafter
	Logger *slog.Logger
	Budget time.Duration
}

type draftEmailRequest struct {
	Recipient string `json:"recipient"`
	Subject   string `json:"subject"`
	Body      string `json:"body"`
}

type draftEmailResponse struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
	DraftID string `json:"draft_id,omitempty"`
}

func (h DraftEmailHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSONError(w, r, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}
	var req draftEmailRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, r, http.StatusBadRequest, "bad_request", "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.Recipient) == "" {
		writeToolJSON(w, draftEmailResponse{Status: "error", Message: "recipient is required"})
		return
	}

	ctx, cancel := toolContext(r.Context(), h.Budget)
	defer cancel()

	draftID, err := h.Drafts.CreateDraft(ctx, req.Recipient, req.Subject, req.Body)
	if err != nil {
		if h.Logger != nil {
			h.Logger.Warn("draft-email failed",
				"request_id", requestIDFromContext(r.Context()),
				"error", err)
		}
		writeToolJSON(w, draftEmailResponse{Status: "error", Message: err.Error()})
		return
	}
	writeToolJSON(w, draftEmailResponse{Status: "success", DraftID: draftID})
}

func toolContext(parent context.Context, budget time.Duration) (context.Context, context.CancelFunc) {
	if budget <= 0 {
		return context.WithCancel(parent)
	}
	return context.WithTimeout(parent, budget)
}

func writeToolJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(v)
}
