package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"stepCreditAPI/internal/apperr"
	"stepCreditAPI/internal/credit"
	"stepCreditAPI/middleware"
	"stepCreditAPI/services"
)

type CreditHandler struct {
	creditService      *services.CreditService
	stepService        *services.StepService
	achievementService *services.AchievementService
}

func NewCreditHandler(creditService *services.CreditService, stepService *services.StepService, achievementService *services.AchievementService) *CreditHandler {
	return &CreditHandler{
		creditService:      creditService,
		stepService:        stepService,
		achievementService: achievementService,
	}
}

// ConvertSteps turns a day's step count into ledger credits and evaluates
// achievements in the same request.
func (h *CreditHandler) ConvertSteps(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	userID, ok := middleware.GetUserID(ctx)
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "User not authenticated")
		return
	}

	var req credit.ConvertStepsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	result, err := h.stepService.ConvertSteps(ctx, userID, &req)
	if err != nil {
		respondWithAppError(w, err)
		return
	}

	respondWithJSON(w, http.StatusOK, result)
}

func (h *CreditHandler) GetBalance(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	userID, ok := middleware.GetUserID(ctx)
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "User not authenticated")
		return
	}

	balance, err := h.creditService.GetBalance(ctx, userID)
	if err != nil {
		respondWithAppError(w, err)
		return
	}

	respondWithJSON(w, http.StatusOK, balance)
}

func (h *CreditHandler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	userID, ok := middleware.GetUserID(ctx)
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "User not authenticated")
		return
	}

	kind := credit.EntryKind(r.URL.Query().Get("type"))
	if kind != "" && !kind.Valid() {
		respondWithError(w, http.StatusBadRequest, "Unknown transaction type")
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

	result, err := h.creditService.ListTransactions(ctx, userID, kind, limit, offset)
	if err != nil {
		respondWithAppError(w, err)
		return
	}

	respondWithJSON(w, http.StatusOK, result)
}

// Spend debits credits directly, outside the reward workflow. Kept for
// premium features and other internal sinks.
func (h *CreditHandler) Spend(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	userID, ok := middleware.GetUserID(ctx)
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "User not authenticated")
		return
	}

	var req credit.SpendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Amount <= 0 {
		respondWithError(w, http.StatusBadRequest, "Valid amount is required")
		return
	}

	description := req.Description
	if description == "" {
		description = "Credits spent"
	}
	var metadata map[string]any
	if req.RewardID != "" {
		metadata = map[string]any{"reward_id": req.RewardID}
	}

	balance, err := h.creditService.Debit(ctx, userID, req.Amount, credit.KindSpent, "spend", description, metadata)
	if err != nil {
		respondWithAppError(w, err)
		return
	}

	respondWithJSON(w, http.StatusOK, balance)
}

func (h *CreditHandler) GetAchievements(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	userID, ok := middleware.GetUserID(ctx)
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "User not authenticated")
		return
	}

	achievements, err := h.achievementService.GetAchievements(ctx, userID)
	if err != nil {
		respondWithAppError(w, err)
		return
	}

	respondWithJSON(w, http.StatusOK, achievements)
}

// Helper functions
func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, err := json.Marshal(payload)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"error": "Internal server error"}`))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(response)
}

func respondWithError(w http.ResponseWriter, code int, message string) {
	respondWithJSON(w, code, map[string]string{"error": message})
}

// respondWithAppError maps the service error taxonomy onto status codes.
// Internal errors get a generic message so storage details never leak.
func respondWithAppError(w http.ResponseWriter, err error) {
	code := apperr.StatusCode(err)
	kind := apperr.KindOf(err)

	message := err.Error()
	if kind == apperr.KindInternal {
		message = "Internal server error"
	}

	respondWithJSON(w, code, map[string]string{
		"error": message,
		"code":  string(kind),
	})
}
