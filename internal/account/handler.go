// Package account exposes the credit balance and history endpoints plus the
// payment provider callback that grants purchased credits.
package account

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"docbrief-backend/internal/admission"
	"docbrief-backend/internal/ledger"
	"docbrief-backend/internal/shared/server/middleware"
	"docbrief-backend/internal/shared/server/respond"
	"docbrief-backend/internal/shared/telemetry"
)

const historyLimit = 50

// Handler serves account credit endpoints.
type Handler struct {
	Ledger         *ledger.Service
	CallbackSecret string
}

// NewHandler constructs a Handler.
func NewHandler(led *ledger.Service, callbackSecret string) *Handler {
	return &Handler{Ledger: led, CallbackSecret: callbackSecret}
}

// RegisterRoutes attaches authenticated account routes to the router group.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/account/credits", h.getCredits)
	rg.GET("/account/credits/history", h.getHistory)
}

// RegisterCallbackRoutes attaches the payment callback outside the auth
// middleware; it authenticates with a shared secret instead.
func (h *Handler) RegisterCallbackRoutes(rg *gin.RouterGroup) {
	rg.POST("/credits/callback", h.paymentCallback)
}

func (h *Handler) getCredits(c *gin.Context) {
	identity := middleware.UserIDFromContext(c)
	if admission.IsAnonymous(identity) {
		respond.OK(c, gin.H{"balance": 0, "anonymous": true})
		return
	}

	balance, err := h.Ledger.Balance(c.Request.Context(), identity)
	if err != nil {
		respond.Error(c, http.StatusInternalServerError, "internal_error", "failed to fetch balance", nil)
		return
	}
	respond.OK(c, gin.H{"balance": balance, "anonymous": false})
}

func (h *Handler) getHistory(c *gin.Context) {
	identity := middleware.UserIDFromContext(c)
	if admission.IsAnonymous(identity) {
		respond.OK(c, gin.H{"entries": []ledger.Entry{}})
		return
	}

	entries, err := h.Ledger.History(c.Request.Context(), identity, historyLimit)
	if err != nil {
		respond.Error(c, http.StatusInternalServerError, "internal_error", "failed to fetch history", nil)
		return
	}
	if entries == nil {
		entries = []ledger.Entry{}
	}
	respond.OK(c, gin.H{"entries": entries})
}

type callbackRequest struct {
	Identity  string `json:"identity" binding:"required"`
	Amount    int    `json:"amount" binding:"required"`
	Reference string `json:"reference"`
}

func (h *Handler) paymentCallback(c *gin.Context) {
	secret := strings.TrimSpace(c.GetHeader("X-Callback-Secret"))
	if h.CallbackSecret == "" || subtle.ConstantTimeCompare([]byte(secret), []byte(h.CallbackSecret)) != 1 {
		respond.Error(c, http.StatusUnauthorized, "unauthorized", "invalid callback secret", nil)
		return
	}

	var req callbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respond.Error(c, http.StatusBadRequest, "validation_error", "identity and amount are required", nil)
		return
	}
	if req.Amount <= 0 {
		respond.Error(c, http.StatusBadRequest, "validation_error", "amount must be positive", nil)
		return
	}
	if admission.IsAnonymous(req.Identity) {
		respond.Error(c, http.StatusBadRequest, "validation_error", "credits cannot be granted to guest identities", nil)
		return
	}

	balance, err := h.Ledger.Credit(c.Request.Context(), req.Identity, req.Amount, ledger.CategoryCreditGrant)
	if err != nil {
		respond.Error(c, http.StatusInternalServerError, "internal_error", "failed to grant credits", nil)
		return
	}

	telemetry.Info("credits granted", map[string]any{
		"identity":  req.Identity,
		"amount":    req.Amount,
		"reference": req.Reference,
		"balance":   balance,
	})
	respond.OK(c, gin.H{"balance": balance})
}
