package account

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"docbrief-backend/internal/ledger"
)

func newTestRouter(identity string, h *Handler) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(func(c *gin.Context) {
		c.Set("userId", identity)
		c.Next()
	})
	api := router.Group("/api/v1")
	h.RegisterRoutes(api)
	h.RegisterCallbackRoutes(api)
	return router
}

func TestGetCreditsReturnsBalance(t *testing.T) {
	led := ledger.NewService()
	if _, err := led.Credit(context.Background(), "user-1", 25, ledger.CategoryCreditGrant); err != nil {
		t.Fatalf("seed credits: %v", err)
	}
	router := newTestRouter("user-1", NewHandler(led, "secret"))

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/account/credits", nil)
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body struct {
		Balance   int  `json:"balance"`
		Anonymous bool `json:"anonymous"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if body.Balance != 25 || body.Anonymous {
		t.Fatalf("body = %+v, want balance 25 and anonymous false", body)
	}
}

func TestGetCreditsForGuestIsZeroWithoutLedgerRow(t *testing.T) {
	router := newTestRouter("guest:abc", NewHandler(ledger.NewService(), "secret"))

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/account/credits", nil)
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body struct {
		Balance   int  `json:"balance"`
		Anonymous bool `json:"anonymous"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if body.Balance != 0 || !body.Anonymous {
		t.Fatalf("body = %+v, want balance 0 and anonymous true", body)
	}
}

func TestPaymentCallbackGrantsCredits(t *testing.T) {
	led := ledger.NewService()
	router := newTestRouter("", NewHandler(led, "hook-secret"))

	payload := `{"identity":"user-2","amount":40,"reference":"order-7"}`
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/credits/callback", strings.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Callback-Secret", "hook-secret")
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	balance, err := led.Balance(context.Background(), "user-2")
	if err != nil {
		t.Fatalf("Balance() error = %v", err)
	}
	if balance != 40 {
		t.Fatalf("balance = %d, want 40", balance)
	}
}

func TestPaymentCallbackRejectsBadSecretAndGuests(t *testing.T) {
	led := ledger.NewService()
	router := newTestRouter("", NewHandler(led, "hook-secret"))

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/credits/callback", strings.NewReader(`{"identity":"user-3","amount":10}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Callback-Secret", "wrong")
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("bad secret status = %d, want 401", rec.Code)
	}

	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/api/v1/credits/callback", strings.NewReader(`{"identity":"guest:abc","amount":10}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Callback-Secret", "hook-secret")
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("guest grant status = %d, want 400", rec.Code)
	}

	if balance, _ := led.Balance(context.Background(), "user-3"); balance != 0 {
		t.Fatalf("rejected callbacks still granted credits: balance = %d", balance)
	}
}
