package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mmeshcher/cartengine-system/internal/middleware"
	"github.com/mmeshcher/cartengine-system/internal/model"
	"github.com/mmeshcher/cartengine-system/internal/repository"
	"github.com/mmeshcher/cartengine-system/internal/service"
)

const testProductID = "3f1c0e3e-6f0a-4c0f-9a5e-2b8d8e9b1a77"

type stubService struct {
	cart    *model.Cart
	cartErr error

	snapshot    *model.CartSnapshot
	snapshotErr error

	mutateSnapshot *model.CartSnapshot
	mutateErr      error

	mutateCalls int
	lastAction  model.Action
	lastQty     int
}

func (s *stubService) EnsureCart(ctx context.Context, clientID int64, orgID string, channel model.Channel) (*model.Cart, error) {
	return s.cart, s.cartErr
}

func (s *stubService) GetCartSnapshot(ctx context.Context, cartID int64, orgID string) (*model.CartSnapshot, error) {
	return s.snapshot, s.snapshotErr
}

func (s *stubService) MutateCartLine(ctx context.Context, cartID int64, orgID, productID, variationID string, action model.Action, qty int) (*model.CartSnapshot, error) {
	s.mutateCalls++
	s.lastAction = action
	s.lastQty = qty
	return s.mutateSnapshot, s.mutateErr
}

func newTestHandler(svc *stubService) (*Handler, *middleware.SessionMiddleware) {
	sm := middleware.NewSessionMiddleware("test-secret")
	return NewHandler(svc, zap.NewNop(), sm), sm
}

func sessionCookie(sm *middleware.SessionMiddleware) *http.Cookie {
	w := httptest.NewRecorder()
	sm.SetSessionCookie(w, middleware.Session{ClientID: 7, OrganizationID: "org-1", Channel: model.ChannelWeb})
	return w.Result().Cookies()[0]
}

func mutateRequest(t *testing.T, body any, cookie *http.Cookie) *http.Request {
	t.Helper()

	raw, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}

	r := httptest.NewRequest(http.MethodPatch, "/api/cart/1/lines", bytes.NewReader(raw))
	r.Header.Set("Content-Type", "application/json")
	if cookie != nil {
		r.AddCookie(cookie)
	}
	return r
}

func TestMutateLine_OK(t *testing.T) {
	svc := &stubService{
		mutateSnapshot: &model.CartSnapshot{
			Lines: []model.CartLineView{
				{
					ID:        1,
					Title:     "Product A",
					Quantity:  2,
					UnitPrice: decimal.NewFromInt(10),
					Subtotal:  decimal.NewFromInt(20),
				},
			},
			UpdatedHash: "abc",
		},
	}
	h, sm := newTestHandler(svc)
	router := h.SetupRouter()

	w := httptest.NewRecorder()
	router.ServeHTTP(w, mutateRequest(t, map[string]any{
		"productId": testProductID,
		"action":    "add",
	}, sessionCookie(sm)))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d, body %s", w.Code, http.StatusOK, w.Body.String())
	}
	if svc.mutateCalls != 1 || svc.lastAction != model.ActionAdd || svc.lastQty != 1 {
		t.Fatalf("service call: calls=%d action=%s qty=%d", svc.mutateCalls, svc.lastAction, svc.lastQty)
	}

	var resp model.CartSnapshot
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp.Lines) != 1 || resp.Lines[0].Quantity != 2 {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if resp.UpdatedHash != "abc" {
		t.Fatalf("hash = %q, want abc", resp.UpdatedHash)
	}
}

func TestMutateLine_Unauthorized(t *testing.T) {
	svc := &stubService{}
	h, _ := newTestHandler(svc)
	router := h.SetupRouter()

	w := httptest.NewRecorder()
	router.ServeHTTP(w, mutateRequest(t, map[string]any{
		"productId": testProductID,
		"action":    "add",
	}, nil))

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusUnauthorized)
	}
	if svc.mutateCalls != 0 {
		t.Fatalf("service must not be called without session")
	}
}

func TestMutateLine_Validation(t *testing.T) {
	tests := []struct {
		name string
		body map[string]any
	}{
		{
			name: "bad product id",
			body: map[string]any{"productId": "not-a-uuid", "action": "add"},
		},
		{
			name: "bad action",
			body: map[string]any{"productId": testProductID, "action": "remove"},
		},
		{
			name: "bad variation id",
			body: map[string]any{"productId": testProductID, "variationId": "nope", "action": "add"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &stubService{}
			h, sm := newTestHandler(svc)
			router := h.SetupRouter()

			w := httptest.NewRecorder()
			router.ServeHTTP(w, mutateRequest(t, tt.body, sessionCookie(sm)))

			if w.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want %d", w.Code, http.StatusBadRequest)
			}
			if svc.mutateCalls != 0 {
				t.Fatalf("validation failures must not open a transaction")
			}
		})
	}
}

func TestMutateLine_ErrorMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code int
	}{
		{name: "cart not found", err: repository.ErrCartNotFound, code: http.StatusNotFound},
		{name: "line not found", err: service.ErrLineNotFound, code: http.StatusNotFound},
		{name: "product not found", err: repository.ErrProductNotFound, code: http.StatusNotFound},
		{name: "level not eligible", err: service.ErrLevelNotEligible, code: http.StatusBadRequest},
		{name: "insufficient points", err: repository.ErrInsufficientPoints, code: http.StatusBadRequest},
		{name: "negative quantity", err: service.ErrNegativeQuantity, code: http.StatusBadRequest},
		{name: "pricing not found", err: repository.ErrPricingNotFound, code: http.StatusBadRequest},
		{name: "no points price", err: repository.ErrNoPointsPrice, code: http.StatusBadRequest},
		{name: "insufficient stock", err: repository.ErrInsufficientStock, code: http.StatusBadRequest},
		{name: "shared product in pos", err: service.ErrSharedProductForbidden, code: http.StatusForbidden},
		{name: "aborted", err: service.ErrTxAborted, code: http.StatusConflict},
		{name: "unexpected", err: errors.New("boom"), code: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &stubService{mutateErr: tt.err}
			h, sm := newTestHandler(svc)
			router := h.SetupRouter()

			w := httptest.NewRecorder()
			router.ServeHTTP(w, mutateRequest(t, map[string]any{
				"productId": testProductID,
				"action":    "subtract",
			}, sessionCookie(sm)))

			if w.Code != tt.code {
				t.Fatalf("status = %d, want %d", w.Code, tt.code)
			}
		})
	}
}

func TestGetCart_OK(t *testing.T) {
	svc := &stubService{
		snapshot: &model.CartSnapshot{UpdatedHash: "h1", Lines: []model.CartLineView{}},
	}
	h, sm := newTestHandler(svc)
	router := h.SetupRouter()

	r := httptest.NewRequest(http.MethodGet, "/api/cart/1", nil)
	r.AddCookie(sessionCookie(sm))

	w := httptest.NewRecorder()
	router.ServeHTTP(w, r)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}

	var resp model.CartSnapshot
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.UpdatedHash != "h1" {
		t.Fatalf("hash = %q, want h1", resp.UpdatedHash)
	}
}

func TestStartSession(t *testing.T) {
	svc := &stubService{}
	h, _ := newTestHandler(svc)
	router := h.SetupRouter()

	body := bytes.NewBufferString(`{"clientId":7,"organizationId":"org-1","channel":"web"}`)
	r := httptest.NewRequest(http.MethodPost, "/api/session", body)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, r)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if len(w.Result().Cookies()) == 0 {
		t.Fatalf("session cookie must be set")
	}

	t.Run("bad channel", func(t *testing.T) {
		w := httptest.NewRecorder()
		r := httptest.NewRequest(http.MethodPost, "/api/session", bytes.NewBufferString(`{"clientId":7,"organizationId":"org-1","channel":"kiosk"}`))
		router.ServeHTTP(w, r)
		if w.Code != http.StatusBadRequest {
			t.Fatalf("status = %d, want %d", w.Code, http.StatusBadRequest)
		}
	})
}
