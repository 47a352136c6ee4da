// Package handler содержит HTTP-обработчики API движка корзины.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/mmeshcher/cartengine-system/internal/middleware"
	"github.com/mmeshcher/cartengine-system/internal/model"
	"github.com/mmeshcher/cartengine-system/internal/repository"
	"github.com/mmeshcher/cartengine-system/internal/service"
	"github.com/mmeshcher/cartengine-system/internal/validation"
)

// Service определяет контракт бизнес-логики, используемой HTTP-обработчиками.
type Service interface {
	EnsureCart(ctx context.Context, clientID int64, orgID string, channel model.Channel) (*model.Cart, error)
	GetCartSnapshot(ctx context.Context, cartID int64, orgID string) (*model.CartSnapshot, error)
	MutateCartLine(ctx context.Context, cartID int64, orgID, productID, variationID string, action model.Action, qty int) (*model.CartSnapshot, error)
}

// Handler реализует HTTP-обработчики API движка корзины.
type Handler struct {
	service           Service
	logger            *zap.Logger
	sessionMiddleware *middleware.SessionMiddleware
}

// NewHandler создаёт новый экземпляр обработчика HTTP-запросов.
func NewHandler(s Service, logger *zap.Logger, session *middleware.SessionMiddleware) *Handler {
	return &Handler{
		service:           s,
		logger:            logger,
		sessionMiddleware: session,
	}
}

type sessionRequest struct {
	ClientID       int64  `json:"clientId"`
	OrganizationID string `json:"organizationId"`
	Channel        string `json:"channel"`
}

// StartSession выпускает подписанный cookie сессии для доверенного вызова.
func (h *Handler) StartSession(w http.ResponseWriter, r *http.Request) {
	var req sessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if req.ClientID <= 0 || req.OrganizationID == "" || !validation.IsValidChannel(req.Channel) {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	h.sessionMiddleware.SetSessionCookie(w, middleware.Session{
		ClientID:       req.ClientID,
		OrganizationID: req.OrganizationID,
		Channel:        model.Channel(req.Channel),
	})
	w.WriteHeader(http.StatusOK)
}

type cartResponse struct {
	ID          int64  `json:"id"`
	UpdatedHash string `json:"cartUpdatedHash"`
}

// EnsureCart возвращает корзину клиента сессии, создавая её при первом обращении.
func (h *Handler) EnsureCart(w http.ResponseWriter, r *http.Request) {
	session, ok := middleware.GetSessionFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	cart, err := h.service.EnsureCart(r.Context(), session.ClientID, session.OrganizationID, session.Channel)
	if err != nil {
		h.writeServiceError(w, err, zap.Int64("clientID", session.ClientID))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(cartResponse{ID: cart.ID, UpdatedHash: cart.UpdatedHash}); err != nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
}

// GetCart возвращает снимок корзины без изменения её отпечатка.
func (h *Handler) GetCart(w http.ResponseWriter, r *http.Request) {
	session, ok := middleware.GetSessionFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	cartID, err := strconv.ParseInt(chi.URLParam(r, "cartID"), 10, 64)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	snapshot, err := h.service.GetCartSnapshot(r.Context(), cartID, session.OrganizationID)
	if err != nil {
		h.writeServiceError(w, err, zap.Int64("cartID", cartID))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(snapshot); err != nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
}

type mutateLineRequest struct {
	ProductID   string `json:"productId"`
	VariationID string `json:"variationId"`
	Action      string `json:"action"`
	Quantity    int    `json:"quantity"`
}

// MutateLine применяет add/subtract к позиции корзины и возвращает её новое состояние.
func (h *Handler) MutateLine(w http.ResponseWriter, r *http.Request) {
	session, ok := middleware.GetSessionFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	cartID, err := strconv.ParseInt(chi.URLParam(r, "cartID"), 10, 64)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	var req mutateLineRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if !validation.IsValidItemID(req.ProductID) || !validation.IsValidAction(req.Action) {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	if req.VariationID != "" && !validation.IsValidItemID(req.VariationID) {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	if req.Quantity == 0 {
		req.Quantity = 1
	}

	snapshot, err := h.service.MutateCartLine(r.Context(), cartID, session.OrganizationID, req.ProductID, req.VariationID, model.Action(req.Action), req.Quantity)
	if err != nil {
		h.writeServiceError(w, err,
			zap.Int64("cartID", cartID),
			zap.String("productID", req.ProductID),
			zap.String("action", req.Action),
		)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(snapshot); err != nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
}

// writeServiceError переводит ошибки бизнес-логики в HTTP-статусы.
// Бизнес-ошибки отдаются с текстом как есть; внутренние детали наружу не уходят.
func (h *Handler) writeServiceError(w http.ResponseWriter, err error, fields ...zap.Field) {
	switch {
	case errors.Is(err, repository.ErrCartNotFound),
		errors.Is(err, repository.ErrClientNotFound),
		errors.Is(err, repository.ErrProductNotFound),
		errors.Is(err, service.ErrLineNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, service.ErrSharedProductForbidden):
		http.Error(w, err.Error(), http.StatusForbidden)
	case errors.Is(err, service.ErrLevelNotEligible),
		errors.Is(err, service.ErrNegativeQuantity),
		errors.Is(err, service.ErrBadQuantity),
		errors.Is(err, repository.ErrInsufficientPoints),
		errors.Is(err, repository.ErrInsufficientStock),
		errors.Is(err, repository.ErrPricingNotFound),
		errors.Is(err, repository.ErrNoPointsPrice):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, service.ErrTxAborted):
		http.Error(w, err.Error(), http.StatusConflict)
	default:
		h.logger.Error("cart mutation error", append(fields, zap.Error(err))...)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	}
}
