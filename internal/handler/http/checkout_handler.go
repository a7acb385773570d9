package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/gofrs/uuid"
	"github.com/rs/zerolog/log"
	"github.com/vasiliy-maslov/content-checkout/internal/auth"
	"github.com/vasiliy-maslov/content-checkout/internal/cart"
	"github.com/vasiliy-maslov/content-checkout/internal/checkout"
	"github.com/vasiliy-maslov/content-checkout/internal/money"
	"github.com/vasiliy-maslov/content-checkout/internal/ordertotal"
	"github.com/vasiliy-maslov/content-checkout/internal/selection"
)

type TotalCalculator interface {
	Breakdown(ctx context.Context, userID uuid.UUID) (checkout.Totals, error)
}

type Recalculator interface {
	Recalculate(ctx context.Context, userID uuid.UUID, couponCode string) (*checkout.Summary, error)
	Refresh(ctx context.Context, userID uuid.UUID) (*checkout.Summary, error)
}

type GateRegistry interface {
	Get(ctx context.Context, userID uuid.UUID) (*checkout.ValidationController, bool)
	Release(userID uuid.UUID)
}

type AddItemRequest struct {
	EntryID          string          `json:"entry_id" validate:"required,uuid"`
	ProductURL       string          `json:"product_url" validate:"required"`
	Quantity         int             `json:"quantity" validate:"omitempty,min=1"`
	NicheSelection   json.RawMessage `json:"niche_selected,omitempty"`
	ServiceSelection json.RawMessage `json:"service_selected,omitempty"`
}

type AddItemsRequest struct {
	Items []AddItemRequest `json:"items" validate:"required,min=1,dive"`
}

type SelectionRequest struct {
	Selection json.RawMessage `json:"selection" validate:"required"`
}

type QuantityRequest struct {
	Quantity int `json:"quantity" validate:"required,min=1"`
}

type CouponRequest struct {
	Code string `json:"code" validate:"max=64"`
}

type ItemResponse struct {
	ID               uuid.UUID       `json:"id"`
	EntryID          uuid.UUID       `json:"entry_id"`
	ProductURL       string          `json:"product_url"`
	Quantity         int             `json:"quantity"`
	Niche            *string         `json:"niche"`
	Service          *string         `json:"service"`
	NicheSelection   json.RawMessage `json:"niche_selected"`
	ServiceSelection json.RawMessage `json:"service_selected"`
	ItemTotal        float64         `json:"item_total"`
	ItemTotalLabel   string          `json:"item_total_label"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

type TotalResponse struct {
	checkout.Totals
	SubtotalLabel string `json:"subtotal_label"`
}

type SummaryResponse struct {
	Totals          checkout.Totals        `json:"totals"`
	DiscountValue   float64                `json:"discount_value"`
	CouponCode      string                 `json:"coupon_code,omitempty"`
	CouponError     string                 `json:"coupon_error,omitempty"`
	OrderTotal      *ordertotal.OrderTotal `json:"order_total"`
	FinalPriceLabel string                 `json:"final_price_label"`
}

type GateResponse struct {
	Status     checkout.Status           `json:"status"`
	IsValid    bool                      `json:"is_valid"`
	CanProceed bool                      `json:"can_proceed"`
	Result     checkout.ValidationResult `json:"result"`
	Error      string                    `json:"error,omitempty"`
	UpdatedAt  time.Time                 `json:"updated_at"`
}

type CheckoutHandler struct {
	cart     cart.Service
	totals   TotalCalculator
	pipeline Recalculator
	orders   ordertotal.Service
	gates    GateRegistry
	users    auth.Provider
	opts     checkout.ValidationOptions
	validate *validator.Validate
}

type Deps struct {
	Cart       cart.Service
	Totals     TotalCalculator
	Pipeline   Recalculator
	Orders     ordertotal.Service
	Gates      GateRegistry
	Users      auth.Provider
	Validation checkout.ValidationOptions
}

func NewCheckoutHandler(deps Deps) *CheckoutHandler {
	users := deps.Users
	if users == nil {
		users = auth.NewProvider()
	}
	return &CheckoutHandler{
		cart:     deps.Cart,
		totals:   deps.Totals,
		pipeline: deps.Pipeline,
		orders:   deps.Orders,
		gates:    deps.Gates,
		users:    users,
		opts:     deps.Validation,
		validate: validator.New(),
	}
}

func (h *CheckoutHandler) RegisterRoutes(router chi.Router) {
	router.Route("/checkout", func(r chi.Router) {
		r.Get("/items", h.handleListItems)
		r.Post("/items", h.handleAddItems)
		r.Post("/items/reload", h.handleReload)
		r.Delete("/items/{id}", h.handleRemoveItem)
		r.Patch("/items/{id}/niche", h.handleSetNiche)
		r.Patch("/items/{id}/service", h.handleSetService)
		r.Patch("/items/{id}/quantity", h.handleSetQuantity)

		r.Get("/total", h.handleGetTotal)
		r.Post("/coupon", h.handleApplyCoupon)
		r.Get("/order-total", h.handleGetOrderTotal)
		r.Post("/order-total", h.handleRefreshOrderTotal)

		r.Get("/validation", h.handleValidate)
		r.Get("/gate", h.handleGate)
		r.Delete("/gate", h.handleReleaseGate)
	})
}

func (h *CheckoutHandler) currentUser(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	u, err := h.users.CurrentUser(r.Context())
	if err != nil {
		respondWithError(w, http.StatusUnauthorized, "Authentication required")
		return uuid.Nil, false
	}
	return u.ID, true
}

// decodeAndValidate writes the error response itself and reports whether the
// handler may continue.
func (h *CheckoutHandler) decodeAndValidate(w http.ResponseWriter, r *http.Request, dst any) bool {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()

	if err := decoder.Decode(dst); err != nil {
		log.Warn().Err(err).Msg("Failed to decode request body")
		respondWithError(w, http.StatusBadRequest, fmt.Sprintf("Invalid request payload %v", err))
		return false
	}

	if err := h.validate.Struct(dst); err != nil {
		var validationErrors validator.ValidationErrors
		if errors.As(err, &validationErrors) {
			respondWithJSON(w, http.StatusBadRequest, ValidationErrorResponse{
				Error:   "Validation failed",
				Details: formatValidationErrors(validationErrors),
			})
		} else {
			log.Error().Err(err).Type("validation_error_type", err).Msg("Unexpected error type during validation")
			respondWithError(w, http.StatusInternalServerError, "Internal validation error")
		}
		return false
	}
	return true
}

func itemIDParam(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	idParam := chi.URLParam(r, "id")
	itemID, err := uuid.FromString(idParam)
	if err != nil {
		log.Warn().Err(err).Str("item_id", idParam).Msg("Failed to parse id parameter from URL")
		respondWithError(w, http.StatusBadRequest, "Invalid id parameter")
		return uuid.Nil, false
	}
	return itemID, true
}

func toItemResponse(item cart.LineItem) ItemResponse {
	resp := ItemResponse{
		ID:               item.ID,
		EntryID:          item.EntryID,
		ProductURL:       item.ProductURL,
		Quantity:         item.Quantity,
		NicheSelection:   item.NicheSelection,
		ServiceSelection: item.ServiceSelection,
		UpdatedAt:        item.UpdatedAt,
	}
	if niche, ok := selection.ExtractNiche(item.NicheSelection); ok {
		resp.Niche = &niche
	}
	if service, ok := selection.ExtractService(item.ServiceSelection); ok {
		resp.Service = &service
	}
	if item.ItemTotal != nil {
		resp.ItemTotal = *item.ItemTotal
	}
	resp.ItemTotalLabel = money.FormatPrice(resp.ItemTotal)
	return resp
}

func toItemResponses(items []cart.LineItem) []ItemResponse {
	out := make([]ItemResponse, 0, len(items))
	for _, item := range items {
		out = append(out, toItemResponse(item))
	}
	return out
}

func toSummaryResponse(s *checkout.Summary) SummaryResponse {
	resp := SummaryResponse{
		Totals:        s.Totals,
		DiscountValue: s.Coupon.DiscountValue,
		CouponError:   s.Coupon.Error,
		OrderTotal:    s.OrderTotal,
	}
	if s.Coupon.AppliedCoupon != nil {
		resp.CouponCode = s.Coupon.AppliedCoupon.Code
	}
	if s.OrderTotal != nil {
		resp.FinalPriceLabel = money.FormatPrice(s.OrderTotal.TotalFinalPrice)
	}
	return resp
}

func (h *CheckoutHandler) handleListItems(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.currentUser(w, r)
	if !ok {
		return
	}

	items, err := h.cart.ListItems(r.Context(), userID)
	if err != nil {
		log.Error().Err(err).Stringer("user_id", userID).Msg("Failed to list cart items via service")
		respondWithError(w, mapErrorToStatusCode(err), clientMessage(err, "Failed to load cart"))
		return
	}

	respondWithJSON(w, http.StatusOK, toItemResponses(items))
}

func (h *CheckoutHandler) handleAddItems(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.currentUser(w, r)
	if !ok {
		return
	}

	var requestPayload AddItemsRequest
	if !h.decodeAndValidate(w, r, &requestPayload) {
		return
	}

	newItems := make([]cart.NewItem, 0, len(requestPayload.Items))
	for _, it := range requestPayload.Items {
		newItems = append(newItems, cart.NewItem{
			EntryID:          uuid.FromStringOrNil(it.EntryID),
			ProductURL:       it.ProductURL,
			Quantity:         it.Quantity,
			NicheSelection:   it.NicheSelection,
			ServiceSelection: it.ServiceSelection,
		})
	}

	items, err := h.cart.AddItems(r.Context(), userID, newItems)
	if err != nil {
		log.Error().Err(err).Stringer("user_id", userID).Msg("Failed to add cart items via service")
		respondWithError(w, mapErrorToStatusCode(err), clientMessage(err, "Failed to add items"))
		return
	}

	respondWithJSON(w, http.StatusCreated, toItemResponses(items))
}

func (h *CheckoutHandler) handleReload(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.currentUser(w, r)
	if !ok {
		return
	}

	items, err := h.cart.Reload(r.Context(), userID)
	if err != nil {
		log.Error().Err(err).Stringer("user_id", userID).Msg("Failed to reload cart via service")
		respondWithError(w, mapErrorToStatusCode(err), clientMessage(err, "Failed to load cart"))
		return
	}

	respondWithJSON(w, http.StatusOK, toItemResponses(items))
}

func (h *CheckoutHandler) handleRemoveItem(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.currentUser(w, r)
	if !ok {
		return
	}
	itemID, ok := itemIDParam(w, r)
	if !ok {
		return
	}

	if err := h.cart.RemoveItem(r.Context(), userID, itemID); err != nil {
		log.Error().Err(err).Stringer("item_id", itemID).Msg("Failed to remove cart item via service")
		respondWithError(w, mapErrorToStatusCode(err), clientMessage(err, "Failed to remove item"))
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *CheckoutHandler) handleSetNiche(w http.ResponseWriter, r *http.Request) {
	h.handleSelection(w, r, h.cart.SetNiche, "niche")
}

func (h *CheckoutHandler) handleSetService(w http.ResponseWriter, r *http.Request) {
	h.handleSelection(w, r, h.cart.SetService, "service")
}

type selectionSetter func(ctx context.Context, userID, itemID uuid.UUID, raw json.RawMessage) (*cart.LineItem, error)

func (h *CheckoutHandler) handleSelection(w http.ResponseWriter, r *http.Request, set selectionSetter, field string) {
	userID, ok := h.currentUser(w, r)
	if !ok {
		return
	}
	itemID, ok := itemIDParam(w, r)
	if !ok {
		return
	}

	var requestPayload SelectionRequest
	if !h.decodeAndValidate(w, r, &requestPayload) {
		return
	}

	updated, err := set(r.Context(), userID, itemID, requestPayload.Selection)
	if err != nil {
		log.Error().Err(err).Stringer("item_id", itemID).Str("field", field).Msg("Failed to update selection via service")
		respondWithError(w, mapErrorToStatusCode(err), clientMessage(err, "Failed to update "+field))
		return
	}

	respondWithJSON(w, http.StatusOK, toItemResponse(*updated))
}

func (h *CheckoutHandler) handleSetQuantity(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.currentUser(w, r)
	if !ok {
		return
	}
	itemID, ok := itemIDParam(w, r)
	if !ok {
		return
	}

	var requestPayload QuantityRequest
	if !h.decodeAndValidate(w, r, &requestPayload) {
		return
	}

	updated, err := h.cart.SetQuantity(r.Context(), userID, itemID, requestPayload.Quantity)
	if err != nil {
		log.Error().Err(err).Stringer("item_id", itemID).Msg("Failed to update quantity via service")
		respondWithError(w, mapErrorToStatusCode(err), clientMessage(err, "Failed to update quantity"))
		return
	}

	respondWithJSON(w, http.StatusOK, toItemResponse(*updated))
}

func (h *CheckoutHandler) handleGetTotal(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.currentUser(w, r)
	if !ok {
		return
	}

	totals, err := h.totals.Breakdown(r.Context(), userID)
	if err != nil {
		log.Error().Err(err).Stringer("user_id", userID).Msg("Failed to compute checkout total")
		respondWithError(w, mapErrorToStatusCode(err), clientMessage(err, "Failed to compute total"))
		return
	}

	respondWithJSON(w, http.StatusOK, TotalResponse{Totals: totals, SubtotalLabel: money.FormatPrice(totals.Subtotal)})
}

func (h *CheckoutHandler) handleApplyCoupon(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.currentUser(w, r)
	if !ok {
		return
	}

	var requestPayload CouponRequest
	if !h.decodeAndValidate(w, r, &requestPayload) {
		return
	}

	summary, err := h.pipeline.Recalculate(r.Context(), userID, requestPayload.Code)
	if err != nil {
		log.Error().Err(err).Stringer("user_id", userID).Msg("Failed to apply coupon")
		respondWithError(w, mapErrorToStatusCode(err), clientMessage(err, "Failed to apply coupon"))
		return
	}

	respondWithJSON(w, http.StatusOK, toSummaryResponse(summary))
}

func (h *CheckoutHandler) handleGetOrderTotal(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.currentUser(w, r)
	if !ok {
		return
	}

	current, err := h.orders.GetLatest(r.Context(), userID)
	if err != nil {
		if errors.Is(err, ordertotal.ErrOrderTotalNotFound) {
			respondWithError(w, http.StatusNotFound, "Order total not found")
			return
		}
		log.Error().Err(err).Stringer("user_id", userID).Msg("Failed to get order total via service")
		respondWithError(w, mapErrorToStatusCode(err), clientMessage(err, "Failed to load order total"))
		return
	}

	respondWithJSON(w, http.StatusOK, current)
}

func (h *CheckoutHandler) handleRefreshOrderTotal(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.currentUser(w, r)
	if !ok {
		return
	}

	summary, err := h.pipeline.Refresh(r.Context(), userID)
	if err != nil {
		log.Error().Err(err).Stringer("user_id", userID).Msg("Failed to refresh order total")
		respondWithError(w, mapErrorToStatusCode(err), clientMessage(err, "Failed to save order total"))
		return
	}

	respondWithJSON(w, http.StatusOK, toSummaryResponse(summary))
}

func (h *CheckoutHandler) handleValidate(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.currentUser(w, r)
	if !ok {
		return
	}

	items, err := h.cart.ListItems(r.Context(), userID)
	if err != nil {
		log.Error().Err(err).Stringer("user_id", userID).Msg("Failed to load cart for validation")
		respondWithError(w, mapErrorToStatusCode(err), clientMessage(err, "Failed to validate cart"))
		return
	}

	respondWithJSON(w, http.StatusOK, checkout.ValidateCheckout(items, h.opts))
}

func (h *CheckoutHandler) handleGate(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.currentUser(w, r)
	if !ok {
		return
	}

	c, ok := h.gates.Get(r.Context(), userID)
	if !ok {
		respondWithError(w, http.StatusServiceUnavailable, "Checkout is shutting down, please try again")
		return
	}

	state := c.State()
	respondWithJSON(w, http.StatusOK, GateResponse{
		Status:     state.Status,
		IsValid:    state.IsValid,
		CanProceed: state.CanProceed(),
		Result:     state.Result,
		Error:      state.Error,
		UpdatedAt:  state.UpdatedAt,
	})
}

func (h *CheckoutHandler) handleReleaseGate(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.currentUser(w, r)
	if !ok {
		return
	}

	h.gates.Release(userID)
	w.WriteHeader(http.StatusNoContent)
}
