// Package api exposes the ledger over HTTP. Handlers decode, delegate to the
// services and translate the error taxonomy to status codes; no business
// rules live here.
package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"pos-ledger/internal/auth"
	"pos-ledger/internal/check"
	"pos-ledger/internal/ledger"
	"pos-ledger/internal/logger"
	"pos-ledger/internal/loyalty"
	"pos-ledger/internal/models"
	"pos-ledger/internal/notifier"
	"pos-ledger/internal/order"
	"pos-ledger/internal/payment"
	"pos-ledger/internal/pricing"
	"pos-ledger/internal/utils"

	"github.com/go-chi/chi/v5"
)

type Handler struct {
	Checks   *check.Service
	Orders   *order.Service
	Payments *payment.Service
	Loyalty  *loyalty.Service
	Issuer   *loyalty.Issuer
	Pricing  *pricing.Engine
	Emitter  *notifier.Emitter
	Logger   *logger.Logger
}

// Routes mounts every ledger endpoint on the router.
func (h *Handler) Routes(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/checks", h.OpenCheck)
		r.Get("/checks/{checkId}", h.GetCheck)
		r.Get("/checks/{checkId}/bill", h.GetBill)
		r.Get("/checks/{checkId}/events", h.GetEvents)
		r.Get("/checks/{checkId}/lines", h.GetLines)
		r.Post("/checks/{checkId}/close", h.CloseCheck)
		r.Post("/checks/{checkId}/void", h.VoidCheck)
		r.Post("/checks/{checkId}/orders", h.SubmitOrder)
		r.Post("/checks/{checkId}/adjustments", h.AddAdjustment)
		r.Post("/checks/{checkId}/payments", h.Pay)
		r.Get("/checks/{checkId}/payments", h.ListPayments)

		r.Post("/lines/{lineId}/transition", h.TransitionLine)
		r.Get("/stores/{storeId}/stations/{station}/queue", h.StationQueue)

		r.Post("/payments/{paymentId}/refund", h.Refund)
		r.Post("/payments/{paymentId}/resolve", h.ResolvePayment)

		r.Get("/stores/{storeId}/loyalty/me", h.MyLoyaltyStatus)
		r.Get("/stores/{storeId}/loyalty/{userId}", h.LoyaltyStatus)
		r.Post("/benefits/{benefitId}/redeem", h.RedeemBenefit)
		r.Get("/benefits/{benefitId}/qr", h.BenefitQR)

		r.Get("/streams/stores/{storeId}", h.StreamStore)
		r.Get("/streams/checks/{checkId}", h.StreamCheck)
	})
	r.Get("/health", h.Health)
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

// writeError maps the error taxonomy onto HTTP status codes.
func (h *Handler) writeError(w http.ResponseWriter, message string, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, ledger.ErrValidation):
		status = http.StatusBadRequest
	case errors.Is(err, ledger.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, ledger.ErrConflict):
		status = http.StatusConflict
	case errors.Is(err, ledger.ErrDependency):
		status = http.StatusBadGateway
	}
	h.writeJSON(w, status, utils.ErrorResponse(message, ledger.Kind(err), err.Error()))
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, utils.SuccessResponse("ok", nil))
}

// ---------------- CHECKS ----------------

func (h *Handler) OpenCheck(w http.ResponseWriter, r *http.Request) {
	var req models.OpenCheckRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeJSON(w, http.StatusBadRequest, utils.ErrorResponse("invalid request body", "validation", err.Error()))
		return
	}

	owner := auth.ResolveOwner(r)
	if owner.IsNone() && req.GuestPhone != "" {
		owner.GuestPhone = req.GuestPhone
	}

	chk, created, err := h.Checks.OpenOrReuse(r.Context(), &req, owner)
	if err != nil {
		h.writeError(w, "could not open check", err)
		return
	}
	status := http.StatusOK
	message := "check reused"
	if created {
		status = http.StatusCreated
		message = "check opened"
	}
	h.writeJSON(w, status, utils.SuccessResponse(message, chk))
}

func (h *Handler) GetCheck(w http.ResponseWriter, r *http.Request) {
	chk, err := h.Checks.Get(r.Context(), chi.URLParam(r, "checkId"))
	if err != nil {
		h.writeError(w, "check not found", err)
		return
	}
	h.writeJSON(w, http.StatusOK, utils.SuccessResponse("check", chk))
}

func (h *Handler) GetBill(w http.ResponseWriter, r *http.Request) {
	bill, err := h.Pricing.ComputeBill(r.Context(), chi.URLParam(r, "checkId"))
	if err != nil {
		h.writeError(w, "could not compute bill", err)
		return
	}
	h.writeJSON(w, http.StatusOK, utils.SuccessResponse("bill", bill))
}

func (h *Handler) GetEvents(w http.ResponseWriter, r *http.Request) {
	events, err := h.Checks.Events(r.Context(), chi.URLParam(r, "checkId"))
	if err != nil {
		h.writeError(w, "could not load events", err)
		return
	}
	h.writeJSON(w, http.StatusOK, utils.SuccessResponse("events", events))
}

func (h *Handler) CloseCheck(w http.ResponseWriter, r *http.Request) {
	chk, err := h.Checks.Close(r.Context(), chi.URLParam(r, "checkId"), auth.UserID(r.Context()))
	if err != nil {
		h.writeError(w, "could not close check", err)
		return
	}
	h.writeJSON(w, http.StatusOK, utils.SuccessResponse("check closed", chk))
}

func (h *Handler) VoidCheck(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Reason string `json:"reason"`
	}
	if r.Body != nil {
		json.NewDecoder(r.Body).Decode(&req)
	}

	chk, err := h.Checks.Void(r.Context(), chi.URLParam(r, "checkId"), auth.UserID(r.Context()), req.Reason)
	if err != nil {
		h.writeError(w, "could not void check", err)
		return
	}
	h.writeJSON(w, http.StatusOK, utils.SuccessResponse("check voided", chk))
}

func (h *Handler) AddAdjustment(w http.ResponseWriter, r *http.Request) {
	var req models.AdjustmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeJSON(w, http.StatusBadRequest, utils.ErrorResponse("invalid request body", "validation", err.Error()))
		return
	}

	adj, err := h.Checks.AddAdjustment(r.Context(), chi.URLParam(r, "checkId"), &req)
	if err != nil {
		h.writeError(w, "could not add adjustment", err)
		return
	}
	h.writeJSON(w, http.StatusCreated, utils.SuccessResponse("adjustment added", adj))
}

// ---------------- ORDERS & KITCHEN ----------------

func (h *Handler) SubmitOrder(w http.ResponseWriter, r *http.Request) {
	var req models.SubmitOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeJSON(w, http.StatusBadRequest, utils.ErrorResponse("invalid request body", "validation", err.Error()))
		return
	}
	if req.Actor == "" {
		req.Actor = auth.UserID(r.Context())
	}

	resp, err := h.Orders.Submit(r.Context(), chi.URLParam(r, "checkId"), &req)
	if err != nil {
		h.writeError(w, "could not submit order", err)
		return
	}
	h.writeJSON(w, http.StatusCreated, utils.SuccessResponse("order submitted", resp))
}

func (h *Handler) GetLines(w http.ResponseWriter, r *http.Request) {
	lines, err := h.Orders.Lines(r.Context(), chi.URLParam(r, "checkId"))
	if err != nil {
		h.writeError(w, "could not load lines", err)
		return
	}
	h.writeJSON(w, http.StatusOK, utils.SuccessResponse("lines", lines))
}

func (h *Handler) TransitionLine(w http.ResponseWriter, r *http.Request) {
	var req models.TransitionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeJSON(w, http.StatusBadRequest, utils.ErrorResponse("invalid request body", "validation", err.Error()))
		return
	}
	if req.Actor == "" {
		req.Actor = auth.UserID(r.Context())
	}

	line, err := h.Orders.Transition(r.Context(), chi.URLParam(r, "lineId"), &req)
	if err != nil {
		h.writeError(w, "could not transition line", err)
		return
	}
	h.writeJSON(w, http.StatusOK, utils.SuccessResponse("line transitioned", line))
}

func (h *Handler) StationQueue(w http.ResponseWriter, r *http.Request) {
	lines, err := h.Orders.StationQueue(r.Context(), chi.URLParam(r, "storeId"), chi.URLParam(r, "station"))
	if err != nil {
		h.writeError(w, "could not load station queue", err)
		return
	}
	h.writeJSON(w, http.StatusOK, utils.SuccessResponse("station queue", lines))
}

// ---------------- PAYMENTS ----------------

func (h *Handler) Pay(w http.ResponseWriter, r *http.Request) {
	var req models.PayRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeJSON(w, http.StatusBadRequest, utils.ErrorResponse("invalid request body", "validation", err.Error()))
		return
	}

	resp, err := h.Payments.Pay(r.Context(), chi.URLParam(r, "checkId"), &req)
	if err != nil {
		h.writeError(w, "could not settle payment", err)
		return
	}
	h.writeJSON(w, http.StatusCreated, utils.SuccessResponse("payment settled", resp))
}

func (h *Handler) ListPayments(w http.ResponseWriter, r *http.Request) {
	payments, err := h.Payments.Payments(r.Context(), chi.URLParam(r, "checkId"))
	if err != nil {
		h.writeError(w, "could not load payments", err)
		return
	}
	h.writeJSON(w, http.StatusOK, utils.SuccessResponse("payments", payments))
}

func (h *Handler) Refund(w http.ResponseWriter, r *http.Request) {
	var req models.RefundRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeJSON(w, http.StatusBadRequest, utils.ErrorResponse("invalid request body", "validation", err.Error()))
		return
	}

	refunded, err := h.Payments.Refund(r.Context(), chi.URLParam(r, "paymentId"), &req)
	if err != nil {
		h.writeError(w, "could not refund payment", err)
		return
	}
	h.writeJSON(w, http.StatusOK, utils.SuccessResponse("payment refunded", refunded))
}

// ResolvePayment re-queries the gateway for a payment stuck in authorized
// after a timeout and settles it if the charge went through.
func (h *Handler) ResolvePayment(w http.ResponseWriter, r *http.Request) {
	resolved, err := h.Payments.Resolve(r.Context(), chi.URLParam(r, "paymentId"))
	if err != nil {
		h.writeError(w, "could not resolve payment", err)
		return
	}
	h.writeJSON(w, http.StatusOK, utils.SuccessResponse("payment resolved", resolved))
}

// ---------------- LOYALTY ----------------

func (h *Handler) MyLoyaltyStatus(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r.Context())
	if userID == "" {
		h.writeJSON(w, http.StatusUnauthorized, utils.ErrorResponse("authentication required", "validation", "no user in request"))
		return
	}
	h.loyaltyStatus(w, r, userID)
}

func (h *Handler) LoyaltyStatus(w http.ResponseWriter, r *http.Request) {
	h.loyaltyStatus(w, r, chi.URLParam(r, "userId"))
}

func (h *Handler) loyaltyStatus(w http.ResponseWriter, r *http.Request, userID string) {
	status, err := h.Loyalty.Status(r.Context(), userID, chi.URLParam(r, "storeId"))
	if err != nil {
		h.writeError(w, "could not load loyalty status", err)
		return
	}
	h.writeJSON(w, http.StatusOK, utils.SuccessResponse("loyalty status", status))
}

func (h *Handler) RedeemBenefit(w http.ResponseWriter, r *http.Request) {
	issue, err := h.Issuer.Redeem(r.Context(), chi.URLParam(r, "benefitId"))
	if err != nil {
		h.writeError(w, "could not redeem benefit", err)
		return
	}
	h.writeJSON(w, http.StatusOK, utils.SuccessResponse("benefit redeemed", issue))
}

// BenefitQR serves the stored QR code image for a benefit.
func (h *Handler) BenefitQR(w http.ResponseWriter, r *http.Request) {
	issue, err := h.Issuer.DB.GetBenefitByID(r.Context(), chi.URLParam(r, "benefitId"))
	if err != nil {
		h.writeError(w, "benefit not found", err)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.WriteHeader(http.StatusOK)
	w.Write(issue.QRCode)
}
