// Package paymentwebhook принимает postback CryptoCloud об оплате счёта.
//
// Содержимому postback не доверяем: по invoice_id статус счёта повторно
// запрашивается у CryptoCloud, и только оплаченный счёт подтверждается.
package paymentwebhook

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"
	"github.com/go-playground/validator"

	"github.com/magabrotheeeer/counsel-bot/internal/http/response"
	"github.com/magabrotheeeer/counsel-bot/internal/lib/sl"
	"github.com/magabrotheeeer/counsel-bot/internal/services/payment"
)

// Service подтверждение счёта CryptoCloud.
type Service interface {
	ConfirmCryptoInvoice(ctx context.Context, invoiceID string) (bool, error)
}

// Payload тело postback. CryptoCloud присылает форму или JSON.
type Payload struct {
	Status    string `json:"status" form:"status"`
	InvoiceID string `json:"invoice_id" form:"invoice_id" validate:"required"`
	OrderID   string `json:"order_id" form:"order_id"`
	Currency  string `json:"currency" form:"currency"`
}

// Handler обработчик postback.
type Handler struct {
	log      *slog.Logger
	service  Service
	validate *validator.Validate
}

// New создаёт Handler.
func New(log *slog.Logger, service Service) *Handler {
	return &Handler{
		log:      log,
		service:  service,
		validate: validator.New(),
	}
}

// invoiceUUID приводит invoice_id из postback к виду uuid счёта в API (INV-XXXXXXXX).
func invoiceUUID(id string) string {
	id = strings.TrimSpace(id)
	if strings.HasPrefix(id, "INV-") {
		return id
	}
	return "INV-" + id
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.payment.webhook"
	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	var payload Payload
	if err := render.Decode(r, &payload); err != nil {
		log.Error("failed to decode postback", sl.Err(err))
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, response.Error("invalid request body"))
		return
	}
	if err := h.validate.Struct(payload); err != nil {
		log.Error("validation failed", sl.Err(err))
		render.Status(r, http.StatusUnprocessableEntity)
		render.JSON(w, r, response.ValidationError(err.(validator.ValidationErrors)))
		return
	}

	invoiceID := invoiceUUID(payload.InvoiceID)
	log = log.With(slog.String("invoice_id", invoiceID), slog.String("status", payload.Status))

	activated, err := h.service.ConfirmCryptoInvoice(r.Context(), invoiceID)
	if errors.Is(err, payment.ErrUnknownPayment) {
		log.Error("postback for unknown invoice", sl.Err(err))
		render.Status(r, http.StatusNotFound)
		render.JSON(w, r, response.Error("unknown invoice"))
		return
	}
	if err != nil {
		// счёт останется pending и будет подтверждён опросом
		log.Error("failed to confirm invoice", sl.Err(err))
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, response.Error("could not confirm invoice"))
		return
	}

	log.Info("postback processed", slog.Bool("activated", activated))
	render.JSON(w, r, response.OKWithData(map[string]any{"activated": activated}))
}
