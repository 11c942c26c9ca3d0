// Package prices читает и меняет цены подписки в таблице prices.
// Цена хранится в целых единицах валюты; в счёт Telegram она уходит умноженной на 100.
package prices

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"
	"github.com/go-playground/validator"

	"github.com/magabrotheeeer/counsel-bot/internal/http/middlewarectx"
	"github.com/magabrotheeeer/counsel-bot/internal/http/response"
	"github.com/magabrotheeeer/counsel-bot/internal/lib/sl"
	"github.com/magabrotheeeer/counsel-bot/internal/storage/repository"
)

// Service хранилище цен.
type Service interface {
	GetPrice(ctx context.Context, name string) (int64, error)
	SetPrice(ctx context.Context, name string, value int64) error
}

// Request новое значение цены.
type Request struct {
	Name  string `validate:"oneof=premium_month"`
	Value int64  `json:"value" validate:"gte=1,lte=1000000"`
}

// Handler обработчики /admin/prices/{name}.
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

// Get godoc
// @Summary Текущая цена
// @Tags Prices
// @Produce json
// @Security BearerAuth
// @Param name path string true "Имя цены" Enums(premium_month)
// @Success 200 {object} response.Response "data.name и data.value"
// @Failure 404 {object} response.Response "Цена не задана"
// @Failure 500 {object} response.Response "Внутренняя ошибка сервера"
// @Router /prices/{name} [get]
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.admin.prices.Get"
	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	name := chi.URLParam(r, "name")
	value, err := h.service.GetPrice(r.Context(), name)
	if err != nil {
		if errors.Is(err, repository.ErrPriceNotFound) {
			render.Status(r, http.StatusNotFound)
			render.JSON(w, r, response.Error("price not set"))
			return
		}
		log.Error("failed to get price", sl.Err(err))
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, response.Error("could not get price"))
		return
	}
	render.JSON(w, r, response.OKWithData(map[string]any{"name": name, "value": value}))
}

// Set godoc
// @Summary Изменить цену
// @Description Значение в целых единицах валюты. Действует для следующих счетов.
// @Tags Prices
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param name path string true "Имя цены" Enums(premium_month)
// @Param request body Request true "Новое значение"
// @Success 200 {object} response.Response
// @Failure 400 {object} response.Response "Некорректный JSON"
// @Failure 422 {object} response.Response "Ошибка валидации"
// @Failure 500 {object} response.Response "Внутренняя ошибка сервера"
// @Router /prices/{name} [put]
func (h *Handler) Set(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.admin.prices.Set"
	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	var req Request
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		log.Error("failed to decode request body", sl.Err(err))
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, response.Error("invalid request body"))
		return
	}
	req.Name = chi.URLParam(r, "name")

	if err := h.validate.Struct(req); err != nil {
		log.Error("validation failed", sl.Err(err))
		render.Status(r, http.StatusUnprocessableEntity)
		render.JSON(w, r, response.ValidationError(err.(validator.ValidationErrors)))
		return
	}

	if err := h.service.SetPrice(r.Context(), req.Name, req.Value); err != nil {
		log.Error("failed to set price", sl.Err(err))
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, response.Error("could not set price"))
		return
	}

	admin, _ := r.Context().Value(middlewarectx.Admin).(string)
	log.Info("price updated",
		slog.String("name", req.Name),
		slog.Int64("value", req.Value),
		slog.String("admin", admin),
	)
	render.JSON(w, r, response.OKWithData(map[string]any{"name": req.Name, "value": req.Value}))
}
