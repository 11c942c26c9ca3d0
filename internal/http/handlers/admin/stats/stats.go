// Package stats сводка по пользователям и сообщениям для админки.
package stats

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"

	"github.com/magabrotheeeer/counsel-bot/internal/http/response"
	"github.com/magabrotheeeer/counsel-bot/internal/lib/sl"
	"github.com/magabrotheeeer/counsel-bot/internal/models"
)

// Service источник агрегатов.
type Service interface {
	Stats(ctx context.Context) (*models.Stats, error)
}

// Handler обработчик GET /admin/stats.
type Handler struct {
	log     *slog.Logger
	service Service
}

// New создаёт Handler.
func New(log *slog.Logger, service Service) *Handler {
	return &Handler{
		log:     log,
		service: service,
	}
}

// ServeHTTP godoc
// @Summary Статистика бота
// @Description Число пользователей по статусам, заблокированных и прошедших онбординг, объём журнала сообщений.
// @Tags Admin
// @Produce json
// @Security BearerAuth
// @Success 200 {object} response.Response{data=models.Stats}
// @Failure 401 {object} response.Response "Нет или неверный токен"
// @Failure 500 {object} response.Response "Внутренняя ошибка сервера"
// @Router /stats [get]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.admin.stats"

	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	st, err := h.service.Stats(r.Context())
	if err != nil {
		log.Error("failed to collect stats", sl.Err(err))
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, response.Error("could not collect stats"))
		return
	}
	render.JSON(w, r, response.OKWithData(st))
}
