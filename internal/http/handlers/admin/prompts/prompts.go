// Package prompts управляет системными промптами: история версий,
// текущий активный промпт и публикация новой версии.
package prompts

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"
	"github.com/go-playground/validator"

	"github.com/magabrotheeeer/counsel-bot/internal/http/middlewarectx"
	"github.com/magabrotheeeer/counsel-bot/internal/http/response"
	"github.com/magabrotheeeer/counsel-bot/internal/lib/sl"
	"github.com/magabrotheeeer/counsel-bot/internal/models"
	"github.com/magabrotheeeer/counsel-bot/internal/storage/repository"
)

const (
	defaultLimit = 20
	maxLimit     = 100
)

// Service хранилище промптов.
type Service interface {
	GetActivePrompt(ctx context.Context) (*models.Prompt, error)
	SetActivePrompt(ctx context.Context, text string) (*models.Prompt, error)
	ListPrompts(ctx context.Context, limit, offset int) ([]*models.Prompt, error)
	RestorePrompt(ctx context.Context, id int64) (*models.Prompt, error)
}

// Request новая версия промпта.
type Request struct {
	Text string `json:"text" validate:"required,max=20000"`
}

// Handler обработчики /admin/prompts.
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

func (h *Handler) logger(r *http.Request, op string) *slog.Logger {
	return h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)
}

// List godoc
// @Summary История промптов
// @Tags Prompts
// @Produce json
// @Security BearerAuth
// @Param limit query int false "Размер страницы (по умолчанию 20, не больше 100)"
// @Param offset query int false "Смещение"
// @Success 200 {object} response.Response{data=[]models.Prompt}
// @Failure 400 {object} response.Response "Некорректные limit или offset"
// @Failure 500 {object} response.Response "Внутренняя ошибка сервера"
// @Router /prompts [get]
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	log := h.logger(r, "handlers.admin.prompts.List")

	limit, offset, err := paging(r)
	if err != nil {
		log.Error("invalid paging", sl.Err(err))
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, response.Error("invalid limit or offset"))
		return
	}

	list, err := h.service.ListPrompts(r.Context(), limit, offset)
	if err != nil {
		log.Error("failed to list prompts", sl.Err(err))
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, response.Error("could not list prompts"))
		return
	}
	if list == nil {
		list = []*models.Prompt{}
	}
	render.JSON(w, r, response.OKWithData(list))
}

// Active godoc
// @Summary Активный промпт
// @Tags Prompts
// @Produce json
// @Security BearerAuth
// @Success 200 {object} response.Response{data=models.Prompt}
// @Failure 404 {object} response.Response "Активного промпта нет"
// @Failure 500 {object} response.Response "Внутренняя ошибка сервера"
// @Router /prompts/active [get]
func (h *Handler) Active(w http.ResponseWriter, r *http.Request) {
	log := h.logger(r, "handlers.admin.prompts.Active")

	p, err := h.service.GetActivePrompt(r.Context())
	if err != nil {
		if errors.Is(err, repository.ErrPromptNotFound) {
			render.Status(r, http.StatusNotFound)
			render.JSON(w, r, response.Error("no active prompt"))
			return
		}
		log.Error("failed to get active prompt", sl.Err(err))
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, response.Error("could not get active prompt"))
		return
	}
	render.JSON(w, r, response.OKWithData(p))
}

// Create godoc
// @Summary Новая версия промпта
// @Description Новая версия сразу становится активной, прежние остаются в истории.
// @Tags Prompts
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body Request true "Текст промпта"
// @Success 201 {object} response.Response{data=models.Prompt}
// @Failure 400 {object} response.Response "Некорректный JSON"
// @Failure 422 {object} response.Response "Ошибка валидации"
// @Failure 500 {object} response.Response "Внутренняя ошибка сервера"
// @Router /prompts [post]
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	log := h.logger(r, "handlers.admin.prompts.Create")

	var req Request
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		log.Error("failed to decode request body", sl.Err(err))
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, response.Error("invalid request body"))
		return
	}
	if err := h.validate.Struct(req); err != nil {
		log.Error("validation failed", sl.Err(err))
		render.Status(r, http.StatusUnprocessableEntity)
		render.JSON(w, r, response.ValidationError(err.(validator.ValidationErrors)))
		return
	}

	p, err := h.service.SetActivePrompt(r.Context(), req.Text)
	if err != nil {
		log.Error("failed to set prompt", sl.Err(err))
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, response.Error("could not set prompt"))
		return
	}

	admin, _ := r.Context().Value(middlewarectx.Admin).(string)
	log.Info("prompt activated", slog.Int64("prompt_id", p.ID), slog.String("admin", admin))
	render.Status(r, http.StatusCreated)
	render.JSON(w, r, response.OKWithData(p))
}

// Restore godoc
// @Summary Откат к прежней версии промпта
// @Description Делает версию с указанным ID активной, остальные деактивируются в той же транзакции.
// @Tags Prompts
// @Produce json
// @Security BearerAuth
// @Param id path int true "ID версии промпта"
// @Success 200 {object} response.Response{data=models.Prompt}
// @Failure 400 {object} response.Response "Некорректный ID"
// @Failure 404 {object} response.Response "Версия не найдена"
// @Failure 500 {object} response.Response "Внутренняя ошибка сервера"
// @Router /prompts/{id}/restore [post]
func (h *Handler) Restore(w http.ResponseWriter, r *http.Request) {
	log := h.logger(r, "handlers.admin.prompts.Restore")

	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		log.Error("invalid prompt id", slog.String("id", chi.URLParam(r, "id")))
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, response.Error("invalid prompt id"))
		return
	}

	p, err := h.service.RestorePrompt(r.Context(), id)
	if err != nil {
		if errors.Is(err, repository.ErrPromptNotFound) {
			render.Status(r, http.StatusNotFound)
			render.JSON(w, r, response.Error("prompt not found"))
			return
		}
		log.Error("failed to restore prompt", sl.Err(err))
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, response.Error("could not restore prompt"))
		return
	}

	admin, _ := r.Context().Value(middlewarectx.Admin).(string)
	log.Info("prompt restored", slog.Int64("prompt_id", p.ID), slog.String("admin", admin))
	render.JSON(w, r, response.OKWithData(p))
}

func paging(r *http.Request) (int, int, error) {
	limit, offset := defaultLimit, 0
	q := r.URL.Query()
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return 0, 0, errors.New("bad limit")
		}
		limit = min(n, maxLimit)
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return 0, 0, errors.New("bad offset")
		}
		offset = n
	}
	return limit, offset, nil
}
