// Package login выдаёт JWT администратору по имени и паролю из конфигурации.
package login

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"
	"github.com/go-playground/validator"

	"github.com/magabrotheeeer/counsel-bot/internal/http/response"
	"github.com/magabrotheeeer/counsel-bot/internal/lib/sl"
	"github.com/magabrotheeeer/counsel-bot/internal/services/auth"
)

// Request учетные данные администратора.
type Request struct {
	Username string `json:"username" validate:"required,max=50"`
	Password string `json:"password" validate:"required"`
}

// Service вход администратора.
type Service interface {
	Login(ctx context.Context, username, password string) (string, error)
}

// Handler обработчик POST /admin/login.
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

// ServeHTTP godoc
// @Summary Вход администратора
// @Description Проверяет имя и пароль из конфигурации и выдаёт JWT для остальных методов /admin.
// @Tags Auth
// @Accept json
// @Produce json
// @Param request body Request true "Учетные данные администратора"
// @Success 200 {object} response.Response "Токен в data.token"
// @Failure 400 {object} response.Response "Некорректный JSON"
// @Failure 401 {object} response.Response "Неверные учетные данные"
// @Failure 422 {object} response.Response "Ошибка валидации"
// @Failure 503 {object} response.Response "Вход администратора отключён"
// @Router /login [post]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.admin.login"

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

	if err := h.validate.Struct(req); err != nil {
		log.Error("validation failed", sl.Err(err))
		render.Status(r, http.StatusUnprocessableEntity)
		render.JSON(w, r, response.ValidationError(err.(validator.ValidationErrors)))
		return
	}

	token, err := h.service.Login(r.Context(), req.Username, req.Password)
	switch {
	case errors.Is(err, auth.ErrDisabled):
		log.Warn("login attempt while admin api is disabled")
		render.Status(r, http.StatusServiceUnavailable)
		render.JSON(w, r, response.Error("admin api is disabled"))
		return
	case errors.Is(err, auth.ErrInvalidCredentials):
		log.Warn("invalid credentials", slog.String("username", req.Username))
		render.Status(r, http.StatusUnauthorized)
		render.JSON(w, r, response.Error("invalid credentials"))
		return
	case err != nil:
		log.Error("login failed", sl.Err(err))
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, response.Error("internal error"))
		return
	}

	log.Info("login success", slog.String("username", req.Username))
	render.JSON(w, r, response.OKWithData(map[string]any{
		"token":    token,
		"username": req.Username,
	}))
}
