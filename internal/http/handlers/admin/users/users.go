// Package users просмотр пользователя бота и его блокировка.
package users

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"

	"github.com/magabrotheeeer/counsel-bot/internal/http/middlewarectx"
	"github.com/magabrotheeeer/counsel-bot/internal/http/response"
	"github.com/magabrotheeeer/counsel-bot/internal/lib/sl"
	"github.com/magabrotheeeer/counsel-bot/internal/models"
	"github.com/magabrotheeeer/counsel-bot/internal/storage/repository"
)

// Service хранилище пользователей.
type Service interface {
	GetUserByTelegramID(ctx context.Context, telegramID int64) (*models.User, error)
	SetBanned(ctx context.Context, telegramID int64, banned bool) error
}

// User представление пользователя в ответе API.
type User struct {
	TelegramID          int64      `json:"telegram_id"`
	Username            string     `json:"username,omitempty"`
	FullName            string     `json:"full_name,omitempty"`
	PreferredName       string     `json:"preferred_name,omitempty"`
	Age                 int        `json:"age,omitempty"`
	Gender              string     `json:"gender,omitempty"`
	Status              string     `json:"status"`
	SubscriptionUntil   *time.Time `json:"subscription_until,omitempty"`
	DailyMessageCount   int        `json:"daily_message_count"`
	IsBanned            bool       `json:"is_banned"`
	OnboardingCompleted bool       `json:"onboarding_completed"`
	CreatedAt           time.Time  `json:"created_at"`
	LastActivity        *time.Time `json:"last_activity,omitempty"`
}

func toUser(u *models.User) User {
	return User{
		TelegramID:          u.TelegramID,
		Username:            u.Username,
		FullName:            u.FullName,
		PreferredName:       u.PreferredName,
		Age:                 u.Age,
		Gender:              u.Gender,
		Status:              u.Status,
		SubscriptionUntil:   u.SubscriptionUntil,
		DailyMessageCount:   u.DailyMessageCount,
		IsBanned:            u.IsBanned,
		OnboardingCompleted: u.OnboardingCompleted,
		CreatedAt:           u.CreatedAt,
		LastActivity:        u.LastActivity,
	}
}

// Handler обработчики /admin/users/{telegram_id}.
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

func (h *Handler) logger(r *http.Request, op string) *slog.Logger {
	return h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)
}

func telegramID(r *http.Request) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, "telegram_id"), 10, 64)
}

// Get godoc
// @Summary Пользователь бота
// @Tags Users
// @Produce json
// @Security BearerAuth
// @Param telegram_id path int true "Telegram ID"
// @Success 200 {object} response.Response{data=User}
// @Failure 400 {object} response.Response "Некорректный telegram_id"
// @Failure 404 {object} response.Response "Пользователь не найден"
// @Failure 500 {object} response.Response "Внутренняя ошибка сервера"
// @Router /users/{telegram_id} [get]
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	log := h.logger(r, "handlers.admin.users.Get")

	id, err := telegramID(r)
	if err != nil {
		log.Error("failed to decode telegram_id from url", sl.Err(err))
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, response.Error("invalid telegram_id"))
		return
	}

	u, err := h.service.GetUserByTelegramID(r.Context(), id)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			render.Status(r, http.StatusNotFound)
			render.JSON(w, r, response.Error("user not found"))
			return
		}
		log.Error("failed to get user", sl.Err(err))
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, response.Error("could not get user"))
		return
	}
	render.JSON(w, r, response.OKWithData(toUser(u)))
}

// Ban godoc
// @Summary Заблокировать пользователя
// @Tags Users
// @Produce json
// @Security BearerAuth
// @Param telegram_id path int true "Telegram ID"
// @Success 200 {object} response.Response
// @Failure 400 {object} response.Response "Некорректный telegram_id"
// @Failure 404 {object} response.Response "Пользователь не найден"
// @Failure 500 {object} response.Response "Внутренняя ошибка сервера"
// @Router /users/{telegram_id}/ban [post]
func (h *Handler) Ban(w http.ResponseWriter, r *http.Request) {
	h.setBanned(w, r, true)
}

// Unban godoc
// @Summary Разблокировать пользователя
// @Tags Users
// @Produce json
// @Security BearerAuth
// @Param telegram_id path int true "Telegram ID"
// @Success 200 {object} response.Response
// @Failure 400 {object} response.Response "Некорректный telegram_id"
// @Failure 404 {object} response.Response "Пользователь не найден"
// @Failure 500 {object} response.Response "Внутренняя ошибка сервера"
// @Router /users/{telegram_id}/unban [post]
func (h *Handler) Unban(w http.ResponseWriter, r *http.Request) {
	h.setBanned(w, r, false)
}

func (h *Handler) setBanned(w http.ResponseWriter, r *http.Request, banned bool) {
	log := h.logger(r, "handlers.admin.users.SetBanned")

	id, err := telegramID(r)
	if err != nil {
		log.Error("failed to decode telegram_id from url", sl.Err(err))
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, response.Error("invalid telegram_id"))
		return
	}

	if err := h.service.SetBanned(r.Context(), id, banned); err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			render.Status(r, http.StatusNotFound)
			render.JSON(w, r, response.Error("user not found"))
			return
		}
		log.Error("failed to update user", sl.Err(err))
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, response.Error("could not update user"))
		return
	}

	admin, _ := r.Context().Value(middlewarectx.Admin).(string)
	log.Info("ban flag changed",
		slog.Int64("telegram_id", id),
		slog.Bool("banned", banned),
		slog.String("admin", admin),
	)
	render.JSON(w, r, response.OKWithData(map[string]any{"telegram_id": id, "is_banned": banned}))
}
