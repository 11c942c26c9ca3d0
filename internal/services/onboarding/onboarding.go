// Package onboarding ведёт пользователя по анкете знакомства:
// вступление, имя, возраст, род обращения. Состояние анкеты хранится в Redis
// под ключом form:<telegram_id>; наличие ключа означает, что пользователь
// находится внутри анкеты.
package onboarding

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/go-playground/validator"

	"github.com/magabrotheeeer/counsel-bot/internal/lib/sl"
	"github.com/magabrotheeeer/counsel-bot/internal/models"
	"github.com/magabrotheeeer/counsel-bot/internal/storage/repository"
)

// Шаги анкеты.
const (
	StepIntro    = "intro"
	StepAbout    = "about"
	StepName     = "name"
	StepAge      = "age"
	StepGender   = "gender"
	maxNameRunes = 50
	minAdultAge  = 14
)

// Данные inline-кнопок анкеты.
const (
	CallbackIntro  = "intro_1_next"
	CallbackAbout  = "intro_2_next"
	CallbackFemale = "gender_female"
	CallbackMale   = "gender_male"
)

// FormTTL время жизни незавершённой анкеты.
const FormTTL = 24 * time.Hour

// Cache хранилище состояния анкеты.
type Cache interface {
	Get(ctx context.Context, key string, result any) (bool, error)
	Set(ctx context.Context, key string, value any, expiration time.Duration) error
	Invalidate(ctx context.Context, key string) error
}

// Store операции с пользователями.
type Store interface {
	GetUserByTelegramID(ctx context.Context, telegramID int64) (*models.User, error)
	CreateUser(ctx context.Context, telegramID int64, username, fullName string) (*models.User, error)
	CompleteOnboarding(ctx context.Context, telegramID int64, p models.Profile) error
}

// Button inline-кнопка ответа.
type Button struct {
	Text string
	Data string
}

// Reply сообщение пользователю, опционально с клавиатурой (по кнопке в ряд).
type Reply struct {
	Text    string
	Buttons []Button
}

// Form состояние анкеты в Redis.
type Form struct {
	Step string `json:"step"`
	Name string `json:"name,omitempty"`
	Age  int    `json:"age,omitempty"`
}

// Service анкета онбординга.
type Service struct {
	cache    Cache
	store    Store
	validate *validator.Validate
	botName  string
	log      *slog.Logger
}

// New создаёт Service.
func New(cache Cache, store Store, botName string, log *slog.Logger) *Service {
	if botName == "" {
		botName = "Маша"
	}
	return &Service{
		cache:    cache,
		store:    store,
		validate: validator.New(),
		botName:  botName,
		log:      log,
	}
}

// Key ключ анкеты пользователя в Redis.
func Key(telegramID int64) string {
	return "form:" + strconv.FormatInt(telegramID, 10)
}

// Start обрабатывает /start. Новый пользователь регистрируется и попадает в
// анкету, пользователь без завершённой анкеты проходит её заново, остальные
// получают приветствие.
func (s *Service) Start(ctx context.Context, telegramID int64, username, fullName string) ([]Reply, error) {
	const op = "onboarding.Start"
	log := s.log.With(slog.String("op", op), slog.Int64("telegram_id", telegramID))

	user, err := s.store.GetUserByTelegramID(ctx, telegramID)
	switch {
	case errors.Is(err, repository.ErrUserNotFound):
		if _, err := s.store.CreateUser(ctx, telegramID, username, fullName); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		log.Info("new user registered")
	case err != nil:
		return nil, fmt.Errorf("%s: %w", op, err)
	case user.OnboardingCompleted:
		if err := s.cache.Invalidate(ctx, Key(telegramID)); err != nil {
			log.Warn("failed to drop form", sl.Err(err))
		}
		return []Reply{{Text: welcomeBackText(user)}}, nil
	}

	if err := s.save(ctx, telegramID, Form{Step: StepIntro}); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return []Reply{{
		Text:    fmt.Sprintf("Привет! Меня зовут %s 😊 Я буду твоим виртуальным психологом и другом.", s.botName),
		Buttons: []Button{{Text: fmt.Sprintf("Привет, %s!", s.botName), Data: CallbackIntro}},
	}}, nil
}

// InForm сообщает, находится ли пользователь внутри анкеты.
// Недоступный кэш считается отсутствием анкеты.
func (s *Service) InForm(ctx context.Context, telegramID int64) bool {
	form, ok := s.load(ctx, telegramID)
	return ok && form.Step != ""
}

// HandleText обрабатывает текстовый ответ внутри анкеты.
// Второе значение false, если пользователь не в анкете.
func (s *Service) HandleText(ctx context.Context, telegramID int64, text string) ([]Reply, bool, error) {
	const op = "onboarding.HandleText"

	form, ok := s.load(ctx, telegramID)
	if !ok {
		return nil, false, nil
	}
	text = strings.TrimSpace(text)

	switch form.Step {
	case StepName:
		if text == "" || utf8.RuneCountInString(text) > maxNameRunes {
			return []Reply{{Text: "Имя слишком длинное. Попробуй еще раз."}}, true, nil
		}
		form.Name = text
		form.Step = StepAge
		if err := s.save(ctx, telegramID, form); err != nil {
			return nil, true, fmt.Errorf("%s: %w", op, err)
		}
		return []Reply{
			{Text: fmt.Sprintf("Я очень рада с тобой познакомиться, %s!", text)},
			{Text: "Скажи, пожалуйста, сколько тебе лет? Укажи цифру.\n\nЭто необходимо мне для настройки контента"},
		}, true, nil

	case StepAge:
		age, err := parseAge(text)
		if err != nil {
			return []Reply{{Text: "Пожалуйста, укажи возраст цифрами."}}, true, nil
		}
		if age < 10 || age > 100 {
			return []Reply{{Text: "Укажи, пожалуйста, реальный возраст (от 10 до 100 лет)."}}, true, nil
		}
		form.Age = age
		form.Step = StepGender
		if err := s.save(ctx, telegramID, form); err != nil {
			return nil, true, fmt.Errorf("%s: %w", op, err)
		}
		return []Reply{genderQuestion()}, true, nil

	case StepGender:
		return []Reply{genderQuestion()}, true, nil

	default:
		return []Reply{{Text: "Нажми, пожалуйста, кнопку выше, чтобы продолжить."}}, true, nil
	}
}

// HandleCallback обрабатывает нажатие кнопки анкеты.
// Второе значение false, если кнопка не относится к текущему шагу анкеты.
func (s *Service) HandleCallback(ctx context.Context, telegramID int64, data string) ([]Reply, bool, error) {
	const op = "onboarding.HandleCallback"

	form, ok := s.load(ctx, telegramID)
	if !ok {
		return nil, false, nil
	}

	switch {
	case form.Step == StepIntro && data == CallbackIntro:
		form.Step = StepAbout
		if err := s.save(ctx, telegramID, form); err != nil {
			return nil, true, fmt.Errorf("%s: %w", op, err)
		}
		return []Reply{{
			Text: "💫 Я была обучена специально для того, чтобы оказывать помощь, как настоящий психолог. " +
				"Наш диалог максимально приближен к процессу терапии. Я постараюсь услышать тебя, " +
				"понять и помочь тебе справиться с жизненным затруднением.",
			Buttons: []Button{{Text: "Здорово!", Data: CallbackAbout}},
		}}, true, nil

	case form.Step == StepAbout && data == CallbackAbout:
		form.Step = StepName
		if err := s.save(ctx, telegramID, form); err != nil {
			return nil, true, fmt.Errorf("%s: %w", op, err)
		}
		return []Reply{{Text: "Как я могу обращаться к тебе? Напиши только имя, например \"Маша\"."}}, true, nil

	case form.Step == StepGender && (data == CallbackFemale || data == CallbackMale):
		replies, err := s.complete(ctx, telegramID, form, strings.TrimPrefix(data, "gender_"))
		if err != nil {
			return nil, true, fmt.Errorf("%s: %w", op, err)
		}
		return replies, true, nil
	}
	return nil, false, nil
}

func (s *Service) complete(ctx context.Context, telegramID int64, form Form, gender string) ([]Reply, error) {
	log := s.log.With(slog.Int64("telegram_id", telegramID))

	if form.Age < minAdultAge {
		log.Info("onboarding aborted: underage")
		if err := s.cache.Invalidate(ctx, Key(telegramID)); err != nil {
			return nil, err
		}
		return []Reply{{Text: "Благодарю за честность. К сожалению, наш сервис предназначен для пользователей старше 14 лет. " +
			"Это связано с особенностями психологической поддержки, которую я оказываю.\n\n" +
			"Обязательно возвращайся, когда немного подрастешь! Всего доброго. 😊"}}, nil
	}

	profile := models.Profile{PreferredName: form.Name, Age: form.Age, Gender: gender}
	if err := s.validate.Struct(profile); err != nil {
		// анкета в Redis испорчена, начинаем заново
		log.Warn("invalid form state", sl.Err(err))
		if err := s.cache.Invalidate(ctx, Key(telegramID)); err != nil {
			return nil, err
		}
		return []Reply{{Text: "Что-то пошло не так. Напиши /start, чтобы начать заново."}}, nil
	}

	if err := s.store.CompleteOnboarding(ctx, telegramID, profile); err != nil {
		return nil, err
	}
	if err := s.cache.Invalidate(ctx, Key(telegramID)); err != nil {
		log.Warn("failed to drop completed form", sl.Err(err))
	}
	log.Info("onboarding completed")

	return []Reply{{Text: fmt.Sprintf("Спасибо, %s! Я всё записала. Теперь мы можем начать 😊\n\n"+
		"Напиши, что тебя беспокоит, и я постараюсь помочь.", form.Name)}}, nil
}

func (s *Service) load(ctx context.Context, telegramID int64) (Form, bool) {
	var form Form
	ok, err := s.cache.Get(ctx, Key(telegramID), &form)
	if err != nil {
		s.log.Warn("failed to read form", slog.Int64("telegram_id", telegramID), sl.Err(err))
		return Form{}, false
	}
	return form, ok
}

func (s *Service) save(ctx context.Context, telegramID int64, form Form) error {
	return s.cache.Set(ctx, Key(telegramID), form, FormTTL)
}

func parseAge(text string) (int, error) {
	for _, r := range text {
		if r < '0' || r > '9' {
			return 0, fmt.Errorf("not a number: %q", text)
		}
	}
	return strconv.Atoi(text)
}

func genderQuestion() Reply {
	return Reply{
		Text: "Отлично. А в каком роде я могу к тебе обращаться – в мужском или женском? 😇",
		Buttons: []Button{
			{Text: "Женский", Data: CallbackFemale},
			{Text: "Мужской", Data: CallbackMale},
		},
	}
}

func welcomeBackText(u *models.User) string {
	name := u.DisplayName()
	if name == "" {
		name = "пользователь"
	}
	return fmt.Sprintf("С возвращением, %s!\n\nКак твои дела? Что-то случилось? Опиши, что тебя беспокоит, и мы вместе найдём решение.", name)
}
