package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	chi "github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"minitwitter/internal/domain"
	httpinfra "minitwitter/internal/infra/http"
)

// PostsService описывает операции над постами, доступные через HTTP.
type PostsService interface {
	Create(ctx context.Context, userID int64, text string) (domain.Post, error)
	Update(ctx context.Context, userID, postID int64, text string) (domain.Post, error)
	Delete(ctx context.Context, userID, postID int64) error
	Feed(ctx context.Context, userFilter *int64) ([]domain.Post, error)
	Reprocess(ctx context.Context, actor domain.User, postID int64) error
}

// UsersService описывает администрирование пользователей.
type UsersService interface {
	List(ctx context.Context, actor domain.User) ([]domain.User, error)
	Delete(ctx context.Context, actor domain.User, userID int64) error
}

// Handler обслуживает REST API постов и пользователей.
type Handler struct {
	posts    PostsService
	users    UsersService
	validate *validator.Validate
	log      zerolog.Logger
}

// NewHandler создаёт обработчик.
func NewHandler(posts PostsService, users UsersService, logger zerolog.Logger) *Handler {
	return &Handler{posts: posts, users: users, validate: validator.New(), log: logger}
}

type postRequest struct {
	Text string `json:"text" validate:"required,max=255"`
}

// Routes регистрирует маршруты. users нужен для определения автора запроса.
func (h *Handler) Routes(r chi.Router, users httpinfra.UserLookup, limiter *httpinfra.RateLimiter) {
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		httpinfra.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api", func(api chi.Router) {
		if limiter != nil {
			api.Use(limiter.Middleware)
		}
		api.Use(httpinfra.Authenticate(users, h.log))

		api.Get("/posts", h.listPosts)
		api.Group(func(protected chi.Router) {
			protected.Use(httpinfra.RequireUser)
			protected.Post("/posts", h.createPost)
			protected.Put("/posts/{id}", h.updatePost)
			protected.Delete("/posts/{id}", h.deletePost)
			protected.Post("/admin/posts/{id}/moderate", h.reprocessPost)
			protected.Get("/admin/users", h.listUsers)
			protected.Delete("/admin/users/{id}", h.deleteUser)
		})
	})
}

func (h *Handler) listPosts(w http.ResponseWriter, r *http.Request) {
	var filter *int64
	if raw := r.URL.Query().Get("user_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			httpinfra.WriteError(w, http.StatusBadRequest, "user_id must be an integer")
			return
		}
		filter = &id
	}
	posts, err := h.posts.Feed(r.Context(), filter)
	if err != nil {
		h.fail(w, r, err, "не удалось получить ленту")
		return
	}
	httpinfra.WriteJSON(w, http.StatusOK, posts)
}

func (h *Handler) createPost(w http.ResponseWriter, r *http.Request) {
	user, _ := httpinfra.UserFromContext(r.Context())
	req, ok := h.decodePost(w, r)
	if !ok {
		return
	}
	post, err := h.posts.Create(r.Context(), user.ID, req.Text)
	if err != nil {
		h.fail(w, r, err, "не удалось создать пост")
		return
	}
	httpinfra.WriteJSON(w, http.StatusCreated, post)
}

func (h *Handler) updatePost(w http.ResponseWriter, r *http.Request) {
	user, _ := httpinfra.UserFromContext(r.Context())
	postID, ok := postIDParam(w, r)
	if !ok {
		return
	}
	req, ok := h.decodePost(w, r)
	if !ok {
		return
	}
	post, err := h.posts.Update(r.Context(), user.ID, postID, req.Text)
	if err != nil {
		h.fail(w, r, err, "не удалось обновить пост")
		return
	}
	httpinfra.WriteJSON(w, http.StatusOK, post)
}

func (h *Handler) deletePost(w http.ResponseWriter, r *http.Request) {
	user, _ := httpinfra.UserFromContext(r.Context())
	postID, ok := postIDParam(w, r)
	if !ok {
		return
	}
	if err := h.posts.Delete(r.Context(), user.ID, postID); err != nil {
		h.fail(w, r, err, "не удалось удалить пост")
		return
	}
	httpinfra.WriteJSON(w, http.StatusOK, map[string]string{"message": "post deleted"})
}

func (h *Handler) reprocessPost(w http.ResponseWriter, r *http.Request) {
	user, _ := httpinfra.UserFromContext(r.Context())
	postID, ok := postIDParam(w, r)
	if !ok {
		return
	}
	if err := h.posts.Reprocess(r.Context(), user, postID); err != nil {
		h.fail(w, r, err, "не удалось отправить пост на повторную модерацию")
		return
	}
	httpinfra.WriteJSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
}

func (h *Handler) listUsers(w http.ResponseWriter, r *http.Request) {
	actor, _ := httpinfra.UserFromContext(r.Context())
	users, err := h.users.List(r.Context(), actor)
	if err != nil {
		h.fail(w, r, err, "не удалось получить пользователей")
		return
	}
	httpinfra.WriteJSON(w, http.StatusOK, users)
}

func (h *Handler) deleteUser(w http.ResponseWriter, r *http.Request) {
	actor, _ := httpinfra.UserFromContext(r.Context())
	userID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || userID <= 0 {
		httpinfra.WriteError(w, http.StatusBadRequest, "invalid user id")
		return
	}
	err = h.users.Delete(r.Context(), actor, userID)
	switch {
	case errors.Is(err, domain.ErrUserNotFound):
		// здесь это цель удаления, а не автор запроса
		httpinfra.WriteError(w, http.StatusNotFound, "user not found")
	case err != nil:
		h.fail(w, r, err, "не удалось удалить пользователя")
	default:
		httpinfra.WriteJSON(w, http.StatusOK, map[string]string{"message": "user deleted"})
	}
}

func (h *Handler) decodePost(w http.ResponseWriter, r *http.Request) (postRequest, bool) {
	defer r.Body.Close()
	var req postRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpinfra.WriteError(w, http.StatusBadRequest, "invalid request body")
		return postRequest{}, false
	}
	if err := h.validate.Struct(req); err != nil {
		httpinfra.WriteError(w, http.StatusBadRequest, "text is required and must be at most 255 characters")
		return postRequest{}, false
	}
	return req, true
}

func postIDParam(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		httpinfra.WriteError(w, http.StatusBadRequest, "invalid post id")
		return 0, false
	}
	return id, true
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error, msg string) {
	switch {
	case errors.Is(err, domain.ErrEmptyText), errors.Is(err, domain.ErrTextTooLong):
		httpinfra.WriteError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrPostNotFound):
		httpinfra.WriteError(w, http.StatusNotFound, "post not found")
	case errors.Is(err, domain.ErrUserNotFound):
		httpinfra.WriteError(w, http.StatusUnauthorized, "unknown user")
	case errors.Is(err, domain.ErrForbidden):
		httpinfra.WriteError(w, http.StatusForbidden, "forbidden")
	case errors.Is(err, domain.ErrModerationUnavailable):
		h.log.Error().Err(err).Str("request_id", httpinfra.RequestID(r)).Msg("api: " + msg)
		httpinfra.WriteError(w, http.StatusServiceUnavailable, "moderation is unavailable, try again later")
	default:
		h.log.Error().Err(err).Str("request_id", httpinfra.RequestID(r)).Msg("api: " + msg)
		httpinfra.WriteError(w, http.StatusInternalServerError, "internal error")
	}
}
