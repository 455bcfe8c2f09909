package users

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"minitwitter/internal/domain"
)

// Service реализует администрирование пользователей.
type Service struct {
	repo domain.UserRepo
	feed domain.FeedService
	log  zerolog.Logger
}

// NewService создаёт сервис пользователей.
func NewService(repo domain.UserRepo, feed domain.FeedService, logger zerolog.Logger) *Service {
	return &Service{repo: repo, feed: feed, log: logger}
}

// List возвращает всех пользователей. Доступно только администратору.
func (s *Service) List(ctx context.Context, actor domain.User) ([]domain.User, error) {
	if !actor.Role.CanManageUsers() {
		return nil, domain.ErrForbidden
	}
	users, err := s.repo.ListUsers(ctx)
	if err != nil {
		return nil, fmt.Errorf("список пользователей: %w", err)
	}
	return users, nil
}

// Delete удаляет пользователя вместе с постами и сбрасывает кэш ленты.
func (s *Service) Delete(ctx context.Context, actor domain.User, userID int64) error {
	if !actor.Role.CanManageUsers() {
		return domain.ErrForbidden
	}
	if err := s.repo.DeleteUser(ctx, userID); err != nil {
		if errors.Is(err, domain.ErrUserNotFound) {
			return err
		}
		return fmt.Errorf("удаление пользователя: %w", err)
	}
	s.feed.Invalidate(ctx)
	s.log.Info().Int64("user_id", userID).Int64("admin_id", actor.ID).Msg("users: пользователь удалён")
	return nil
}
