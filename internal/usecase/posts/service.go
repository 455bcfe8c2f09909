package posts

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"minitwitter/internal/domain"
)

// Enqueuer ставит первичные и повторные проверки постов.
type Enqueuer interface {
	domain.ModerationEnqueuer
	EnqueueReprocess(ctx context.Context, postID int64, text string) error
}

// Service реализует операции над постами поверх хранилища, очереди модерации и ленты.
type Service struct {
	store    domain.PostStore
	enqueuer Enqueuer
	feed     domain.FeedService
	log      zerolog.Logger
}

// NewService создаёт сервис постов.
func NewService(store domain.PostStore, enqueuer Enqueuer, feed domain.FeedService, logger zerolog.Logger) *Service {
	return &Service{store: store, enqueuer: enqueuer, feed: feed, log: logger}
}

// Create сохраняет пост и ставит его в очередь модерации.
// Если задачу поставить не удалось, пост удаляется и возвращается ErrModerationUnavailable:
// пост без задачи навсегда остался бы без вердикта.
func (s *Service) Create(ctx context.Context, userID int64, text string) (domain.Post, error) {
	text, err := domain.NormalizePostText(text)
	if err != nil {
		return domain.Post{}, err
	}
	post, err := s.store.CreatePost(ctx, userID, text)
	if err != nil {
		return domain.Post{}, fmt.Errorf("создание поста: %w", err)
	}

	if err := s.enqueuer.EnqueueModerationJob(ctx, post.ID, post.Text); err != nil {
		s.log.Error().Err(err).Int64("post_id", post.ID).Msg("posts: не удалось поставить пост в очередь модерации, удаляем")
		// запрос мог быть отменён, а удалить пост нужно всё равно
		if delErr := s.store.DeletePost(context.WithoutCancel(ctx), userID, post.ID); delErr != nil {
			s.log.Error().Err(delErr).Int64("post_id", post.ID).Msg("posts: не удалось удалить пост, его подберёт сверка")
		}
		s.feed.Invalidate(ctx)
		return domain.Post{}, fmt.Errorf("%w: %v", domain.ErrModerationUnavailable, err)
	}

	s.feed.Invalidate(ctx)
	return post, nil
}

// Update меняет только текст поста и ставит его на повторную проверку.
// Старый вердикт остаётся видимым, пока воркер не запишет новый.
func (s *Service) Update(ctx context.Context, userID, postID int64, text string) (domain.Post, error) {
	text, err := domain.NormalizePostText(text)
	if err != nil {
		return domain.Post{}, err
	}
	post, err := s.store.UpdatePostText(ctx, userID, postID, text)
	if err != nil {
		return domain.Post{}, wrapStoreErr("обновление поста", err)
	}
	s.feed.Invalidate(ctx)

	if err := s.enqueuer.EnqueueReprocess(ctx, post.ID, post.Text); err != nil {
		// правка уже сохранена, откатывать её нечем
		s.log.Error().Err(err).Int64("post_id", post.ID).Msg("posts: не удалось поставить изменённый пост на повторную проверку")
	}
	return post, nil
}

// Delete удаляет пост владельца.
func (s *Service) Delete(ctx context.Context, userID, postID int64) error {
	if err := s.store.DeletePost(ctx, userID, postID); err != nil {
		return wrapStoreErr("удаление поста", err)
	}
	s.feed.Invalidate(ctx)
	return nil
}

// Feed возвращает ленту, при необходимости только посты одного автора.
func (s *Service) Feed(ctx context.Context, userFilter *int64) ([]domain.Post, error) {
	return s.feed.GetFeed(ctx, userFilter)
}

// Reprocess ставит пост на повторную модерацию. Доступно только администратору.
func (s *Service) Reprocess(ctx context.Context, actor domain.User, postID int64) error {
	if !actor.Role.CanReprocess() {
		return domain.ErrForbidden
	}
	post, err := s.store.GetPost(ctx, postID)
	if err != nil {
		return wrapStoreErr("поиск поста", err)
	}
	if err := s.enqueuer.EnqueueReprocess(ctx, post.ID, post.Text); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrModerationUnavailable, err)
	}
	s.log.Info().Int64("post_id", post.ID).Int64("admin_id", actor.ID).Msg("posts: пост отправлен на повторную модерацию")
	return nil
}

func wrapStoreErr(op string, err error) error {
	if errors.Is(err, domain.ErrPostNotFound) {
		return err
	}
	return fmt.Errorf("%s: %w", op, err)
}
