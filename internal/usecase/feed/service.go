package feed

import (
	"context"
	"errors"
	"fmt"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/rs/zerolog"
	"github.com/samber/lo"

	"minitwitter/internal/domain"
	"minitwitter/internal/infra/metrics"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const defaultTTL = 60 * time.Second

// Service отдаёт ленту через read-through кэш. Кэш только ускоряет чтение:
// любая его ошибка сводится к чтению из хранилища.
//
// Вся лента кэшируется одним снимком, поэтому сброс сводится к одному безусловному
// удалению ключа. Параллельные сбросы коммутативны и не требуют блокировок.
// Последний записанный снимок побеждает, устаревание ограничено TTL.
type Service struct {
	store domain.PostStore
	cache domain.FeedCache
	ttl   time.Duration
	log   zerolog.Logger
}

var _ domain.FeedService = (*Service)(nil)

// NewService создаёт сервис ленты. cache == nil отключает кэширование.
func NewService(store domain.PostStore, cache domain.FeedCache, ttl time.Duration, logger zerolog.Logger) *Service {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &Service{store: store, cache: cache, ttl: ttl, log: logger}
}

// GetFeed возвращает ленту. При userFilter != nil остаются только посты этого пользователя.
func (s *Service) GetFeed(ctx context.Context, userFilter *int64) ([]domain.Post, error) {
	if s.cache == nil {
		metrics.IncFeedCache("disabled")
		posts, err := s.store.ListFeed(ctx)
		if err != nil {
			return nil, fmt.Errorf("получение ленты: %w", err)
		}
		return filterByUser(posts, userFilter), nil
	}

	if posts, ok := s.readCache(ctx); ok {
		return filterByUser(posts, userFilter), nil
	}

	posts, err := s.store.ListFeed(ctx)
	if err != nil {
		return nil, fmt.Errorf("получение ленты: %w", err)
	}
	s.writeCache(ctx, posts)
	return filterByUser(posts, userFilter), nil
}

// Invalidate удаляет снимок ленты. Ошибка кэша не возвращается: снимок
// в худшем случае доживёт до истечения TTL.
func (s *Service) Invalidate(ctx context.Context) {
	if s.cache == nil {
		return
	}
	err := s.cache.Delete(ctx)
	metrics.IncFeedInvalidation(err)
	if err != nil {
		s.log.Warn().Err(err).Msg("feed: не удалось сбросить кэш ленты")
		return
	}
	s.log.Debug().Msg("feed: кэш ленты сброшен")
}

func (s *Service) readCache(ctx context.Context) ([]domain.Post, bool) {
	data, err := s.cache.Get(ctx)
	if err != nil {
		if errors.Is(err, domain.ErrCacheMiss) {
			metrics.IncFeedCache("miss")
			s.log.Debug().Msg("feed: снимок ленты не найден в кэше")
		} else {
			metrics.IncFeedCache("error")
			s.log.Warn().Err(err).Msg("feed: кэш недоступен, читаем из БД")
		}
		return nil, false
	}
	var posts []domain.Post
	if err := json.Unmarshal(data, &posts); err != nil {
		metrics.IncFeedCache("error")
		s.log.Warn().Err(err).Msg("feed: повреждённый снимок ленты, читаем из БД")
		return nil, false
	}
	metrics.IncFeedCache("hit")
	return posts, true
}

func (s *Service) writeCache(ctx context.Context, posts []domain.Post) {
	data, err := json.Marshal(posts)
	if err != nil {
		s.log.Warn().Err(err).Msg("feed: не удалось сериализовать ленту")
		return
	}
	if err := s.cache.Set(ctx, data, s.ttl); err != nil {
		s.log.Warn().Err(err).Msg("feed: не удалось сохранить ленту в кэш")
	}
}

func filterByUser(posts []domain.Post, userFilter *int64) []domain.Post {
	if userFilter == nil {
		return posts
	}
	return lo.Filter(posts, func(p domain.Post, _ int) bool {
		return p.UserID == *userFilter
	})
}
