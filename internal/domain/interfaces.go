package domain

import (
	"context"
	"time"
)

// PostStore: долговременное хранилище постов, единственный источник истины.
type PostStore interface {
	CreatePost(ctx context.Context, userID int64, text string) (Post, error)
	// UpdatePostText меняет только текст поста владельца.
	UpdatePostText(ctx context.Context, userID, postID int64, text string) (Post, error)
	DeletePost(ctx context.Context, userID, postID int64) error
	GetPost(ctx context.Context, postID int64) (Post, error)
	// ListFeed выполняет каноническую выборку ленты: посты с именами авторов,
	// новые первыми, при равном времени по убыванию id.
	ListFeed(ctx context.Context) ([]Post, error)
	// ApplyModeration пишет только sentiment/correction. Без reprocess обновляет
	// лишь ещё не проверенный пост. Возвращает false, если ни одна строка не изменилась.
	ApplyModeration(ctx context.Context, postID int64, result ModerationResult, reprocess bool) (bool, error)
	// ListUnmoderated возвращает посты без вердикта, созданные раньше olderThan.
	ListUnmoderated(ctx context.Context, olderThan time.Time, limit int) ([]Post, error)
}

// UserRepo управляет пользователями.
type UserRepo interface {
	GetUser(ctx context.Context, userID int64) (User, error)
	ListUsers(ctx context.Context) ([]User, error)
	// DeleteUser удаляет пользователя вместе с его постами.
	// Возвращает ErrUserNotFound, если удалять нечего.
	DeleteUser(ctx context.Context, userID int64) error
}

// FeedCache хранит сериализованный снимок ленты под одним ключом.
type FeedCache interface {
	// Get возвращает ErrCacheMiss, если снимка нет или его TTL истёк.
	Get(ctx context.Context) ([]byte, error)
	Set(ctx context.Context, snapshot []byte, ttl time.Duration) error
	Delete(ctx context.Context) error
}

// Classifier оценивает текст. Может быть медленным и ошибаться.
type Classifier interface {
	Classify(ctx context.Context, text string) (Verdict, error)
}

// FeedService отдаёт ленту и сбрасывает её кэш.
type FeedService interface {
	GetFeed(ctx context.Context, userFilter *int64) ([]Post, error)
	Invalidate(ctx context.Context)
}

// ModerationEnqueuer ставит пост в очередь модерации.
type ModerationEnqueuer interface {
	EnqueueModerationJob(ctx context.Context, postID int64, text string) error
}
