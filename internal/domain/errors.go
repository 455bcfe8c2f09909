package domain

import "errors"

var (
	// ErrPostNotFound возвращается, если пост не существует или принадлежит другому пользователю.
	ErrPostNotFound = errors.New("post not found")
	// ErrUserNotFound возвращается, если пользователь не найден.
	ErrUserNotFound = errors.New("user not found")
	// ErrEmptyText возвращается для пустого текста поста.
	ErrEmptyText = errors.New("post text is empty")
	// ErrTextTooLong возвращается, если текст длиннее MaxPostTextLength.
	ErrTextTooLong = errors.New("post text is too long")
	// ErrCacheMiss означает отсутствие или истечение снимка ленты.
	ErrCacheMiss = errors.New("cache miss")
	// ErrMalformedVerdict возвращается, если ответ классификатора не удалось разобрать.
	ErrMalformedVerdict = errors.New("malformed classifier verdict")
	// ErrUnsupportedJob возвращается для задач неизвестного типа или версии.
	ErrUnsupportedJob = errors.New("unsupported job payload")
)

var (
	// ErrForbidden возвращается, если у пользователя нет прав на операцию.
	ErrForbidden = errors.New("forbidden")
	// ErrModerationUnavailable возвращается, если пост не удалось поставить в очередь модерации.
	ErrModerationUnavailable = errors.New("moderation queue unavailable")
)
