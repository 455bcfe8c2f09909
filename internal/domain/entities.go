package domain

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

// MaxPostTextLength ограничивает длину текста поста в символах.
const MaxPostTextLength = 255

// Sentiment описывает результат модерации поста.
type Sentiment string

const (
	// SentimentUnset: пост ещё не обработан модерацией.
	SentimentUnset Sentiment = ""
	// SentimentAcceptable: текст допустим.
	SentimentAcceptable Sentiment = "acceptable"
	// SentimentFlagged: текст помечен как вредный.
	SentimentFlagged Sentiment = "flagged"
)

// ParseSentiment разбирает строковое значение тональности.
func ParseSentiment(raw string) (Sentiment, bool) {
	switch Sentiment(strings.ToLower(strings.TrimSpace(raw))) {
	case SentimentAcceptable:
		return SentimentAcceptable, true
	case SentimentFlagged:
		return SentimentFlagged, true
	}
	return SentimentUnset, false
}

// MarshalJSON отдаёт null для поста без вердикта.
func (s Sentiment) MarshalJSON() ([]byte, error) {
	if s == SentimentUnset {
		return []byte("null"), nil
	}
	return []byte(`"` + string(s) + `"`), nil
}

// UnmarshalJSON принимает null как отсутствие вердикта.
func (s *Sentiment) UnmarshalJSON(data []byte) error {
	raw := strings.TrimSpace(string(data))
	if raw == "null" || raw == `""` {
		*s = SentimentUnset
		return nil
	}
	parsed, ok := ParseSentiment(strings.Trim(raw, `"`))
	if !ok {
		return fmt.Errorf("unknown sentiment %s", raw)
	}
	*s = parsed
	return nil
}

// User описывает автора постов.
type User struct {
	ID        int64     `json:"id"`
	Username  string    `json:"username"`
	Role      UserRole  `json:"role"`
	CreatedAt time.Time `json:"createdAt"`
}

// Post представляет пост ленты вместе с именем автора.
type Post struct {
	ID         int64     `json:"id"`
	Text       string    `json:"text"`
	UserID     int64     `json:"userId"`
	Username   string    `json:"username"`
	Sentiment  Sentiment `json:"sentiment"`
	Correction *string   `json:"correction"`
	CreatedAt  time.Time `json:"createdAt"`
}

// Moderated сообщает, записан ли уже вердикт модерации.
func (p Post) Moderated() bool {
	return p.Sentiment != SentimentUnset
}

// ModerationResult: поля поста, которые пишет только воркер модерации.
type ModerationResult struct {
	Sentiment  Sentiment
	Correction *string
}

// Valid проверяет, что исправление есть только у помеченного поста.
func (r ModerationResult) Valid() bool {
	switch r.Sentiment {
	case SentimentAcceptable:
		return r.Correction == nil
	case SentimentFlagged:
		return true
	}
	return false
}

// NormalizePostText обрезает пробелы и проверяет ограничения на текст поста.
func NormalizePostText(text string) (string, error) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return "", ErrEmptyText
	}
	if utf8.RuneCountInString(trimmed) > MaxPostTextLength {
		return "", ErrTextTooLong
	}
	return trimmed, nil
}
