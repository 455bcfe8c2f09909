package domain

import "strings"

// VerdictKind: решение классификатора о тексте.
type VerdictKind string

const (
	// VerdictAcceptable: текст безопасен.
	VerdictAcceptable VerdictKind = "acceptable"
	// VerdictDangerous: текст вредный или ошибочный.
	VerdictDangerous VerdictKind = "dangerous"
)

// Verdict содержит ответ классификатора.
type Verdict struct {
	Kind       VerdictKind
	Correction string
}

// ParseVerdictKind разбирает значение вердикта. Модели на базе Ollama отвечают "ok",
// поэтому оно считается синонимом acceptable.
func ParseVerdictKind(raw string) (VerdictKind, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "ok", "acceptable", "safe":
		return VerdictAcceptable, nil
	case "dangerous", "harmful", "flagged":
		return VerdictDangerous, nil
	}
	return "", ErrMalformedVerdict
}

// ToModeration переводит вердикт классификатора в поля поста.
// Для опасного текста без исправления подставляется fallbackCorrection.
func (v Verdict) ToModeration(fallbackCorrection string) ModerationResult {
	if v.Kind != VerdictDangerous {
		return ModerationResult{Sentiment: SentimentAcceptable}
	}
	correction := strings.TrimSpace(v.Correction)
	if correction == "" {
		correction = fallbackCorrection
	}
	return ModerationResult{Sentiment: SentimentFlagged, Correction: &correction}
}
