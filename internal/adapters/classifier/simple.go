package classifier

import (
	"context"
	"strings"

	"minitwitter/internal/domain"
)

var defaultBlocklist = []string{"kill", "bomb", "attack", "suicide", "weapon"}

// Simple реализует детерминированный классификатор по списку слов для локального запуска без LLM.
type Simple struct {
	blocklist []string
}

var _ domain.Classifier = (*Simple)(nil)

// NewSimple создаёт классификатор. Пустой список заменяется встроенным.
func NewSimple(blocklist []string) *Simple {
	if len(blocklist) == 0 {
		blocklist = defaultBlocklist
	}
	words := make([]string, 0, len(blocklist))
	for _, w := range blocklist {
		if w = strings.ToLower(strings.TrimSpace(w)); w != "" {
			words = append(words, w)
		}
	}
	return &Simple{blocklist: words}
}

// Classify помечает текст опасным, если в нём есть слово из списка, и маскирует эти слова.
func (s *Simple) Classify(ctx context.Context, text string) (domain.Verdict, error) {
	if err := ctx.Err(); err != nil {
		return domain.Verdict{}, err
	}
	fields := strings.Fields(text)
	hit := false
	for i, f := range fields {
		word := strings.ToLower(strings.Trim(f, ".,!?;:\"'()"))
		for _, blocked := range s.blocklist {
			if word == blocked {
				fields[i] = strings.Repeat("*", len([]rune(f)))
				hit = true
				break
			}
		}
	}
	if !hit {
		return domain.Verdict{Kind: domain.VerdictAcceptable}, nil
	}
	return domain.Verdict{Kind: domain.VerdictDangerous, Correction: strings.Join(fields, " ")}, nil
}
