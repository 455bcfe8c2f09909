package domain

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func TestParseVerdictKind(t *testing.T) {
	tests := []struct {
		raw     string
		want    VerdictKind
		wantErr bool
	}{
		{raw: "ok", want: VerdictAcceptable},
		{raw: "acceptable", want: VerdictAcceptable},
		{raw: " Dangerous ", want: VerdictDangerous},
		{raw: "", wantErr: true},
		{raw: "maybe", wantErr: true},
	}
	for _, tt := range tests {
		got, err := ParseVerdictKind(tt.raw)
		if tt.wantErr {
			if !errors.Is(err, ErrMalformedVerdict) {
				t.Fatalf("ParseVerdictKind(%q): ожидали ErrMalformedVerdict, получили %v", tt.raw, err)
			}
			continue
		}
		if err != nil {
			t.Fatalf("ParseVerdictKind(%q): не ожидали ошибку: %v", tt.raw, err)
		}
		if got != tt.want {
			t.Fatalf("ParseVerdictKind(%q) = %v, want %v", tt.raw, got, tt.want)
		}
	}
}

func TestVerdictToModeration(t *testing.T) {
	res := Verdict{Kind: VerdictAcceptable, Correction: "ignored"}.ToModeration("fallback")
	if res.Sentiment != SentimentAcceptable || res.Correction != nil {
		t.Fatalf("acceptable не должен нести исправление: %+v", res)
	}

	res = Verdict{Kind: VerdictDangerous, Correction: "rewritten text"}.ToModeration("fallback")
	if res.Sentiment != SentimentFlagged || res.Correction == nil || *res.Correction != "rewritten text" {
		t.Fatalf("ожидали flagged с исправлением классификатора: %+v", res)
	}

	res = Verdict{Kind: VerdictDangerous}.ToModeration("fallback")
	if res.Correction == nil || *res.Correction != "fallback" {
		t.Fatalf("ожидали резервное исправление: %+v", res)
	}
	if !res.Valid() {
		t.Fatalf("результат должен быть валидным")
	}
}

func TestModerationJobValidate(t *testing.T) {
	job := NewModerationJob("id", 42, "hello world", false)
	if err := job.Validate(); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}

	bad := job
	bad.Kind = "digest"
	if err := bad.Validate(); !errors.Is(err, ErrUnsupportedJob) {
		t.Fatalf("ожидали ErrUnsupportedJob для чужого типа, получили %v", err)
	}

	bad = job
	bad.Version = 2
	if err := bad.Validate(); !errors.Is(err, ErrUnsupportedJob) {
		t.Fatalf("ожидали ErrUnsupportedJob для новой версии, получили %v", err)
	}

	bad = job
	bad.PostID = 0
	if err := bad.Validate(); err == nil {
		t.Fatalf("ожидали ошибку без postId")
	}

	if next := job.NextAttempt(); next.Attempt != 2 || job.Attempt != 1 {
		t.Fatalf("NextAttempt должен увеличивать копию: %d/%d", job.Attempt, next.Attempt)
	}
}

func TestModerationJobWireFormat(t *testing.T) {
	raw, err := json.Marshal(NewModerationJob("id", 42, "hello world", false))
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	for _, field := range []string{`"postId":42`, `"text":"hello world"`, `"kind":"moderation"`, `"version":1`} {
		if !strings.Contains(string(raw), field) {
			t.Fatalf("ожидали поле %s в %s", field, raw)
		}
	}
}

func TestSentimentJSON(t *testing.T) {
	raw, err := json.Marshal(Post{ID: 42, Text: "hello world"})
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if !strings.Contains(string(raw), `"sentiment":null`) || !strings.Contains(string(raw), `"correction":null`) {
		t.Fatalf("непроверенный пост должен отдавать null: %s", raw)
	}

	var decoded Post
	if err := json.Unmarshal([]byte(`{"id":1,"sentiment":"flagged","correction":"x"}`), &decoded); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if decoded.Sentiment != SentimentFlagged {
		t.Fatalf("ожидали flagged, получили %q", decoded.Sentiment)
	}
}

func TestNormalizePostText(t *testing.T) {
	if _, err := NormalizePostText("   "); !errors.Is(err, ErrEmptyText) {
		t.Fatalf("ожидали ErrEmptyText, получили %v", err)
	}
	if _, err := NormalizePostText(strings.Repeat("я", MaxPostTextLength+1)); !errors.Is(err, ErrTextTooLong) {
		t.Fatalf("ожидали ErrTextTooLong, получили %v", err)
	}
	text, err := NormalizePostText("  hello  ")
	if err != nil || text != "hello" {
		t.Fatalf("ожидали обрезанный текст, получили %q, %v", text, err)
	}
}
