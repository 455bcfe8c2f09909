package moderation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"minitwitter/internal/domain"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func unmoderated(id int64, text string) domain.Post {
	return domain.Post{ID: id, Text: text, UserID: 1, Username: "alice", CreatedAt: time.Now().Add(-time.Hour)}
}

func newTestWorker(q *fakeQueue, store *fakeStore, c domain.Classifier, feed *fakeFeed) *Worker {
	return NewWorker(q, store, c, feed, Config{MaxDeliveries: 3}, zerolog.Nop())
}

func TestWorkerAcceptableVerdict(t *testing.T) {
	q := newFakeQueue()
	store := newFakeStore(unmoderated(42, "hello world"))
	feed := &fakeFeed{}
	w := newTestWorker(q, store, &fakeClassifier{verdict: domain.Verdict{Kind: domain.VerdictAcceptable}}, feed)

	w.process(context.Background(), domain.NewModerationJob("j1", 42, "hello world", false), q.ack)

	post, err := store.GetPost(context.Background(), 42)
	require.NoError(t, err)
	assert.Equal(t, domain.SentimentAcceptable, post.Sentiment)
	assert.Nil(t, post.Correction)
	assert.Equal(t, 1, feed.Invalidated(), "кэш ленты должен сбрасываться после записи вердикта")
	assert.Equal(t, []bool{true}, q.Acked())
}

func TestWorkerDangerousVerdict(t *testing.T) {
	q := newFakeQueue()
	store := newFakeStore(unmoderated(7, "something bad"))
	feed := &fakeFeed{}
	c := &fakeClassifier{verdict: domain.Verdict{Kind: domain.VerdictDangerous, Correction: "rewritten text"}}
	w := newTestWorker(q, store, c, feed)

	w.process(context.Background(), domain.NewModerationJob("j1", 7, "something bad", false), q.ack)

	post, _ := store.GetPost(context.Background(), 7)
	assert.Equal(t, domain.SentimentFlagged, post.Sentiment)
	require.NotNil(t, post.Correction)
	assert.Equal(t, "rewritten text", *post.Correction)
}

func TestWorkerDangerousWithoutCorrectionUsesFallbackText(t *testing.T) {
	q := newFakeQueue()
	store := newFakeStore(unmoderated(7, "something bad"))
	w := NewWorker(q, store, &fakeClassifier{verdict: domain.Verdict{Kind: domain.VerdictDangerous}}, &fakeFeed{},
		Config{FallbackCorrection: "hidden"}, zerolog.Nop())

	w.process(context.Background(), domain.NewModerationJob("j1", 7, "something bad", false), q.ack)

	post, _ := store.GetPost(context.Background(), 7)
	require.NotNil(t, post.Correction)
	assert.Equal(t, "hidden", *post.Correction)
}

func TestWorkerRedeliveryIsIdempotent(t *testing.T) {
	q := newFakeQueue()
	store := newFakeStore(unmoderated(42, "hello world"))
	feed := &fakeFeed{}
	c := &fakeClassifier{verdict: domain.Verdict{Kind: domain.VerdictDangerous, Correction: "first"}}
	w := newTestWorker(q, store, c, feed)
	job := domain.NewModerationJob("j1", 42, "hello world", false)

	w.process(context.Background(), job, q.ack)
	c.mu.Lock()
	c.verdict = domain.Verdict{Kind: domain.VerdictAcceptable}
	c.mu.Unlock()
	w.process(context.Background(), job, q.ack)

	post, _ := store.GetPost(context.Background(), 42)
	assert.Equal(t, domain.SentimentFlagged, post.Sentiment, "повторная доставка не должна менять вердикт")
	require.NotNil(t, post.Correction)
	assert.Equal(t, "first", *post.Correction)
	assert.Equal(t, 1, store.applied)
	assert.Equal(t, 1, c.Calls(), "повторная доставка не должна звать классификатор")
	assert.Equal(t, 1, feed.Invalidated())
	assert.Equal(t, []bool{true, true}, q.Acked())
}

func TestWorkerReprocessOverwritesVerdict(t *testing.T) {
	q := newFakeQueue()
	post := unmoderated(42, "hello world")
	post.Sentiment = domain.SentimentAcceptable
	store := newFakeStore(post)
	c := &fakeClassifier{verdict: domain.Verdict{Kind: domain.VerdictDangerous, Correction: "fixed"}}
	w := newTestWorker(q, store, c, &fakeFeed{})

	w.process(context.Background(), domain.NewModerationJob("j2", 42, "hello world", true), q.ack)

	got, _ := store.GetPost(context.Background(), 42)
	assert.Equal(t, domain.SentimentFlagged, got.Sentiment)
}

func TestWorkerReprocessKeepsVerdictWhenClassifierDown(t *testing.T) {
	q := newFakeQueue()
	post := unmoderated(42, "something bad")
	post.Sentiment = domain.SentimentFlagged
	correction := "rewritten"
	post.Correction = &correction
	store := newFakeStore(post)
	feed := &fakeFeed{}
	w := newTestWorker(q, store, &fakeClassifier{err: errors.New("connection refused")}, feed)

	job := domain.NewModerationJob("r1", 42, "something bad", true)
	w.process(context.Background(), job, q.ack)
	require.Equal(t, []bool{false}, q.Acked(), "повторную проверку нужно вернуть в очередь")

	job.Attempt = 3
	w.process(context.Background(), job, q.ack)
	assert.Equal(t, []bool{false, true}, q.Acked())
	require.Len(t, q.dead, 1)
	assert.Contains(t, q.reasons[0], "connection refused")

	got, _ := store.GetPost(context.Background(), 42)
	assert.Equal(t, domain.SentimentFlagged, got.Sentiment, "вердикт по умолчанию не должен затирать записанный")
	require.NotNil(t, got.Correction)
	assert.Equal(t, "rewritten", *got.Correction)
	assert.Zero(t, store.applied)
	assert.Zero(t, feed.Invalidated())
}

func TestWorkerSkipsClassifierForModeratedPost(t *testing.T) {
	q := newFakeQueue()
	post := unmoderated(42, "hello world")
	post.Sentiment = domain.SentimentAcceptable
	store := newFakeStore(post)
	c := &fakeClassifier{verdict: domain.Verdict{Kind: domain.VerdictDangerous, Correction: "x"}}
	w := newTestWorker(q, store, c, &fakeFeed{})

	w.process(context.Background(), domain.NewModerationJob("j1", 42, "hello world", false), q.ack)

	assert.Zero(t, c.Calls(), "проверенный пост не нужно отдавать классификатору")
	assert.Equal(t, []bool{true}, q.Acked())
	got, _ := store.GetPost(context.Background(), 42)
	assert.Equal(t, domain.SentimentAcceptable, got.Sentiment)
}

func TestWorkerClassifiesCurrentText(t *testing.T) {
	q := newFakeQueue()
	post := unmoderated(42, "edited text")
	post.Sentiment = domain.SentimentAcceptable
	store := newFakeStore(post)
	c := &fakeClassifier{verdict: domain.Verdict{Kind: domain.VerdictDangerous, Correction: "fixed"}}
	w := newTestWorker(q, store, c, &fakeFeed{})

	w.process(context.Background(), domain.NewModerationJob("r1", 42, "old text", true), q.ack)

	assert.Equal(t, []string{"edited text"}, c.texts, "после правки проверяется текущий текст поста")
	got, _ := store.GetPost(context.Background(), 42)
	assert.Equal(t, domain.SentimentFlagged, got.Sentiment)
}

func TestWorkerDeletedPostIsNoop(t *testing.T) {
	q := newFakeQueue()
	store := newFakeStore()
	feed := &fakeFeed{}
	c := &fakeClassifier{verdict: domain.Verdict{Kind: domain.VerdictAcceptable}}
	w := newTestWorker(q, store, c, feed)

	w.process(context.Background(), domain.NewModerationJob("j1", 99, "gone", false), q.ack)

	assert.Equal(t, []bool{true}, q.Acked(), "задачу удалённого поста нужно подтвердить без повтора")
	assert.Zero(t, c.Calls(), "удалённый пост не нужно отдавать классификатору")
	assert.Zero(t, feed.Invalidated())
	assert.Empty(t, q.dead)
}

func TestWorkerFallbackWhenClassifierTimesOut(t *testing.T) {
	q := newFakeQueue()
	store := newFakeStore(unmoderated(42, "hello world"))
	inner := &fakeClassifier{block: true}
	retrying := NewRetryingClassifier(inner, RetryPolicy{
		MaxAttempts:     3,
		Timeout:         10 * time.Millisecond,
		InitialInterval: time.Millisecond,
		MaxInterval:     2 * time.Millisecond,
	}, zerolog.Nop())
	w := newTestWorker(q, store, retrying, &fakeFeed{})

	w.process(context.Background(), domain.NewModerationJob("j1", 42, "hello world", false), q.ack)

	post, _ := store.GetPost(context.Background(), 42)
	assert.Equal(t, domain.SentimentAcceptable, post.Sentiment, "после исчерпания попыток пост получает вердикт по умолчанию")
	assert.Equal(t, 3, inner.Calls())
	assert.Equal(t, []bool{true}, q.Acked())
}

func TestWorkerFlaggedFallback(t *testing.T) {
	q := newFakeQueue()
	store := newFakeStore(unmoderated(42, "hello world"))
	w := NewWorker(q, store, &fakeClassifier{err: domain.ErrMalformedVerdict}, &fakeFeed{},
		Config{FallbackSentiment: domain.SentimentFlagged, FallbackCorrection: "pending review"}, zerolog.Nop())

	w.process(context.Background(), domain.NewModerationJob("j1", 42, "hello world", false), q.ack)

	post, _ := store.GetPost(context.Background(), 42)
	assert.Equal(t, domain.SentimentFlagged, post.Sentiment)
	require.NotNil(t, post.Correction)
	assert.Equal(t, "pending review", *post.Correction)
}

func TestWorkerStoreFailureRetriesThenDeadLetters(t *testing.T) {
	q := newFakeQueue()
	store := newFakeStore(unmoderated(42, "hello world"))
	store.applyErr = errors.New("connection reset")
	w := newTestWorker(q, store, &fakeClassifier{verdict: domain.Verdict{Kind: domain.VerdictAcceptable}}, &fakeFeed{})

	job := domain.NewModerationJob("j1", 42, "hello world", false)
	w.process(context.Background(), job, q.ack)
	require.Equal(t, []bool{false}, q.Acked(), "ошибка записи должна вернуть задачу в очередь")
	require.Empty(t, q.dead)

	job.Attempt = 3
	w.process(context.Background(), job, q.ack)
	assert.Equal(t, []bool{false, true}, q.Acked())
	require.Len(t, q.dead, 1)
	assert.Contains(t, q.reasons[0], "connection reset")
}

func TestWorkerInvalidJobIsDeadLettered(t *testing.T) {
	q := newFakeQueue()
	c := &fakeClassifier{}
	w := newTestWorker(q, newFakeStore(), c, &fakeFeed{})

	job := domain.NewModerationJob("j1", 42, "hello", false)
	job.Version = 99
	w.process(context.Background(), job, q.ack)

	require.Len(t, q.dead, 1)
	assert.Equal(t, []bool{true}, q.Acked())
	assert.Zero(t, c.Calls(), "неизвестную версию нельзя отдавать классификатору")
}

func TestWorkerInterruptedJobIsRequeued(t *testing.T) {
	q := newFakeQueue()
	store := newFakeStore(unmoderated(42, "hello world"))
	w := newTestWorker(q, store, &fakeClassifier{block: true}, &fakeFeed{})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	w.process(ctx, domain.NewModerationJob("j1", 42, "hello world", false), q.ack)

	post, _ := store.GetPost(context.Background(), 42)
	assert.Equal(t, domain.SentimentUnset, post.Sentiment, "при остановке вердикт по умолчанию не пишется")
	assert.Equal(t, []bool{false}, q.Acked())
}

func TestWorkerRunDiscardsUndecodableAndStops(t *testing.T) {
	q := newFakeQueue()
	store := newFakeStore(unmoderated(42, "hello world"))
	w := newTestWorker(q, store, &fakeClassifier{verdict: domain.Verdict{Kind: domain.VerdictAcceptable}}, &fakeFeed{})

	discarded := make(chan struct{}, 1)
	q.deliveries <- delivery{err: &domain.UndecodableJobError{
		Payload: []byte("{"),
		Err:     errors.New("unexpected end of JSON input"),
		Discard: func() error { discarded <- struct{}{}; return nil },
	}}
	q.deliveries <- delivery{job: domain.NewModerationJob("j1", 42, "hello world", false)}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	require.Eventually(t, func() bool { return len(q.Acked()) == 1 }, time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	select {
	case <-discarded:
	default:
		t.Fatalf("неразборчивая задача не была убрана из очереди")
	}
	post, _ := store.GetPost(context.Background(), 42)
	assert.Equal(t, domain.SentimentAcceptable, post.Sentiment)
}

func TestPoolProcessesAllJobs(t *testing.T) {
	q := newFakeQueue()
	store := newFakeStore(unmoderated(1, "a"), unmoderated(2, "b"), unmoderated(3, "c"))
	feed := &fakeFeed{}
	c := &fakeClassifier{verdict: domain.Verdict{Kind: domain.VerdictAcceptable}}
	pool := NewPool(3, func(int) *Worker { return newTestWorker(q, store, c, feed) })

	for id, text := range map[int64]string{1: "a", 2: "b", 3: "c"} {
		q.deliveries <- delivery{job: domain.NewModerationJob("job", id, text, false)}
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- pool.Run(ctx) }()

	require.Eventually(t, func() bool { return feed.Invalidated() == 3 }, time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	for _, id := range []int64{1, 2, 3} {
		post, _ := store.GetPost(context.Background(), id)
		assert.Equal(t, domain.SentimentAcceptable, post.Sentiment)
	}
}
